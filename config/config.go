// Package config 读取 udsdiag 的 YAML 配置并转换为连接、刷写选项
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LoveWonYoung/udsdiag/diag"
	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/LoveWonYoung/udsdiag/driver"
	"github.com/LoveWonYoung/udsdiag/flash"
	"github.com/LoveWonYoung/udsdiag/seedkey"
	"github.com/LoveWonYoung/udsdiag/tp"
	"github.com/LoveWonYoung/udsdiag/udsclient"
)

// Config 顶层配置
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	ISOTP      ISOTPConfig      `yaml:"isotp"`
	UDS        UDSConfig        `yaml:"uds"`
	Security   SecurityConfig   `yaml:"security"`
	Flash      FlashConfig      `yaml:"flash"`
	Log        LogConfig        `yaml:"log"`
}

// ConnectionConfig 后端和CAN寻址
type ConnectionConfig struct {
	// Descriptor 形如 "sim:", "socketcan:can0", "slcan:/dev/ttyACM0@115200"
	Descriptor string `yaml:"descriptor"`
	CanFD      bool   `yaml:"can_fd"`
	Bitrate    int    `yaml:"bitrate"`
	Trace      bool   `yaml:"trace"`

	// Addressing: normal11, normal29, normal_fixed29, extended11, extended29, mixed11, mixed29
	Addressing       string `yaml:"addressing"`
	TxID             uint32 `yaml:"tx_id"`
	RxID             uint32 `yaml:"rx_id"`
	FunctionalID     uint32 `yaml:"functional_id"`
	TargetAddress    uint8  `yaml:"target_address"`
	SourceAddress    uint8  `yaml:"source_address"`
	AddressExtension uint8  `yaml:"address_extension"`
}

// ISOTPConfig 传输层参数，未填写的时间沿用 ISO 15765-2 默认值
type ISOTPConfig struct {
	// Padding 为空表示不填充
	Padding         *uint8        `yaml:"padding,omitempty"`
	BlockSize       int           `yaml:"block_size"`
	StMin           time.Duration `yaml:"stmin"`
	TimeoutNBs      time.Duration `yaml:"timeout_n_bs"`
	TimeoutNCr      time.Duration `yaml:"timeout_n_cr"`
	MaxWaitFrame    int           `yaml:"max_wait_frame"`
	TxDataMinLength int           `yaml:"tx_data_min_length"`
	MaxFrameSize    int           `yaml:"max_frame_size"`
}

// UDSConfig 应用层时序与安全策略
type UDSConfig struct {
	P2                 time.Duration `yaml:"p2"`
	P2Star             time.Duration `yaml:"p2_star"`
	S3                 time.Duration `yaml:"s3"`
	MaxResponsePending int           `yaml:"max_response_pending"`
	BusyRetries        int           `yaml:"busy_retries"`
	ReadRetries        uint          `yaml:"read_retries"`
	KeepAlive          bool          `yaml:"keepalive"`
	KeepAliveInterval  time.Duration `yaml:"keepalive_interval"`
	MaxKeyAttempts     int           `yaml:"max_key_attempts"`
	Cooldown           time.Duration `yaml:"cooldown"`
	AddressBytes       int           `yaml:"address_bytes"`
	SizeBytes          int           `yaml:"size_bytes"`
}

// SecurityConfig 各安全等级的密钥
type SecurityConfig struct {
	Levels []LevelConfig `yaml:"levels"`
}

// LevelConfig 单个等级。KeyLength 为 0 时密钥与种子等长。MaxAttempts 和 Cooldown 为 0 时使用 uds 段的全局值。
type LevelConfig struct {
	Level       uint8         `yaml:"level"`
	SecretHex   string        `yaml:"secret_hex"`
	KeyLength   int           `yaml:"key_length"`
	MaxAttempts int           `yaml:"max_attempts"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// FlashConfig 刷写流程
type FlashConfig struct {
	SecurityLevel uint8 `yaml:"security_level"`
	// Method: download | write_memory
	Method string `yaml:"method"`
	// Verify: readback | checksum | none
	Verify       string        `yaml:"verify"`
	BlockSize    int           `yaml:"block_size"`
	EraseRoutine uint16        `yaml:"erase_routine"`
	CheckRoutine uint16        `yaml:"check_routine"`
	SkipErase    bool          `yaml:"skip_erase"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	// MaxImageSize 镜像展开后的最大字节数
	MaxImageSize int `yaml:"max_image_size"`
}

// LogConfig 日志文件。Dir 为空时输出到 stderr。
type LogConfig struct {
	Dir    string        `yaml:"dir"`
	Name   string        `yaml:"name"`
	Rotate time.Duration `yaml:"rotate"`
}

var addressingModes = map[string]tp.AddressingMode{
	"normal11":       tp.Normal11Bit,
	"normal29":       tp.Normal29Bit,
	"normal_fixed29": tp.NormalFixed29Bit,
	"extended11":     tp.Extended11Bit,
	"extended29":     tp.Extended29Bit,
	"mixed11":        tp.Mixed11Bit,
	"mixed29":        tp.Mixed29Bit,
}

var flashMethods = map[string]flash.Method{
	"download":     flash.MethodDownload,
	"write_memory": flash.MethodWriteMemory,
}

var verifyModes = map[string]flash.VerifyMode{
	"readback": flash.VerifyReadBack,
	"checksum": flash.VerifyECUChecksum,
	"none":     flash.VerifyNone,
}

// Default 返回一份连接模拟ECU的完整配置
func Default() *Config {
	cfg := &Config{
		Connection: ConnectionConfig{Descriptor: "sim:"},
		Security: SecurityConfig{Levels: []LevelConfig{
			{Level: 0x01, SecretHex: fmt.Sprintf("%X", driver.SimSecret), KeyLength: 4},
		}},
		Flash: FlashConfig{SecurityLevel: 0x01},
	}
	cfg.applyDefaults()
	return cfg
}

// Load 读取并校验配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse 解析 YAML 文本，填充默认值后校验
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, diagerr.InvalidArgument("parse config", "%v", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal 输出 YAML，用于生成配置模板
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) applyDefaults() {
	conn := &c.Connection
	if conn.Descriptor == "" {
		conn.Descriptor = "sim:"
	}
	if conn.Addressing == "" {
		conn.Addressing = "normal11"
	}
	if conn.TxID == 0 && conn.RxID == 0 {
		conn.TxID, conn.RxID = 0x7E0, 0x7E8
		if conn.FunctionalID == 0 {
			conn.FunctionalID = 0x7DF
		}
	}

	d := tp.DefaultConfig()
	iso := &c.ISOTP
	if iso.TimeoutNBs == 0 {
		iso.TimeoutNBs = d.TimeoutN_Bs
	}
	if iso.TimeoutNCr == 0 {
		iso.TimeoutNCr = d.TimeoutN_Cr
	}
	if iso.MaxWaitFrame == 0 {
		iso.MaxWaitFrame = d.MaxWaitFrame
	}
	if iso.MaxFrameSize == 0 {
		iso.MaxFrameSize = d.MaxFrameSize
	}

	u := udsclient.DefaultOptions()
	uds := &c.UDS
	if uds.P2 == 0 {
		uds.P2 = u.P2
	}
	if uds.P2Star == 0 {
		uds.P2Star = u.P2Star
	}
	if uds.S3 == 0 {
		uds.S3 = u.S3
	}
	if uds.MaxResponsePending == 0 {
		uds.MaxResponsePending = u.MaxResponsePending
	}
	if uds.BusyRetries == 0 {
		uds.BusyRetries = u.BusyRetries
	}
	if uds.ReadRetries == 0 {
		uds.ReadRetries = u.ReadRetries
	}
	if uds.KeepAliveInterval == 0 {
		uds.KeepAliveInterval = u.KeepAliveInterval
	}
	if uds.MaxKeyAttempts == 0 {
		uds.MaxKeyAttempts = u.MaxKeyAttempts
	}
	if uds.Cooldown == 0 {
		uds.Cooldown = u.Cooldown
	}
	if uds.AddressBytes == 0 {
		uds.AddressBytes = u.MemoryFormat.AddressBytes
	}
	if uds.SizeBytes == 0 {
		uds.SizeBytes = u.MemoryFormat.SizeBytes
	}

	if c.Flash.Method == "" {
		c.Flash.Method = "download"
	}
	if c.Flash.Verify == "" {
		c.Flash.Verify = "readback"
	}
	if c.Flash.EraseRoutine == 0 {
		c.Flash.EraseRoutine = flash.DefaultEraseRoutine
	}
	if c.Flash.CheckRoutine == 0 {
		c.Flash.CheckRoutine = flash.DefaultCheckRoutine
	}
	if c.Flash.MaxImageSize == 0 {
		c.Flash.MaxImageSize = flash.DefaultMaxImageSize
	}

	if c.Log.Name == "" {
		c.Log.Name = "udsdiag_"
	}
}

// Validate 检查各字段范围
func (c *Config) Validate() error {
	const op = "config"
	if _, err := driver.ParseDescriptor(c.Connection.Descriptor); err != nil {
		return err
	}
	if c.Connection.Bitrate < 0 {
		return diagerr.InvalidArgument(op, "connection.bitrate must not be negative")
	}
	if _, err := c.address(); err != nil {
		return err
	}
	if _, err := c.isotp(); err != nil {
		return err
	}

	uds := c.UDS
	for name, d := range map[string]time.Duration{
		"uds.p2": uds.P2, "uds.p2_star": uds.P2Star, "uds.s3": uds.S3,
		"uds.keepalive_interval": uds.KeepAliveInterval, "uds.cooldown": uds.Cooldown,
	} {
		if d < 0 {
			return diagerr.InvalidArgument(op, "%s must not be negative", name)
		}
	}
	if uds.P2Star < uds.P2 {
		return diagerr.InvalidArgument(op, "uds.p2_star (%v) must not be shorter than uds.p2 (%v)", uds.P2Star, uds.P2)
	}
	if uds.KeepAlive && uds.KeepAliveInterval >= uds.S3 {
		return diagerr.InvalidArgument(op, "uds.keepalive_interval (%v) must be shorter than uds.s3 (%v)", uds.KeepAliveInterval, uds.S3)
	}
	if uds.MaxKeyAttempts < 1 {
		return diagerr.InvalidArgument(op, "uds.max_key_attempts must be at least 1")
	}
	if err := c.memoryFormat().Validate(); err != nil {
		return err
	}

	seen := make(map[uint8]bool)
	for i, l := range c.Security.Levels {
		if l.Level == 0 || l.Level%2 == 0 || l.Level > 0x7D {
			return diagerr.InvalidArgument(op, "security.levels[%d]: level 0x%02X must be an odd request-seed value", i, l.Level)
		}
		if seen[l.Level] {
			return diagerr.InvalidArgument(op, "security.levels[%d]: level 0x%02X listed twice", i, l.Level)
		}
		seen[l.Level] = true
		if _, err := seedkey.ParseSecret(l.SecretHex); err != nil {
			return fmt.Errorf("security.levels[%d]: %w", i, err)
		}
		if l.KeyLength < 0 || l.KeyLength > 16 {
			return diagerr.InvalidArgument(op, "security.levels[%d]: key_length must be 0..16", i)
		}
		if l.MaxAttempts < 0 || l.Cooldown < 0 {
			return diagerr.InvalidArgument(op, "security.levels[%d]: max_attempts and cooldown must not be negative", i)
		}
	}

	f := c.Flash
	if _, ok := flashMethods[f.Method]; !ok {
		return diagerr.InvalidArgument(op, "flash.method %q: want download or write_memory", f.Method)
	}
	if _, ok := verifyModes[f.Verify]; !ok {
		return diagerr.InvalidArgument(op, "flash.verify %q: want readback, checksum or none", f.Verify)
	}
	if f.BlockSize < 0 {
		return diagerr.InvalidArgument(op, "flash.block_size must not be negative")
	}
	if f.MaxImageSize < 0 {
		return diagerr.InvalidArgument(op, "flash.max_image_size must not be negative")
	}
	if f.SecurityLevel != 0 && !seen[f.SecurityLevel] {
		return diagerr.InvalidArgument(op, "flash.security_level 0x%02X has no entry in security.levels", f.SecurityLevel)
	}
	if f.PollInterval < 0 || f.PollTimeout < 0 || c.Log.Rotate < 0 {
		return diagerr.InvalidArgument(op, "durations must not be negative")
	}
	return nil
}

func (c *Config) address() (*tp.Address, error) {
	conn := c.Connection
	mode, ok := addressingModes[strings.ToLower(conn.Addressing)]
	if !ok {
		return nil, diagerr.InvalidArgument("config", "connection.addressing %q is not supported", conn.Addressing)
	}
	addr, err := tp.NewAddress(mode,
		tp.WithTxID(conn.TxID),
		tp.WithRxID(conn.RxID),
		tp.WithFunctionalTxID(conn.FunctionalID),
		tp.WithTargetAddress(conn.TargetAddress),
		tp.WithSourceAddress(conn.SourceAddress),
		tp.WithAddressExtension(conn.AddressExtension),
	)
	if err != nil {
		return nil, diagerr.InvalidArgument("config", "connection: %v", err)
	}
	return addr, nil
}

func (c *Config) isotp() (*tp.Config, error) {
	iso := c.ISOTP
	cfg := tp.DefaultConfig()
	if iso.Padding != nil {
		p := *iso.Padding
		cfg.PaddingByte = &p
	}
	cfg.BlockSize = iso.BlockSize
	cfg.StMin = iso.StMin
	cfg.TimeoutN_Bs = iso.TimeoutNBs
	cfg.TimeoutN_Cr = iso.TimeoutNCr
	cfg.MaxWaitFrame = iso.MaxWaitFrame
	cfg.TxDataMinLength = iso.TxDataMinLength
	cfg.MaxFrameSize = iso.MaxFrameSize
	cfg.CanFD = c.Connection.CanFD
	if err := cfg.Validate(); err != nil {
		return nil, diagerr.InvalidArgument("config", "isotp: %v", err)
	}
	return &cfg, nil
}

func (c *Config) memoryFormat() udsclient.MemoryFormat {
	return udsclient.MemoryFormat{AddressBytes: c.UDS.AddressBytes, SizeBytes: c.UDS.SizeBytes}
}

// Level 查找等级配置
func (c *Config) Level(level uint8) (LevelConfig, bool) {
	for _, l := range c.Security.Levels {
		if l.Level == level {
			return l, true
		}
	}
	return LevelConfig{}, false
}

// KeyFunc 返回某等级的密钥计算函数
func (c *Config) KeyFunc(level uint8) (seedkey.KeyFunc, error) {
	l, ok := c.Level(level)
	if !ok {
		return nil, diagerr.InvalidArgument("config", "security level 0x%02X is not configured", level)
	}
	secret, err := seedkey.ParseSecret(l.SecretHex)
	if err != nil {
		return nil, fmt.Errorf("security level 0x%02X: %w", level, err)
	}
	return seedkey.New(secret, seedkey.WithKeyLength(l.KeyLength))
}

// Options 生成 diag.Connect 使用的选项
func (c *Config) Options(logger *log.Logger) (diag.Options, error) {
	addr, err := c.address()
	if err != nil {
		return diag.Options{}, err
	}
	iso, err := c.isotp()
	if err != nil {
		return diag.Options{}, err
	}

	uds := udsclient.DefaultOptions()
	uds.P2 = c.UDS.P2
	uds.P2Star = c.UDS.P2Star
	uds.S3 = c.UDS.S3
	uds.MaxResponsePending = c.UDS.MaxResponsePending
	uds.BusyRetries = c.UDS.BusyRetries
	uds.ReadRetries = c.UDS.ReadRetries
	uds.KeepAliveInterval = c.UDS.KeepAliveInterval
	uds.MaxKeyAttempts = c.UDS.MaxKeyAttempts
	uds.Cooldown = c.UDS.Cooldown
	uds.MemoryFormat = c.memoryFormat()
	uds.Logger = logger
	if len(c.Security.Levels) > 0 {
		uds.LevelPolicies = make(map[byte]udsclient.LevelPolicy, len(c.Security.Levels))
		for _, l := range c.Security.Levels {
			uds.LevelPolicies[l.Level] = udsclient.LevelPolicy{MaxAttempts: l.MaxAttempts, Cooldown: l.Cooldown}
		}
	}

	sim, err := c.simConfig()
	if err != nil {
		return diag.Options{}, err
	}

	return diag.Options{
		Driver: driver.Options{
			Logger:  logger,
			Trace:   c.Connection.Trace,
			CanFD:   c.Connection.CanFD,
			Bitrate: c.Connection.Bitrate,
			Sim:     sim,
		},
		Address:   addr,
		ISOTP:     iso,
		UDS:       uds,
		KeepAlive: c.UDS.KeepAlive,
		Logger:    logger,
	}, nil
}

// simConfig 让 "sim:" 后端使用与配置一致的等级和密钥
func (c *Config) simConfig() (driver.SimConfig, error) {
	var sim driver.SimConfig
	if len(c.Security.Levels) == 0 {
		return sim, nil
	}
	seeds := make(map[byte][]byte)
	for _, l := range driver.DefaultSimLevels() {
		seeds[l.Level] = l.Seed
	}
	for _, l := range c.Security.Levels {
		secret, err := seedkey.ParseSecret(l.SecretHex)
		if err != nil {
			return sim, fmt.Errorf("security level 0x%02X: %w", l.Level, err)
		}
		seed, ok := seeds[l.Level]
		if !ok {
			seed = []byte{0x5A, 0xA5, l.Level, 0x01}
		}
		sim.Levels = append(sim.Levels, driver.SimLevel{Level: l.Level, Secret: secret, Seed: seed, KeyLength: l.KeyLength})
	}
	return sim, nil
}

// FlashPlan 按 flash 段生成刷写计划
func (c *Config) FlashPlan(img flash.Image) (flash.Plan, error) {
	plan := flash.Plan{
		Address:       img.Address,
		Data:          img.Data,
		SecurityLevel: c.Flash.SecurityLevel,
		Method:        flashMethods[c.Flash.Method],
		Verify:        verifyModes[c.Flash.Verify],
		BlockSize:     c.Flash.BlockSize,
		SkipErase:     c.Flash.SkipErase,
		EraseRoutine:  c.Flash.EraseRoutine,
		CheckRoutine:  c.Flash.CheckRoutine,
		Poll: udsclient.PollOptions{
			Interval: c.Flash.PollInterval,
			Timeout:  c.Flash.PollTimeout,
		},
	}
	if plan.SecurityLevel != 0 {
		key, err := c.KeyFunc(plan.SecurityLevel)
		if err != nil {
			return flash.Plan{}, err
		}
		plan.Key = key
	}
	return plan, nil
}
