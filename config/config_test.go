package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/LoveWonYoung/udsdiag/diag"
	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/LoveWonYoung/udsdiag/flash"
	"github.com/LoveWonYoung/udsdiag/seedkey"
	"github.com/LoveWonYoung/udsdiag/tp"
	"github.com/LoveWonYoung/udsdiag/udsclient"
)

const sampleYAML = `
connection:
  descriptor: "sim:bench"
  addressing: normal11
  tx_id: 0x7E0
  rx_id: 0x7E8
  functional_id: 0x7DF
isotp:
  padding: 0xAA
  stmin: 2ms
  block_size: 8
uds:
  p2: 200ms
  p2_star: 3s
  keepalive: true
  keepalive_interval: 1s
  address_bytes: 4
  size_bytes: 2
security:
  levels:
    - level: 0x01
      secret_hex: "2B7E1516 28AED2A6 ABF71588 09CF4F3C"
      key_length: 4
    - level: 0x03
      secret_hex: "2b7e151628aed2a6abf7158809cf4f3c"
      key_length: 2
      max_attempts: 1
      cooldown: 1m
flash:
  security_level: 0x01
  method: write_memory
  verify: checksum
  block_size: 128
log:
  dir: logs
  rotate: 10m
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Connection.Descriptor != "sim:bench" || cfg.Connection.TxID != 0x7E0 {
		t.Errorf("connection = %+v", cfg.Connection)
	}
	if cfg.ISOTP.Padding == nil || *cfg.ISOTP.Padding != 0xAA || cfg.ISOTP.StMin != 2*time.Millisecond {
		t.Errorf("isotp = %+v", cfg.ISOTP)
	}
	if cfg.UDS.P2 != 200*time.Millisecond || cfg.UDS.P2Star != 3*time.Second {
		t.Errorf("uds timing = %v/%v", cfg.UDS.P2, cfg.UDS.P2Star)
	}
	// 未写的字段取默认值
	if cfg.UDS.S3 != 5*time.Second || cfg.UDS.MaxKeyAttempts != 3 {
		t.Errorf("uds defaults = %+v", cfg.UDS)
	}
	if cfg.Flash.EraseRoutine != flash.DefaultEraseRoutine || cfg.Log.Name != "udsdiag_" {
		t.Errorf("defaults not applied: %+v %+v", cfg.Flash, cfg.Log)
	}
	if l, ok := cfg.Level(0x03); !ok || l.Cooldown != time.Minute || l.MaxAttempts != 1 {
		t.Errorf("level 3 = %+v, %v", l, ok)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c := cfg.Connection
	if c.Descriptor != "sim:" || c.Addressing != "normal11" || c.TxID != 0x7E0 || c.RxID != 0x7E8 || c.FunctionalID != 0x7DF {
		t.Errorf("connection defaults = %+v", c)
	}
	if cfg.ISOTP.MaxFrameSize != tp.MaxClassicFrameSize || cfg.ISOTP.TimeoutNBs != time.Second {
		t.Errorf("isotp defaults = %+v", cfg.ISOTP)
	}
	if cfg.Flash.Method != "download" || cfg.Flash.Verify != "readback" || cfg.Flash.MaxImageSize != flash.DefaultMaxImageSize {
		t.Errorf("flash defaults = %+v", cfg.Flash)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"未知后端", "connection: {descriptor: \"can:x\"}", "descriptor"},
		{"寻址模式", "connection: {addressing: weird}", "addressing"},
		{"ID相同", "connection: {tx_id: 0x700, rx_id: 0x700}", "must differ"},
		{"11位ID越界", "connection: {tx_id: 0x800, rx_id: 0x7E8}", "0x7FF"},
		{"P2*过短", "uds: {p2: 2s, p2_star: 1s}", "p2_star"},
		{"保活间隔", "uds: {keepalive: true, keepalive_interval: 6s}", "keepalive_interval"},
		{"内存格式", "uds: {address_bytes: 5}", "1..4"},
		{"偶数等级", "security: {levels: [{level: 2, secret_hex: 2b7e151628aed2a6abf7158809cf4f3c}]}", "odd"},
		{"重复等级", "security: {levels: [{level: 1, secret_hex: 2b7e151628aed2a6abf7158809cf4f3c}, {level: 1, secret_hex: 2b7e151628aed2a6abf7158809cf4f3c}]}", "twice"},
		{"密钥格式", "security: {levels: [{level: 1, secret_hex: zz}]}", "malformed"},
		{"密钥长度", "security: {levels: [{level: 1, secret_hex: 2b7e151628aed2a6abf7158809cf4f3c, key_length: 17}]}", "key_length"},
		{"刷写方式", "flash: {method: ftp}", "flash.method"},
		{"校验方式", "flash: {verify: maybe}", "flash.verify"},
		{"刷写等级未配置", "flash: {security_level: 5}", "security.levels"},
		{"镜像上限", "flash: {max_image_size: -1}", "max_image_size"},
		{"YAML语法", "connection: [", "parse config"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidate_SecretIsSecurityError(t *testing.T) {
	_, err := Parse([]byte("security: {levels: [{level: 1, secret_hex: \"\"}]}"))
	if !errors.Is(err, seedkey.ErrMissingSecret) {
		t.Errorf("err = %v, want ErrMissingSecret", err)
	}
	_, err = Parse([]byte("uds: {address_bytes: 9}"))
	if !errors.Is(err, diagerr.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "udsdiag.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Flash.BlockSize != 128 {
		t.Errorf("flash.block_size = %d", cfg.Flash.BlockSize)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: %v", err)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("p2: 150ms")) {
		t.Errorf("durations should be written in Go syntax:\n%s", data)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Marshal()): %v", err)
	}
	if back.UDS != cfg.UDS || back.Connection != cfg.Connection {
		t.Errorf("round trip changed the config:\n%+v\n%+v", back, cfg)
	}
}

func TestOptions(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	opts, err := cfg.Options(nil)
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts.Address.TxID != 0x7E0 || opts.Address.RxID != 0x7E8 || opts.Address.FunctionalTxID != 0x7DF {
		t.Errorf("address = %+v", opts.Address)
	}
	if opts.ISOTP.PaddingByte == nil || *opts.ISOTP.PaddingByte != 0xAA || opts.ISOTP.BlockSize != 8 {
		t.Errorf("isotp = %+v", opts.ISOTP)
	}
	if opts.UDS.MemoryFormat != (udsclient.MemoryFormat{AddressBytes: 4, SizeBytes: 2}) {
		t.Errorf("memory format = %+v", opts.UDS.MemoryFormat)
	}
	if p := opts.UDS.LevelPolicies[0x03]; p.MaxAttempts != 1 || p.Cooldown != time.Minute {
		t.Errorf("level 3 policy = %+v", p)
	}
	if !opts.KeepAlive || opts.UDS.KeepAliveInterval != time.Second {
		t.Errorf("keep-alive = %v/%v", opts.KeepAlive, opts.UDS.KeepAliveInterval)
	}
	if len(opts.Driver.Sim.Levels) != 2 || opts.Driver.Sim.Levels[1].KeyLength != 2 {
		t.Errorf("sim levels = %+v", opts.Driver.Sim.Levels)
	}
}

func TestKeyFunc(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	fn, err := cfg.KeyFunc(0x03)
	if err != nil {
		t.Fatal(err)
	}
	key, err := fn([]byte{0x3F, 0x9A})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(key, []byte{0x8A, 0x51}) {
		t.Errorf("key = % X, want 8A 51", key)
	}
	if _, err := cfg.KeyFunc(0x05); !errors.Is(err, diagerr.ErrInvalidArgument) {
		t.Errorf("unknown level: %v", err)
	}
}

func TestFlashPlan(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	img := flash.Image{Address: 0x10000, Data: []byte{1, 2, 3}}
	plan, err := cfg.FlashPlan(img)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Method != flash.MethodWriteMemory || plan.Verify != flash.VerifyECUChecksum || plan.BlockSize != 128 {
		t.Errorf("plan = %+v", plan)
	}
	if plan.Key == nil || plan.SecurityLevel != 0x01 || plan.Address != 0x10000 {
		t.Errorf("plan key/level/address = %v/%d/0x%X", plan.Key != nil, plan.SecurityLevel, plan.Address)
	}
}

// 配置中的等级同时用于模拟ECU和客户端，解锁应当成功
func TestOptions_ConnectSim(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	opts, err := cfg.Options(nil)
	if err != nil {
		t.Fatal(err)
	}
	opts.KeepAlive = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := diag.Connect(ctx, cfg.Connection.Descriptor, opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Disconnect()

	if err := conn.StartSession(ctx, udsclient.ExtendedSession); err != nil {
		t.Fatal(err)
	}
	key, _ := cfg.KeyFunc(0x03)
	if _, err := conn.SecurityAccess(ctx, 0x03, key); err != nil {
		t.Fatalf("SecurityAccess: %v", err)
	}
	if got := conn.Session().SecurityLevel; got != 0x03 {
		t.Errorf("security level = 0x%02X", got)
	}
}
