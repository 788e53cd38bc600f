package driver

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log"
	"sync"
	"time"

	"github.com/LoveWonYoung/udsdiag/seedkey"
	"github.com/LoveWonYoung/udsdiag/tp"
	"github.com/LoveWonYoung/udsdiag/udsclient"
)

// 模拟ECU支持的例程
const (
	SimEraseRoutine    uint16 = 0xFF00
	SimChecksumRoutine uint16 = 0x0202
)

// SimLevel 一个安全等级：固定种子，密钥由 Secret 计算
type SimLevel struct {
	Level     byte
	Secret    []byte
	Seed      []byte
	KeyLength int
}

// SimFaults 故障注入
type SimFaults struct {
	// FailAfterTransferBlocks 大于0时，收到这么多个 0x36 块后不再响应
	FailAfterTransferBlocks int
	// ResponsePending 每个响应前先发送的 0x78 个数
	ResponsePending int
	// BusyOnce 第一个请求回复 0x21
	BusyOnce bool
	// CorruptAfterWrite 写入后读回的数据被篡改
	CorruptAfterWrite bool
}

// SimConfig 模拟ECU配置，零值使用默认值
type SimConfig struct {
	// Address 为测试仪一侧的地址，ECU 使用其反向地址
	Address        *tp.Address
	ISOTP          *tp.Config
	Levels         []SimLevel
	MaxAttempts    int
	LockoutDelay   time.Duration
	MemoryBase     uint32
	MemorySize     int
	OpenMemory     bool
	MaxBlockLength int
	EraseBusyPolls int
	S3             time.Duration
	DIDs           map[uint16][]byte
	Faults         SimFaults
	Logger         *log.Logger
}

// SimSecret 是默认安全等级使用的 AES-128 密钥
var SimSecret = []byte{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}

// DefaultSimLevels 默认安全等级
func DefaultSimLevels() []SimLevel {
	return []SimLevel{
		{Level: 0x01, Secret: SimSecret, Seed: []byte{0x11, 0x22, 0x33, 0x44}, KeyLength: 4},
		{Level: 0x03, Secret: SimSecret, Seed: []byte{0x3F, 0x9A}, KeyLength: 2},
		{Level: 0x11, Secret: SimSecret, Seed: []byte{0x0A, 0x0B, 0x0C, 0x0D}, KeyLength: 4},
	}
}

// DefaultSimAddress 测试仪 0x7E0 发送，0x7E8 接收
func DefaultSimAddress() *tp.Address {
	addr, _ := tp.NewAddress(tp.Normal11Bit, tp.WithTxID(0x7E0), tp.WithRxID(0x7E8), tp.WithFunctionalTxID(0x7DF))
	return addr
}

func (c SimConfig) withDefaults() SimConfig {
	if c.Address == nil {
		c.Address = DefaultSimAddress()
	}
	if len(c.Levels) == 0 {
		c.Levels = DefaultSimLevels()
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.LockoutDelay <= 0 {
		c.LockoutDelay = 10 * time.Second
	}
	if c.MemoryBase == 0 && c.MemorySize == 0 {
		c.MemoryBase = 0x00010000
	}
	if c.MemorySize <= 0 {
		c.MemorySize = 4096
	}
	if c.MaxBlockLength <= 0 {
		c.MaxBlockLength = 0x0102
	}
	if c.EraseBusyPolls < 0 {
		c.EraseBusyPolls = 0
	}
	if c.S3 <= 0 {
		c.S3 = 5 * time.Second
	}
	if c.DIDs == nil {
		c.DIDs = map[uint16][]byte{
			0xF190: []byte("UDSDIAGSIM0000001"),
			0xF187: []byte("SIM-ECU-01"),
			0xF18C: []byte("0000001"),
		}
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// SimECU 是运行在虚拟总线上的模拟ECU，所有状态都在实例上
type SimECU struct {
	cfg       SimConfig
	node      *VirtualNode
	transport *tp.Transport
	logger    *log.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once

	mu           sync.Mutex
	session      udsclient.SessionType
	unlocked     byte
	pendingLevel byte
	failed       int
	lockoutUntil time.Time
	lastActivity time.Time

	memory  []byte
	written bool
	dtcs    []udsclient.DTCRecord
	dids    map[uint16][]byte

	eraseState int // 0 空闲 1 运行 2 完成
	erasePolls int

	download struct {
		active    bool
		addr      uint32
		remaining int
		nextSeq   byte
		lastSeq   byte
		blocks    int
	}

	faults   SimFaults
	busyUsed bool
	requests int
}

const (
	eraseIdle = iota
	eraseRunning
	eraseDone
)

// NewSimECU 在总线上创建模拟ECU，需要调用 Start
func NewSimECU(bus *VirtualBus, canFD bool, cfg SimConfig) (*SimECU, error) {
	cfg = cfg.withDefaults()
	tpCfg := tp.DefaultConfig()
	if cfg.ISOTP != nil {
		tpCfg = *cfg.ISOTP
	}
	tpCfg.CanFD = canFD
	if !canFD {
		tpCfg.BitrateSwitch = false
	}
	transport, err := tp.NewTransport(cfg.Address.Reversed(), tpCfg, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("sim ecu transport: %w", err)
	}
	for _, l := range cfg.Levels {
		if l.Level%2 == 0 {
			return nil, fmt.Errorf("sim ecu: security level 0x%02X is not odd", l.Level)
		}
		if _, err := seedkey.ComputeKey(l.Seed, l.Secret, l.KeyLength); err != nil {
			return nil, fmt.Errorf("sim ecu level 0x%02X: %w", l.Level, err)
		}
	}
	dids := make(map[uint16][]byte, len(cfg.DIDs))
	for k, v := range cfg.DIDs {
		dids[k] = bytes.Clone(v)
	}
	e := &SimECU{
		cfg:       cfg,
		node:      bus.Attach(canFD),
		transport: transport,
		logger:    cfg.Logger,
		session:   udsclient.DefaultSession,
		memory:    bytes.Repeat([]byte{0xFF}, cfg.MemorySize),
		dids:      dids,
		faults:    cfg.Faults,
	}
	return e, nil
}

// Start 启动收发和应答 goroutine
func (e *SimECU) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.node.Start()

	rx := make(chan tp.CanMessage, RxChannelBufferSize)
	tx := make(chan tp.CanMessage, RxChannelBufferSize)

	e.wg.Add(4)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-e.node.RxChan():
				if !ok {
					return
				}
				select {
				case rx <- m.ToCanMessage():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	go func() {
		defer e.wg.Done()
		e.transport.Run(ctx, rx, tx)
	}()
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-tx:
				if err := e.node.Write(FromCanMessage(m)); err != nil {
					e.logger.Printf("[Sim] write failed: %v", err)
				}
			}
		}
	}()
	go func() {
		defer e.wg.Done()
		e.serve(ctx)
	}()
	e.logger.Println("[Sim] ECU 已启动")
}

// Stop 停止模拟ECU，可重复调用
func (e *SimECU) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		_ = e.node.Stop()
	})
}

func (e *SimECU) serve(ctx context.Context) {
	for {
		req, err := e.transport.Recv(ctx, 100*time.Millisecond)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			continue
		}
		for i, resp := range e.handle(req) {
			if i > 0 {
				time.Sleep(10 * time.Millisecond)
			}
			if err := e.transport.Send(ctx, resp); err != nil {
				if ctx.Err() == nil {
					e.logger.Printf("[Sim] send failed: %v", err)
				}
				break
			}
		}
	}
}

func nrc(sid byte, code udsclient.NRC) []byte {
	return []byte{udsclient.NegativeResponseSID, sid, byte(code)}
}

// handle 返回要依次发送的响应，nil 表示不响应
func (e *SimECU) handle(req []byte) [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests++
	now := time.Now()
	e.checkS3(now)
	e.lastActivity = now
	if len(req) == 0 {
		return nil
	}
	if e.faults.BusyOnce && !e.busyUsed {
		e.busyUsed = true
		return [][]byte{nrc(req[0], udsclient.NRCBusyRepeatRequest)}
	}
	resp := e.dispatch(req, now)
	if resp == nil {
		return nil
	}
	out := make([][]byte, 0, e.faults.ResponsePending+1)
	for i := 0; i < e.faults.ResponsePending; i++ {
		out = append(out, nrc(req[0], udsclient.NRCResponsePending))
	}
	return append(out, resp)
}

func (e *SimECU) checkS3(now time.Time) {
	if e.session != udsclient.DefaultSession && now.Sub(e.lastActivity) > e.cfg.S3 {
		e.logger.Println("[Sim] S3 超时，回到默认会话")
		e.session = udsclient.DefaultSession
		e.unlocked = 0
		e.pendingLevel = 0
	}
}

func (e *SimECU) dispatch(req []byte, now time.Time) []byte {
	sid := req[0]
	switch udsclient.ServiceID(sid) {
	case udsclient.SIDDiagnosticSessionControl:
		return e.sessionControl(req)
	case udsclient.SIDECUReset:
		return e.ecuReset(req)
	case udsclient.SIDTesterPresent:
		if len(req) != 2 || req[1]&0x7F != 0 {
			return nrc(sid, udsclient.NRCSubFunctionNotSupported)
		}
		if req[1]&udsclient.SuppressPositiveResponse != 0 {
			return nil
		}
		return []byte{0x7E, 0x00}
	case udsclient.SIDSecurityAccess:
		return e.securityAccess(req, now)
	case udsclient.SIDReadMemoryByAddress:
		return e.readMemory(req)
	case udsclient.SIDWriteMemoryByAddress:
		return e.writeMemory(req)
	case udsclient.SIDReadDTCInformation:
		return e.readDTC(req)
	case udsclient.SIDClearDTC:
		if len(req) != 4 {
			return nrc(sid, udsclient.NRCIncorrectMessageLength)
		}
		e.dtcs = nil
		return []byte{0x54}
	case udsclient.SIDReadDataByIdentifier:
		return e.readDID(req)
	case udsclient.SIDWriteDataByIdentifier:
		return e.writeDID(req)
	case udsclient.SIDRoutineControl:
		return e.routineControl(req)
	case udsclient.SIDRequestDownload:
		return e.requestDownload(req)
	case udsclient.SIDTransferData:
		return e.transferData(req)
	case udsclient.SIDRequestTransferExit:
		if !e.download.active {
			return nrc(sid, udsclient.NRCRequestSequenceError)
		}
		e.download.active = false
		return []byte{0x77}
	}
	return nrc(sid, udsclient.NRCServiceNotSupported)
}

func (e *SimECU) sessionControl(req []byte) []byte {
	sid := req[0]
	if len(req) != 2 {
		return nrc(sid, udsclient.NRCIncorrectMessageLength)
	}
	sub := req[1] & 0x7F
	switch udsclient.SessionType(sub) {
	case udsclient.DefaultSession, udsclient.ProgrammingSession, udsclient.ExtendedSession:
	default:
		return nrc(sid, udsclient.NRCSubFunctionNotSupported)
	}
	e.session = udsclient.SessionType(sub)
	e.unlocked = 0
	e.pendingLevel = 0
	e.download.active = false
	if req[1]&udsclient.SuppressPositiveResponse != 0 {
		return nil
	}
	// P2server_max 50ms, P2*server_max 5000ms
	return []byte{0x50, sub, 0x00, 0x32, 0x01, 0xF4}
}

func (e *SimECU) ecuReset(req []byte) []byte {
	sid := req[0]
	if len(req) != 2 {
		return nrc(sid, udsclient.NRCIncorrectMessageLength)
	}
	sub := req[1] & 0x7F
	if sub < 0x01 || sub > 0x03 {
		return nrc(sid, udsclient.NRCSubFunctionNotSupported)
	}
	e.session = udsclient.DefaultSession
	e.unlocked = 0
	e.pendingLevel = 0
	e.download.active = false
	e.eraseState = eraseIdle
	if req[1]&udsclient.SuppressPositiveResponse != 0 {
		return nil
	}
	return []byte{0x51, sub}
}

func (e *SimECU) level(l byte) (SimLevel, bool) {
	for _, lv := range e.cfg.Levels {
		if lv.Level == l {
			return lv, true
		}
	}
	return SimLevel{}, false
}

func (e *SimECU) securityAccess(req []byte, now time.Time) []byte {
	sid := req[0]
	if len(req) < 2 {
		return nrc(sid, udsclient.NRCIncorrectMessageLength)
	}
	sub := req[1] & 0x7F
	if sub%2 == 1 {
		lv, ok := e.level(sub)
		if !ok {
			return nrc(sid, udsclient.NRCSubFunctionNotSupported)
		}
		if now.Before(e.lockoutUntil) {
			return nrc(sid, udsclient.NRCRequiredTimeDelayNotExpired)
		}
		if e.unlocked == sub {
			return append([]byte{0x67, sub}, make([]byte, len(lv.Seed))...)
		}
		e.pendingLevel = sub
		return append([]byte{0x67, sub}, lv.Seed...)
	}

	level := sub - 1
	lv, ok := e.level(level)
	if !ok {
		return nrc(sid, udsclient.NRCSubFunctionNotSupported)
	}
	if e.pendingLevel != level {
		return nrc(sid, udsclient.NRCRequestSequenceError)
	}
	e.pendingLevel = 0
	want, _ := seedkey.ComputeKey(lv.Seed, lv.Secret, lv.KeyLength)
	if !bytes.Equal(req[2:], want) {
		e.failed++
		if e.failed >= e.cfg.MaxAttempts {
			e.failed = 0
			e.lockoutUntil = now.Add(e.cfg.LockoutDelay)
			e.logger.Printf("[Sim] 安全等级 0x%02X 锁定 %v", level, e.cfg.LockoutDelay)
			return nrc(sid, udsclient.NRCExceedNumberOfAttempts)
		}
		return nrc(sid, udsclient.NRCInvalidKey)
	}
	e.failed = 0
	e.unlocked = level
	return []byte{0x67, sub}
}

// region 把地址范围映射到内存偏移
func (e *SimECU) region(addr uint32, size int) (int, bool) {
	if size <= 0 || addr < e.cfg.MemoryBase {
		return 0, false
	}
	off := uint64(addr - e.cfg.MemoryBase)
	if off+uint64(size) > uint64(len(e.memory)) {
		return 0, false
	}
	return int(off), true
}

func (e *SimECU) writable() bool {
	return e.cfg.OpenMemory || e.unlocked != 0
}

func (e *SimECU) readMemory(req []byte) []byte {
	sid := req[0]
	addr, size, n, err := udsclient.DecodeAddressAndLength(req[1:])
	if err != nil || 1+n != len(req) {
		return nrc(sid, udsclient.NRCIncorrectMessageLength)
	}
	off, ok := e.region(addr, int(size))
	if !ok {
		return nrc(sid, udsclient.NRCRequestOutOfRange)
	}
	data := bytes.Clone(e.memory[off : off+int(size)])
	if e.faults.CorruptAfterWrite && e.written {
		data[0] ^= 0xFF
	}
	return append([]byte{0x63}, data...)
}

func (e *SimECU) writeMemory(req []byte) []byte {
	sid := req[0]
	addr, size, n, err := udsclient.DecodeAddressAndLength(req[1:])
	if err != nil || len(req) != 1+n+int(size) {
		return nrc(sid, udsclient.NRCIncorrectMessageLength)
	}
	if !e.writable() {
		return nrc(sid, udsclient.NRCSecurityAccessDenied)
	}
	off, ok := e.region(addr, int(size))
	if !ok {
		return nrc(sid, udsclient.NRCRequestOutOfRange)
	}
	copy(e.memory[off:], req[1+n:])
	e.written = true
	return append([]byte{0x7D}, req[1:1+n]...)
}

func (e *SimECU) readDTC(req []byte) []byte {
	sid := req[0]
	if len(req) < 2 {
		return nrc(sid, udsclient.NRCIncorrectMessageLength)
	}
	if req[1]&0x7F != 0x02 {
		return nrc(sid, udsclient.NRCSubFunctionNotSupported)
	}
	if len(req) != 3 {
		return nrc(sid, udsclient.NRCIncorrectMessageLength)
	}
	mask := req[2]
	out := []byte{0x59, 0x02, 0xFF}
	for _, d := range e.dtcs {
		if d.Status&mask != 0 {
			out = append(out, byte(d.Code>>16), byte(d.Code>>8), byte(d.Code), d.Status)
		}
	}
	return out
}

func (e *SimECU) readDID(req []byte) []byte {
	sid := req[0]
	if len(req) != 3 {
		return nrc(sid, udsclient.NRCIncorrectMessageLength)
	}
	did := binary.BigEndian.Uint16(req[1:])
	v, ok := e.dids[did]
	if !ok {
		return nrc(sid, udsclient.NRCRequestOutOfRange)
	}
	return append([]byte{0x62, req[1], req[2]}, v...)
}

func (e *SimECU) writeDID(req []byte) []byte {
	sid := req[0]
	if len(req) < 4 {
		return nrc(sid, udsclient.NRCIncorrectMessageLength)
	}
	if e.session == udsclient.DefaultSession {
		return nrc(sid, udsclient.NRCConditionsNotCorrect)
	}
	did := binary.BigEndian.Uint16(req[1:])
	if _, ok := e.dids[did]; !ok {
		return nrc(sid, udsclient.NRCRequestOutOfRange)
	}
	e.dids[did] = bytes.Clone(req[3:])
	return []byte{0x6E, req[1], req[2]}
}

// rangeParams 解析例程参数中的 4 字节地址和 4 字节长度
func (e *SimECU) rangeParams(p []byte) (int, int, bool) {
	if len(p) != 8 {
		return 0, 0, false
	}
	addr := binary.BigEndian.Uint32(p[0:4])
	size := int(binary.BigEndian.Uint32(p[4:8]))
	off, ok := e.region(addr, size)
	return off, size, ok
}

func (e *SimECU) routineControl(req []byte) []byte {
	sid := req[0]
	if len(req) < 4 {
		return nrc(sid, udsclient.NRCIncorrectMessageLength)
	}
	sub := udsclient.RoutineControlType(req[1] & 0x7F)
	id := binary.BigEndian.Uint16(req[2:4])
	params := req[4:]
	head := []byte{0x71, byte(sub), req[2], req[3]}

	switch id {
	case SimEraseRoutine:
		switch sub {
		case udsclient.StartRoutine:
			if !e.writable() {
				return nrc(sid, udsclient.NRCSecurityAccessDenied)
			}
			off, size, ok := e.rangeParams(params)
			if !ok {
				return nrc(sid, udsclient.NRCRequestOutOfRange)
			}
			for i := off; i < off+size; i++ {
				e.memory[i] = 0xFF
			}
			e.eraseState, e.erasePolls = eraseRunning, e.cfg.EraseBusyPolls
			if e.erasePolls == 0 {
				e.eraseState = eraseDone
				return append(head, 0x00)
			}
			return append(head, 0x01)
		case udsclient.StopRoutine:
			if e.eraseState != eraseRunning {
				return nrc(sid, udsclient.NRCRequestSequenceError)
			}
			e.eraseState = eraseIdle
			return head
		case udsclient.RequestRoutineResults:
			switch e.eraseState {
			case eraseIdle:
				return nrc(sid, udsclient.NRCRequestSequenceError)
			case eraseRunning:
				if e.erasePolls > 0 {
					e.erasePolls--
					return append(head, 0x01)
				}
				e.eraseState = eraseDone
			}
			return append(head, 0x00)
		}
	case SimChecksumRoutine:
		if sub != udsclient.StartRoutine {
			return nrc(sid, udsclient.NRCSubFunctionNotSupported)
		}
		off, size, ok := e.rangeParams(params)
		if !ok {
			return nrc(sid, udsclient.NRCRequestOutOfRange)
		}
		sum := crc32.ChecksumIEEE(e.memory[off : off+size])
		if e.faults.CorruptAfterWrite && e.written {
			sum = ^sum
		}
		return binary.BigEndian.AppendUint32(append(head, 0x00), sum)
	default:
		return nrc(sid, udsclient.NRCRequestOutOfRange)
	}
	return nrc(sid, udsclient.NRCSubFunctionNotSupported)
}

func (e *SimECU) requestDownload(req []byte) []byte {
	sid := req[0]
	if len(req) < 3 {
		return nrc(sid, udsclient.NRCIncorrectMessageLength)
	}
	addr, size, n, err := udsclient.DecodeAddressAndLength(req[2:])
	if err != nil || len(req) != 2+n {
		return nrc(sid, udsclient.NRCIncorrectMessageLength)
	}
	if !e.writable() {
		return nrc(sid, udsclient.NRCSecurityAccessDenied)
	}
	if e.download.active {
		return nrc(sid, udsclient.NRCConditionsNotCorrect)
	}
	if req[1] != 0x00 {
		return nrc(sid, udsclient.NRCRequestOutOfRange)
	}
	if _, ok := e.region(addr, int(size)); !ok {
		return nrc(sid, udsclient.NRCRequestOutOfRange)
	}
	e.download.active = true
	e.download.addr = addr
	e.download.remaining = int(size)
	e.download.nextSeq = 1
	e.download.blocks = 0
	return binary.BigEndian.AppendUint16([]byte{0x74, 0x20}, uint16(e.cfg.MaxBlockLength))
}

func (e *SimECU) transferData(req []byte) []byte {
	sid := req[0]
	if !e.download.active {
		return nrc(sid, udsclient.NRCRequestSequenceError)
	}
	if len(req) < 2 {
		return nrc(sid, udsclient.NRCIncorrectMessageLength)
	}
	seq, data := req[1], req[2:]
	if e.download.blocks > 0 && seq == e.download.lastSeq {
		// 重复的块，不再写入
		return []byte{0x76, seq}
	}
	if seq != e.download.nextSeq {
		return nrc(sid, udsclient.NRCWrongBlockSequenceCounter)
	}
	if len(data) == 0 || len(data) > e.cfg.MaxBlockLength-2 || len(data) > e.download.remaining {
		return nrc(sid, udsclient.NRCTransferDataSuspended)
	}
	if f := e.faults.FailAfterTransferBlocks; f > 0 && e.download.blocks >= f {
		e.logger.Printf("[Sim] 故障注入: 第 %d 块后停止响应", f)
		return nil
	}
	off, _ := e.region(e.download.addr, len(data))
	copy(e.memory[off:], data)
	e.written = true
	e.download.addr += uint32(len(data))
	e.download.remaining -= len(data)
	e.download.blocks++
	e.download.lastSeq = seq
	e.download.nextSeq = seq + 1
	return []byte{0x76, seq}
}

// Session 返回 ECU 当前的会话
func (e *SimECU) Session() udsclient.SessionType {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkS3(time.Now())
	return e.session
}

// SecurityLevel 返回已解锁的等级，0 为未解锁
func (e *SimECU) SecurityLevel() byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unlocked
}

// InjectDTC 添加或更新一条故障码
func (e *SimECU) InjectDTC(code uint32, status byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.dtcs {
		if e.dtcs[i].Code == code {
			e.dtcs[i].Status = status
			return
		}
	}
	e.dtcs = append(e.dtcs, udsclient.DTCRecord{Code: code & 0xFFFFFF, Status: status})
}

// Memory 返回内存内容的副本
func (e *SimECU) Memory(addr uint32, n int) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	off, ok := e.region(addr, n)
	if !ok {
		return nil, false
	}
	return bytes.Clone(e.memory[off : off+n]), true
}

// SetFaults 替换故障注入配置
func (e *SimECU) SetFaults(f SimFaults) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults = f
	e.busyUsed = false
}

// Requests 返回收到的请求数
func (e *SimECU) Requests() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests
}

// MemoryBase 返回模拟内存的起始地址和大小
func (e *SimECU) MemoryBase() (uint32, int) {
	return e.cfg.MemoryBase, len(e.memory)
}
