package flash

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"log"
	"sync"
	"time"

	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/LoveWonYoung/udsdiag/seedkey"
	"github.com/LoveWonYoung/udsdiag/udsclient"
)

// Client 是刷写需要的 UDS 服务，*udsclient.Client 实现了该接口
type Client interface {
	StartSession(ctx context.Context, t udsclient.SessionType) error
	SecurityAccess(ctx context.Context, level byte, key seedkey.KeyFunc) (udsclient.AccessResult, error)
	RoutineControl(ctx context.Context, typ udsclient.RoutineControlType, id uint16, params []byte) (udsclient.RoutineResult, error)
	PollRoutine(ctx context.Context, id uint16, opts udsclient.PollOptions) (udsclient.RoutineResult, error)
	RequestDownload(ctx context.Context, addr uint32, size uint32, dataFormat byte) (int, error)
	TransferData(ctx context.Context, seq byte, data []byte) ([]byte, error)
	RequestTransferExit(ctx context.Context) ([]byte, error)
	WriteMemory(ctx context.Context, addr uint32, data []byte) error
	ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error)
	MaxReadChunk() int
	MaxWriteChunk() int
	MaxTransferChunk() int
	// Settle 丢弃被取消的请求迟到的响应
	Settle(ctx context.Context) error
}

// Manager 在后台执行刷写任务，同一时刻只有一个任务
type Manager struct {
	client   Client
	logger   *log.Logger
	teardown time.Duration

	mu           sync.Mutex
	phase        Phase
	job          Job
	err          error
	cancel       context.CancelFunc
	done         chan struct{}
	aborted      bool
	downloadOpen bool
	blockIndex   int
}

func NewManager(client Client, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{client: client, logger: logger, teardown: defaultTeardown}
}

func validatePlan(p Plan) error {
	const op = "begin transfer"
	if len(p.Data) == 0 {
		return diagerr.InvalidArgument(op, "no data to transfer")
	}
	if uint64(p.Address)+uint64(len(p.Data)) > 1<<32 {
		return diagerr.InvalidArgument(op, "range 0x%08X+%d wraps the address space", p.Address, len(p.Data))
	}
	if p.SecurityLevel == 0 || p.SecurityLevel%2 == 0 || p.SecurityLevel > 0x7D {
		return diagerr.InvalidArgument(op, "security level 0x%02X is not a request-seed level", p.SecurityLevel)
	}
	if p.Key == nil {
		return diagerr.InvalidArgument(op, "no key function for level 0x%02X", p.SecurityLevel)
	}
	if p.BlockSize < 0 {
		return diagerr.InvalidArgument(op, "negative block size %d", p.BlockSize)
	}
	if p.Method != MethodDownload && p.Method != MethodWriteMemory {
		return diagerr.InvalidArgument(op, "unknown transfer method %d", p.Method)
	}
	return nil
}

// Begin 启动一个新任务并立即返回。每次都从 Unlocking 开始，不会续传。
func (m *Manager) Begin(ctx context.Context, plan Plan) error {
	if err := validatePlan(plan); err != nil {
		return err
	}
	plan = plan.withDefaults()
	plan.Data = bytes.Clone(plan.Data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil && !m.phase.Terminal() {
		return ErrBusy
	}
	jobCtx, cancel := context.WithCancel(ctx)
	m.phase = Unlocking
	m.job = Job{Address: plan.Address, Length: len(plan.Data)}
	m.err = nil
	m.cancel = cancel
	m.done = make(chan struct{})
	m.aborted = false
	m.downloadOpen = false
	m.blockIndex = -1
	go m.run(jobCtx, plan, m.done)
	return nil
}

// Poll 返回当前状态
func (m *Manager) Poll() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Phase: m.phase, Job: m.job.clone(), Err: m.err}
}

// Wait 等待任务结束，返回最终状态和任务错误
func (m *Manager) Wait(ctx context.Context) (Status, error) {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return m.Poll(), nil
	}
	select {
	case <-done:
		st := m.Poll()
		return st, st.Err
	case <-ctx.Done():
		return m.Poll(), ctx.Err()
	}
}

// Abort 取消正在运行的任务并等待收尾，任务最终为 Failed/ErrAborted
func (m *Manager) Abort() Status {
	m.mu.Lock()
	if m.done == nil || m.phase.Terminal() {
		m.mu.Unlock()
		return m.Poll()
	}
	m.aborted = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	return m.Poll()
}

func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.blockIndex = -1
	m.mu.Unlock()
	m.logger.Printf("[flash] 进入 %s 阶段", p)
}

func (m *Manager) run(ctx context.Context, plan Plan, done chan struct{}) {
	defer close(done)
	err := m.execute(ctx, plan)

	m.mu.Lock()
	aborted := m.aborted
	phase, block, downloadOpen := m.phase, m.blockIndex, m.downloadOpen
	m.mu.Unlock()

	if aborted {
		m.teardownAfterAbort(plan, phase, downloadOpen)
		err = &TransferError{Phase: phase, BlockIndex: block, Err: ErrAborted}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel()
	if err != nil {
		m.phase = Failed
		m.err = err
		m.logger.Printf("[flash] 任务失败: %v", err)
		return
	}
	m.phase = Done
	m.logger.Printf("[flash] 任务完成: %d 字节, CRC32 %08X", m.job.Transferred, m.job.Checksum)
}

// teardownAfterAbort 用独立的短超时让 ECU 回到可用状态，失败只记录日志。
// 先收掉被取消请求的响应 (例如迟到的 76 xx)，再停止例程或退出传输。
func (m *Manager) teardownAfterAbort(plan Plan, phase Phase, downloadOpen bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.teardown)
	defer cancel()
	if err := m.client.Settle(ctx); err != nil {
		m.logger.Printf("[flash] 等待迟到响应失败: %v", err)
	}
	switch {
	case phase == Erasing:
		if _, err := m.client.RoutineControl(ctx, udsclient.StopRoutine, plan.EraseRoutine, nil); err != nil {
			m.logger.Printf("[flash] 停止擦除例程失败: %v", err)
		}
	case downloadOpen:
		if _, err := m.client.RequestTransferExit(ctx); err != nil {
			m.logger.Printf("[flash] 退出传输失败: %v", err)
		}
	}
}

func (m *Manager) fail(phase Phase, block int, err error) error {
	var te *TransferError
	if errors.As(err, &te) {
		return err
	}
	return &TransferError{Phase: phase, BlockIndex: block, Err: err}
}

func (m *Manager) execute(ctx context.Context, plan Plan) error {
	if err := m.unlock(ctx, plan); err != nil {
		return m.fail(Unlocking, -1, err)
	}
	if !plan.SkipErase {
		m.setPhase(Erasing)
		if err := m.erase(ctx, plan); err != nil {
			return m.fail(Erasing, -1, err)
		}
	}
	m.setPhase(Transferring)
	var err error
	if plan.Method == MethodWriteMemory {
		err = m.writeMemory(ctx, plan)
	} else {
		err = m.download(ctx, plan)
	}
	if err != nil {
		return err
	}
	if plan.Verify == VerifyNone {
		return nil
	}
	m.setPhase(Verifying)
	return m.verify(ctx, plan)
}

func (m *Manager) unlock(ctx context.Context, plan Plan) error {
	if err := m.client.StartSession(ctx, udsclient.ProgrammingSession); err != nil {
		return err
	}
	res, err := m.client.SecurityAccess(ctx, plan.SecurityLevel, plan.Key)
	if err != nil {
		return err
	}
	m.logger.Printf("[flash] 安全等级 0x%02X 已解锁", res.Level)
	return nil
}

func rangeParams(addr uint32, n int) []byte {
	p := binary.BigEndian.AppendUint32(nil, addr)
	return binary.BigEndian.AppendUint32(p, uint32(n))
}

func (m *Manager) erase(ctx context.Context, plan Plan) error {
	res, err := m.client.RoutineControl(ctx, udsclient.StartRoutine, plan.EraseRoutine, rangeParams(plan.Address, len(plan.Data)))
	if err != nil {
		return err
	}
	status := plan.Poll.Status
	if status == nil {
		status = udsclient.DefaultRoutineStatus
	}
	switch status(res) {
	case udsclient.RoutineDone:
		return nil
	case udsclient.RoutineFailed:
		return &udsclient.RoutineFailedError{ID: plan.EraseRoutine, Status: res.Status}
	}
	_, err = m.client.PollRoutine(ctx, plan.EraseRoutine, plan.Poll)
	return err
}

func capBlock(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}

func (m *Manager) startBlocks(blockSize int) {
	m.mu.Lock()
	m.job.BlockSize = blockSize
	m.job.BlockChecksums = make([]uint32, 0, m.job.Blocks())
	m.mu.Unlock()
}

func (m *Manager) setBlock(i int) {
	m.mu.Lock()
	m.blockIndex = i
	m.mu.Unlock()
}

func (m *Manager) recordBlock(block []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job.BlockChecksums = append(m.job.BlockChecksums, crc32.ChecksumIEEE(block))
	m.job.Checksum = crc32.Update(m.job.Checksum, crc32.IEEETable, block)
	m.job.Transferred += len(block)
}

func (m *Manager) download(ctx context.Context, plan Plan) error {
	maxLen, err := m.client.RequestDownload(ctx, plan.Address, uint32(len(plan.Data)), plan.DataFormat)
	if err != nil {
		return m.fail(Transferring, -1, err)
	}
	blockSize := capBlock(maxLen-2, m.client.MaxTransferChunk())
	blockSize = capBlock(blockSize, plan.BlockSize)
	if blockSize < 1 {
		return m.fail(Transferring, -1, diagerr.Protocol("request download", errors.New("negotiated block length leaves no room for data")))
	}
	m.mu.Lock()
	m.downloadOpen = true
	m.mu.Unlock()
	m.startBlocks(blockSize)
	m.logger.Printf("[flash] 下载 0x%08X %d 字节, 块大小 %d", plan.Address, len(plan.Data), blockSize)

	// 序号从 1 开始，0xFF 之后回到 0x00
	seq := byte(1)
	for i, off := 0, 0; off < len(plan.Data); i, off = i+1, off+blockSize {
		block := plan.Data[off:min(off+blockSize, len(plan.Data))]
		m.setBlock(i)
		if _, err := m.client.TransferData(ctx, seq, block); err != nil {
			return m.fail(Transferring, i, err)
		}
		m.recordBlock(block)
		seq++
	}
	if _, err := m.client.RequestTransferExit(ctx); err != nil {
		return m.fail(Transferring, -1, err)
	}
	m.mu.Lock()
	m.downloadOpen = false
	m.mu.Unlock()
	return nil
}

func (m *Manager) writeMemory(ctx context.Context, plan Plan) error {
	blockSize := m.client.MaxWriteChunk()
	blockSize = capBlock(blockSize, plan.BlockSize)
	if blockSize < 1 {
		return m.fail(Transferring, -1, diagerr.InvalidArgument("write memory", "link too small for any data"))
	}
	m.startBlocks(blockSize)
	for i, off := 0, 0; off < len(plan.Data); i, off = i+1, off+blockSize {
		block := plan.Data[off:min(off+blockSize, len(plan.Data))]
		m.setBlock(i)
		if err := m.client.WriteMemory(ctx, plan.Address+uint32(off), block); err != nil {
			return m.fail(Transferring, i, err)
		}
		m.recordBlock(block)
	}
	return nil
}

func (m *Manager) verify(ctx context.Context, plan Plan) error {
	if plan.Verify == VerifyECUChecksum {
		return m.verifyChecksum(ctx, plan)
	}
	idx, err := m.readBack(ctx, plan)
	if err != nil {
		return m.fail(Verifying, idx, err)
	}
	if idx >= 0 {
		return &TransferError{Phase: Verifying, BlockIndex: idx, Err: ErrChecksumMismatch}
	}
	return nil
}

func (m *Manager) verifyChecksum(ctx context.Context, plan Plan) error {
	res, err := m.client.RoutineControl(ctx, udsclient.StartRoutine, plan.CheckRoutine, rangeParams(plan.Address, len(plan.Data)))
	if err != nil {
		return m.fail(Verifying, -1, err)
	}
	if len(res.Status) < 5 {
		return m.fail(Verifying, -1, diagerr.Protocol("check routine", errors.New("response carries no CRC32")))
	}
	if res.Status[0] != 0x00 {
		return m.fail(Verifying, -1, &udsclient.RoutineFailedError{ID: plan.CheckRoutine, Status: res.Status})
	}
	m.mu.Lock()
	want := m.job.Checksum
	m.mu.Unlock()
	got := binary.BigEndian.Uint32(res.Status[1:5])
	if got == want {
		return nil
	}
	m.logger.Printf("[flash] ECU CRC32 %08X, 本地 %08X, 读回定位", got, want)
	idx, err := m.readBack(ctx, plan)
	if err != nil {
		return m.fail(Verifying, idx, err)
	}
	return &TransferError{Phase: Verifying, BlockIndex: idx, Err: ErrChecksumMismatch}
}

// readBack 逐块读回比较，返回第一个不一致的块，全部一致返回 -1
func (m *Manager) readBack(ctx context.Context, plan Plan) (int, error) {
	m.mu.Lock()
	blockSize := m.job.BlockSize
	m.mu.Unlock()
	chunk := max(m.client.MaxReadChunk(), 1)
	for i, off := 0, 0; off < len(plan.Data); i, off = i+1, off+blockSize {
		m.setBlock(i)
		want := plan.Data[off:min(off+blockSize, len(plan.Data))]
		for pos := 0; pos < len(want); pos += chunk {
			n := min(chunk, len(want)-pos)
			got, err := m.client.ReadMemory(ctx, plan.Address+uint32(off+pos), n)
			if err != nil {
				return i, err
			}
			if !bytes.Equal(got, want[pos:pos+n]) {
				m.logger.Printf("[flash] 块 %d 读回不一致", i)
				return i, nil
			}
		}
	}
	return -1, nil
}
