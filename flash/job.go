package flash

import (
	"fmt"
	"time"

	"github.com/LoveWonYoung/udsdiag/seedkey"
	"github.com/LoveWonYoung/udsdiag/udsclient"
)

// Phase 刷写任务的阶段
type Phase int

const (
	Idle Phase = iota
	Unlocking
	Erasing
	Transferring
	Verifying
	Done
	Failed
)

var phaseNames = [...]string{"idle", "unlocking", "erasing", "transferring", "verifying", "done", "failed"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Terminal 表示任务已经结束
func (p Phase) Terminal() bool { return p == Done || p == Failed }

// Method 数据写入方式
type Method int

const (
	// MethodDownload 使用 0x34/0x36/0x37
	MethodDownload Method = iota
	// MethodWriteMemory 使用 0x3D
	MethodWriteMemory
)

func (m Method) String() string {
	if m == MethodWriteMemory {
		return "write-memory"
	}
	return "download"
}

// VerifyMode 写入后的校验方式
type VerifyMode int

const (
	// VerifyReadBack 逐块读回比较
	VerifyReadBack VerifyMode = iota
	// VerifyECUChecksum 调用 ECU 的校验例程，与本地 CRC32 比较
	VerifyECUChecksum
	VerifyNone
)

func (v VerifyMode) String() string {
	switch v {
	case VerifyECUChecksum:
		return "ecu-checksum"
	case VerifyNone:
		return "none"
	}
	return "read-back"
}

const (
	DefaultEraseRoutine uint16 = 0xFF00
	DefaultCheckRoutine uint16 = 0x0202
	defaultTeardown            = 2 * time.Second
)

// Plan 描述一次刷写
type Plan struct {
	Address uint32
	Data    []byte

	SecurityLevel byte
	Key           seedkey.KeyFunc

	Method Method
	// BlockSize 为 0 时由 ECU 和链路决定，否则作为上限
	BlockSize int
	// DataFormat 0x34 的 dataFormatIdentifier，0 表示不压缩不加密
	DataFormat byte
	Verify     VerifyMode

	SkipErase    bool
	EraseRoutine uint16
	CheckRoutine uint16
	Poll         udsclient.PollOptions
}

func (p Plan) withDefaults() Plan {
	if p.EraseRoutine == 0 {
		p.EraseRoutine = DefaultEraseRoutine
	}
	if p.CheckRoutine == 0 {
		p.CheckRoutine = DefaultCheckRoutine
	}
	return p
}

// Job 是一次刷写的进度记录
type Job struct {
	Address     uint32
	Length      int
	BlockSize   int
	Transferred int
	// BlockChecksums 每个已发送块的 CRC32
	BlockChecksums []uint32
	// Checksum 已发送数据的累计 CRC32
	Checksum uint32
}

// Blocks 返回任务总块数，块大小未确定时为 0
func (j Job) Blocks() int {
	if j.BlockSize <= 0 {
		return 0
	}
	return (j.Length + j.BlockSize - 1) / j.BlockSize
}

func (j Job) clone() Job {
	j.BlockChecksums = append([]uint32(nil), j.BlockChecksums...)
	return j
}

// Status 是某一时刻的任务快照
type Status struct {
	Phase Phase
	Job   Job
	Err   error
}

func (s Status) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s (%d/%d bytes): %v", s.Phase, s.Job.Transferred, s.Job.Length, s.Err)
	}
	return fmt.Sprintf("%s (%d/%d bytes)", s.Phase, s.Job.Transferred, s.Job.Length)
}
