package flash

import (
	"fmt"

	"github.com/LoveWonYoung/udsdiag/diagerr"
)

var (
	// ErrChecksumMismatch 校验阶段发现数据不一致
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", diagerr.ErrTransfer)
	// ErrAborted 任务被 Abort 取消
	ErrAborted = fmt.Errorf("%w: transfer aborted", diagerr.ErrTransfer)
	// ErrBusy 已有任务在运行
	ErrBusy = fmt.Errorf("%w: a transfer is already running", diagerr.ErrTransfer)
)

// TransferError 记录任务失败时所处的阶段和块序号，BlockIndex 为 -1 表示与具体块无关
type TransferError struct {
	Phase      Phase
	BlockIndex int
	Err        error
}

func (e *TransferError) Error() string {
	if e.BlockIndex < 0 {
		return fmt.Sprintf("flash %s failed: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("flash %s failed at block %d: %v", e.Phase, e.BlockIndex, e.Err)
}

func (e *TransferError) Unwrap() []error { return []error{diagerr.ErrTransfer, e.Err} }
