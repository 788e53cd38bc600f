package driver

import (
	"fmt"
	"log"

	"github.com/LoveWonYoung/udsdiag/tp"
)

// Tracer 按固定格式记录收发的每一帧
type Tracer struct {
	logger *log.Logger
}

func NewTracer(logger *log.Logger) *Tracer {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracer{logger: logger}
}

// FormatFrame 统一的CAN消息日志格式
func FormatFrame(direction string, msg *tp.CanMessage) string {
	typeStr := CAN
	if msg.IsFD {
		typeStr = CANFD
	}
	return fmt.Sprintf("%s %s: ID=0x%03X, DLC=%02d, Data=% 02X", direction, typeStr, msg.ArbitrationID, len(msg.Data), msg.Data)
}

// Trace 记录一帧，nil Tracer 不做任何事
func (t *Tracer) Trace(direction string, msg *tp.CanMessage) {
	if t == nil {
		return
	}
	t.logger.Print(FormatFrame(direction, msg))
}
