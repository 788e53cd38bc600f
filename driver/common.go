package driver

import (
	"context"
	"time"

	"github.com/LoveWonYoung/udsdiag/tp"
)

// UnifiedCANMessage 是一个通用的CAN/CAN-FD消息结构体，用于在channel中传递。
// 它屏蔽了底层 CAN_MSG 和 CANFD_MSG 的差异。DLC 为实际数据字节数。
type UnifiedCANMessage struct {
	ID         uint32
	DLC        byte
	Data       [64]byte // 使用64字节以兼容CAN-FD
	IsFD       bool     // 标志位，用于区分是CAN还是CAN-FD消息
	IsExtended bool
	BRS        bool
	Timestamp  time.Time
}

// CANDriver 定义了CAN/CAN-FD驱动的统一接口
type CANDriver interface {
	Init() error
	Start()
	Stop() error
	Write(msg UnifiedCANMessage) error
	RxChan() <-chan UnifiedCANMessage
	Context() context.Context
}

// CanType 定义 CAN 类型
type CanType byte

const (
	CAN   CanType = 0
	CANFD CanType = 1
)

func (c CanType) String() string {
	if c == CANFD {
		return "CANFD"
	}
	return "CAN  "
}

// 缓冲区配置常量
const (
	RxChannelBufferSize = 1024
	MsgBufferSize       = 1024
	PollingInterval     = time.Millisecond
	InitDelay           = 20 * time.Millisecond

	maxToomossDevices = 10
)

// Payload 返回有效数据部分，DLC 超出数组时按数组长度截断。
func (m *UnifiedCANMessage) Payload() []byte {
	n := int(m.DLC)
	if n > len(m.Data) {
		n = len(m.Data)
	}
	return m.Data[:n]
}

// ToCanMessage 转换为协议栈使用的帧，数据被复制。
func (m *UnifiedCANMessage) ToCanMessage() tp.CanMessage {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return tp.CanMessage{
		ArbitrationID: m.ID,
		Data:          append([]byte(nil), m.Payload()...),
		IsExtendedID:  m.IsExtended,
		IsFD:          m.IsFD,
		BitrateSwitch: m.BRS,
		Timestamp:     ts,
	}
}

// FromCanMessage 把协议栈帧转换为设备层帧。调用方需先检查数据长度。
func FromCanMessage(msg tp.CanMessage) UnifiedCANMessage {
	u := UnifiedCANMessage{
		ID:         msg.ArbitrationID,
		DLC:        byte(len(msg.Data)),
		IsFD:       msg.IsFD,
		IsExtended: msg.IsExtendedID,
		BRS:        msg.BitrateSwitch,
		Timestamp:  msg.Timestamp,
	}
	copy(u.Data[:], msg.Data)
	return u
}
