//go:build windows

package driver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"syscall"
	"time"
	"unsafe"
)

type CANFD_INIT_CONFIG struct {
	Mode         byte
	ISOCRCEnable byte
	RetrySend    byte
	ResEnable    byte
	NBT_BRP      byte
	NBT_SEG1     byte
	NBT_SEG2     byte
	NBT_SJW      byte
	DBT_BRP      byte
	DBT_SEG1     byte
	DBT_SEG2     byte
	DBT_SJW      byte
	__Res0       [8]byte
}

type CANFD_MSG struct {
	ID        uint32
	DLC       byte
	Flags     byte
	__Res0    byte
	__Res1    byte
	TimeStamp uint32
	Data      [64]byte
}

const (
	CanChannel  = 0
	SpeedBpsNBT = 500_000
	SpeedBpsDBT = 2_000_000
)

const (
	CANFD_MSG_FLAG_BRS = 0x01 // CANFD加速帧标志
	CANFD_MSG_FLAG_ESI = 0x02 // CANFD错误状态指示
	CANFD_MSG_FLAG_FDF = 0x04 // CANFD帧标志
	CANFD_MSG_FLAG_IDE = 0x80 // 扩展帧标志
)

// Toomoss 是 USB2XXX CAN-FD 适配器的驱动
type Toomoss struct {
	lib     *usb2xxx
	index   int
	handle  int32
	opened  bool
	rxChan  chan UnifiedCANMessage
	ctx     context.Context
	cancel  context.CancelFunc
	canType CanType
	done    chan struct{}

	stopOnce sync.Once
}

func NewToomoss(index int, canType CanType) (*Toomoss, error) {
	lib, err := loadUSB2XXX()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Toomoss{
		lib:     lib,
		index:   index,
		rxChan:  make(chan UnifiedCANMessage, RxChannelBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		canType: canType,
		done:    make(chan struct{}),
	}, nil
}

func (c *Toomoss) Init() error {
	handles := c.lib.scanDevices()
	if c.index >= len(handles) {
		return fmt.Errorf("toomoss device %d not found (%d connected)", c.index, len(handles))
	}
	c.handle = handles[c.index]
	if !c.lib.open(c.handle) {
		return fmt.Errorf("错误: 打开USB设备 %d 失败", c.index)
	}
	c.opened = true

	cfg := CANFD_INIT_CONFIG{
		Mode:         0,
		RetrySend:    1,
		ISOCRCEnable: 1,
		ResEnable:    1,
		NBT_BRP:      1,
		NBT_SEG1:     59,
		NBT_SEG2:     20,
		NBT_SJW:      2,
		DBT_BRP:      1,
		DBT_SEG1:     14,
		DBT_SEG2:     5,
		DBT_SJW:      2,
	}
	h := uintptr(c.handle)
	fdSpeed, _, _ := syscall.SyscallN(c.lib.canfdGetSpeedArg, h, uintptr(unsafe.Pointer(&cfg)), uintptr(SpeedBpsNBT), uintptr(SpeedBpsDBT))
	canfdInit, _, _ := syscall.SyscallN(c.lib.canfdInit, h, uintptr(CanChannel), uintptr(unsafe.Pointer(&cfg)))
	fdStart, _, _ := syscall.SyscallN(c.lib.canfdStartGetMsg, h, uintptr(CanChannel))
	time.Sleep(InitDelay)
	if !(canfdInit == 0 && fdStart == 0 && fdSpeed == 0) {
		return errors.New("错误: CAN硬件初始化失败！")
	}
	log.Println("CAN硬件初始化成功。")
	return nil
}

func (c *Toomoss) Start() {
	go func() {
		defer close(c.done)
		c.readLoop()
	}()
}

// Stop 停止读取并关闭USB设备。Init 失败后调用也是安全的。
func (c *Toomoss) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		select {
		case <-c.done:
		case <-time.After(100 * PollingInterval):
		}
		if !c.opened {
			return
		}
		syscall.SyscallN(c.lib.canfdStopGetMsg, uintptr(c.handle), uintptr(CanChannel))
		if !c.lib.close(c.handle) {
			err = fmt.Errorf("关闭USB设备 %d 失败", c.index)
		}
	})
	return err
}

func (c *Toomoss) readLoop() {
	defer close(c.rxChan)
	ticker := time.NewTicker(PollingInterval)
	defer ticker.Stop()
	var buf [MsgBufferSize]CANFD_MSG
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			n, _, _ := syscall.SyscallN(
				c.lib.canfdGetMsg,
				uintptr(c.handle),
				uintptr(CanChannel),
				uintptr(unsafe.Pointer(&buf[0])),
				uintptr(len(buf)),
			)
			if int32(n) <= 0 {
				continue
			}
			for i := 0; i < int(n); i++ {
				raw := buf[i]
				if raw.DLC == 0 || raw.DLC > 64 {
					continue
				}
				msg := UnifiedCANMessage{
					ID:         raw.ID & 0x1FFFFFFF,
					DLC:        raw.DLC,
					Data:       raw.Data,
					IsFD:       raw.Flags&CANFD_MSG_FLAG_FDF != 0,
					BRS:        raw.Flags&CANFD_MSG_FLAG_BRS != 0,
					IsExtended: raw.Flags&CANFD_MSG_FLAG_IDE != 0,
					Timestamp:  time.Now(),
				}
				select {
				case c.rxChan <- msg:
				default:
					log.Println("警告: 驱动接收channel(FD)已满，消息被丢弃")
				}
			}
		}
	}
}

func (c *Toomoss) Write(msg UnifiedCANMessage) error {
	payload := msg.Payload()
	switch {
	case len(payload) == 0:
		return fmt.Errorf("数据长度 %d ", len(payload))
	case len(payload) > 64:
		return fmt.Errorf("数据长度 %d 超过CAN-FD最大长度64", len(payload))
	case len(payload) > 8 && !msg.IsFD:
		return fmt.Errorf("数据长度 %d 超过CAN最大长度8", len(payload))
	}
	if msg.IsFD && c.canType != CANFD {
		return errors.New("CAN FD frame on a classic CAN channel")
	}

	var out [1]CANFD_MSG
	out[0].ID = msg.ID
	if msg.IsFD {
		out[0].Flags |= CANFD_MSG_FLAG_FDF
		if msg.BRS {
			out[0].Flags |= CANFD_MSG_FLAG_BRS
		}
	}
	if msg.IsExtended {
		out[0].Flags |= CANFD_MSG_FLAG_IDE
	}
	out[0].DLC = byte(len(payload))
	out[0].Data = msg.Data
	ret, _, _ := syscall.SyscallN(c.lib.canfdSendMsg, uintptr(c.handle), uintptr(CanChannel), uintptr(unsafe.Pointer(&out[0])), uintptr(len(out)))
	if int(ret) != len(out) {
		return fmt.Errorf("CAN/CANFD消息发送失败, ID=0x%03X", msg.ID)
	}
	return nil
}

func (c *Toomoss) RxChan() <-chan UnifiedCANMessage { return c.rxChan }

func (c *Toomoss) Context() context.Context { return c.ctx }
