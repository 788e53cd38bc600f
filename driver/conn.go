package driver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LoveWonYoung/udsdiag/tp"
)

// Bus 是协议栈看到的CAN介质
type Bus interface {
	Send(ctx context.Context, frame tp.CanMessage) error
	// Receive 在 timeout 内没有帧到达时返回 ErrRxTimeout
	Receive(timeout time.Duration) (tp.CanMessage, error)
	// Close 可重复调用
	Close() error
}

// Conn 把一个 CANDriver 适配为 Bus
type Conn struct {
	driver CANDriver // 使用接口，使其可以同时支持 CAN 和 CAN-FD
	rxChan <-chan UnifiedCANMessage
	canFD  bool
	tracer *Tracer
	logger *log.Logger

	sim      *SimECU
	onClose  []func() error
	closed   chan struct{}
	closeErr error
	once     sync.Once
}

// NewConn 初始化并启动设备。初始化失败时设备会被释放。
func NewConn(dev CANDriver, opts Options) (*Conn, error) {
	if dev == nil {
		return nil, errors.New("CAN driver instance cannot be nil")
	}
	logger := opts.logger()
	if err := dev.Init(); err != nil {
		if stopErr := dev.Stop(); stopErr != nil {
			logger.Printf("releasing device after failed init: %v", stopErr)
		}
		return nil, fmt.Errorf("failed to initialize device: %w", err)
	}
	dev.Start()

	c := &Conn{
		driver: dev,
		rxChan: dev.RxChan(),
		canFD:  opts.CanFD,
		logger: logger,
		closed: make(chan struct{}),
	}
	if opts.Trace {
		c.tracer = NewTracer(logger)
	}
	return c, nil
}

// Send 发送一帧。总线关闭后返回 ErrClosed，设备写失败返回 *BusError。
func (c *Conn) Send(ctx context.Context, frame tp.CanMessage) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	maxLen := 8
	if frame.IsFD {
		if !c.canFD {
			return &BusError{Op: "send", Err: errors.New("CAN FD frame on a classic CAN bus")}
		}
		maxLen = 64
	}
	if len(frame.Data) > maxLen {
		return &BusError{Op: "send", Err: fmt.Errorf("数据长度 %d 超过最大长度 %d", len(frame.Data), maxLen)}
	}
	if err := c.driver.Write(FromCanMessage(frame)); err != nil {
		return &BusError{Op: "send", Err: err}
	}
	c.tracer.Trace("TX", &frame)
	return nil
}

// Receive 等待下一帧
func (c *Conn) Receive(timeout time.Duration) (tp.CanMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.closed:
		return tp.CanMessage{}, ErrClosed
	case m, ok := <-c.rxChan:
		if !ok {
			return tp.CanMessage{}, ErrClosed
		}
		msg := m.ToCanMessage()
		c.tracer.Trace("RX", &msg)
		return msg, nil
	case <-timer.C:
		return tp.CanMessage{}, ErrRxTimeout
	}
}

// Close 停止设备并释放资源，可重复调用
func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		var errs []error
		if err := c.driver.Stop(); err != nil {
			errs = append(errs, &BusError{Op: "close", Err: err})
		}
		for _, fn := range c.onClose {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// Simulator 返回 sim 后端的模拟ECU，其它后端返回 nil
func (c *Conn) Simulator() *SimECU { return c.sim }

// Context 返回底层设备的上下文
func (c *Conn) Context() context.Context { return c.driver.Context() }
