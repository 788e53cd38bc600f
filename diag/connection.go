// Package diag 把后端、ISO-TP、UDS 和刷写管理组装为一个诊断连接
package diag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/LoveWonYoung/udsdiag/driver"
	"github.com/LoveWonYoung/udsdiag/flash"
	"github.com/LoveWonYoung/udsdiag/seedkey"
	"github.com/LoveWonYoung/udsdiag/tp"
	"github.com/LoveWonYoung/udsdiag/udsclient"
)

// 通道缓冲区大小常量
const (
	busRxBufferSize = 100
	busTxBufferSize = 100
	busPollTimeout  = 50 * time.Millisecond
)

// Options 连接配置，零值字段使用默认值
type Options struct {
	Driver driver.Options
	// Address 为 nil 时使用 0x7E0/0x7E8 11 位普通寻址
	Address *tp.Address
	// ISOTP 为 nil 时使用 tp.DefaultConfig，CanFD 跟随 Driver.CanFD
	ISOTP *tp.Config
	UDS   udsclient.Options
	// KeepAlive 在非默认会话或已解锁时自动发送 3E 80
	KeepAlive bool
	Logger    *log.Logger
}

func (o Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

// Connection 是一条打开的诊断连接
type Connection struct {
	bus       driver.Bus
	sim       *driver.SimECU
	transport *tp.Transport
	client    *udsclient.Client
	flash     *flash.Manager
	logger    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	closeOnce sync.Once
	closeErr  error
}

// Connect 解析描述符，打开后端并启动协议栈
func Connect(ctx context.Context, descriptor string, opts Options) (*Connection, error) {
	desc, err := driver.ParseDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dopts := opts.Driver
	if dopts.Logger == nil {
		dopts.Logger = opts.logger()
	}
	if desc.Kind == driver.KindSim {
		if dopts.Sim.Address == nil {
			dopts.Sim.Address = opts.Address
		}
		if dopts.Sim.Logger == nil {
			dopts.Sim.Logger = dopts.Logger
		}
	}
	conn, err := driver.Open(desc, dopts)
	if err != nil {
		return nil, err
	}
	c, err := ConnectBus(ctx, conn, opts)
	if err != nil {
		if cerr := conn.Close(); cerr != nil {
			opts.logger().Printf("closing %s after failed connect: %v", desc, cerr)
		}
		return nil, err
	}
	c.sim = conn.Simulator()
	opts.logger().Printf("已连接 %s", desc)
	return c, nil
}

// ConnectBus 在已经打开的总线上启动协议栈，Disconnect 会关闭该总线
func ConnectBus(ctx context.Context, bus driver.Bus, opts Options) (*Connection, error) {
	if bus == nil {
		return nil, diagerr.InvalidArgument("connect", "bus must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := opts.logger()
	addr := opts.Address
	if addr == nil {
		addr = driver.DefaultSimAddress()
	}
	cfg := tp.DefaultConfig()
	if opts.ISOTP != nil {
		cfg = *opts.ISOTP
	} else {
		cfg.CanFD = opts.Driver.CanFD
	}
	transport, err := tp.NewTransport(addr, cfg, logger)
	if err != nil {
		return nil, diagerr.InvalidArgument("connect", "%v", err)
	}
	udsOpts := opts.UDS
	if udsOpts.Logger == nil {
		udsOpts.Logger = logger
	}
	link := newBusLink(transport)
	client, err := udsclient.New(link, udsOpts)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	c := &Connection{
		bus:       bus,
		transport: transport,
		client:    client,
		flash:     flash.NewManager(client, logger),
		logger:    logger,
		ctx:       gctx,
		cancel:    cancel,
		group:     g,
	}

	rx := make(chan tp.CanMessage, busRxBufferSize)
	tx := make(chan tp.CanMessage, busTxBufferSize)

	// a. 从总线接收数据，送入协议栈
	g.Go(func() error {
		for {
			msg, err := bus.Receive(busPollTimeout)
			if gctx.Err() != nil {
				return nil
			}
			if errors.Is(err, driver.ErrRxTimeout) {
				continue
			}
			if err != nil {
				return err
			}
			select {
			case rx <- msg:
			case <-gctx.Done():
				return nil
			}
		}
	})

	// b. 从协议栈获取待发送数据，通过总线发送
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case msg := <-tx:
				if err := bus.Send(gctx, msg); err != nil && gctx.Err() == nil {
					logger.Printf("[bus] %v", err)
					link.sendFailed(err)
				}
			}
		}
	})

	// c. 驱动协议栈核心状态机
	g.Go(func() error {
		transport.Run(gctx, rx, tx)
		return nil
	})

	// d. 监听协议栈错误
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-transport.ErrorChan:
				logger.Printf("[tp Error] %v", err)
			}
		}
	})

	if opts.KeepAlive {
		g.Go(func() error {
			client.RunKeepAlive(gctx)
			return nil
		})
	}
	return c, nil
}

// alive 在连接关闭后返回 driver.ErrClosed
func (c *Connection) alive() error {
	if c.ctx.Err() != nil {
		return driver.ErrClosed
	}
	return nil
}

func (c *Connection) StartSession(ctx context.Context, t udsclient.SessionType) error {
	if err := c.alive(); err != nil {
		return err
	}
	return c.client.StartSession(ctx, t)
}

func (c *Connection) SecurityAccess(ctx context.Context, level byte, key seedkey.KeyFunc) (udsclient.AccessResult, error) {
	if err := c.alive(); err != nil {
		return udsclient.AccessResult{}, err
	}
	return c.client.SecurityAccess(ctx, level, key)
}

// ReadMemory 读取任意长度，超过单条报文上限时分块读取
func (c *Connection) ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	if n <= c.client.MaxReadChunk() {
		return c.client.ReadMemory(ctx, addr, n)
	}
	var buf bytes.Buffer
	if _, err := flash.Dump(ctx, c.client, addr, n, 0, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteMemory 写入任意长度，超过单条报文上限时分块写入
func (c *Connection) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	if err := c.alive(); err != nil {
		return err
	}
	chunk := c.client.MaxWriteChunk()
	if chunk < 1 {
		return diagerr.InvalidArgument("write memory", "link too small for any data")
	}
	if len(data) == 0 {
		return c.client.WriteMemory(ctx, addr, data)
	}
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		if err := c.client.WriteMemory(ctx, addr+uint32(off), data[off:end]); err != nil {
			if off > 0 {
				return fmt.Errorf("write memory at 0x%08X: %w", addr+uint32(off), err)
			}
			return err
		}
	}
	return nil
}

func (c *Connection) ReadDTC(ctx context.Context, mask byte) ([]udsclient.DTCRecord, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	return c.client.ReadDTC(ctx, mask)
}

func (c *Connection) ClearDTC(ctx context.Context) error {
	if err := c.alive(); err != nil {
		return err
	}
	return c.client.ClearDTC(ctx)
}

func (c *Connection) ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	return c.client.ReadDataByIdentifier(ctx, did)
}

func (c *Connection) WriteDataByIdentifier(ctx context.Context, did uint16, data []byte) error {
	if err := c.alive(); err != nil {
		return err
	}
	return c.client.WriteDataByIdentifier(ctx, did, data)
}

func (c *Connection) ECUReset(ctx context.Context, t udsclient.ResetType) error {
	if err := c.alive(); err != nil {
		return err
	}
	return c.client.ECUReset(ctx, t)
}

// BeginFlashTransfer 启动后台刷写，任务与连接同生命周期
func (c *Connection) BeginFlashTransfer(plan flash.Plan) error {
	if err := c.alive(); err != nil {
		return err
	}
	return c.flash.Begin(c.ctx, plan)
}

func (c *Connection) PollTransfer() flash.Status { return c.flash.Poll() }

func (c *Connection) WaitTransfer(ctx context.Context) (flash.Status, error) {
	return c.flash.Wait(ctx)
}

func (c *Connection) AbortTransfer() flash.Status { return c.flash.Abort() }

// Dump 把一段内存原样写入 w
func (c *Connection) Dump(ctx context.Context, addr uint32, length int, w io.Writer) (int64, error) {
	if err := c.alive(); err != nil {
		return 0, err
	}
	return flash.Dump(ctx, c.client, addr, length, 0, w)
}

// Session 返回本地记录的会话状态
func (c *Connection) Session() udsclient.Session { return c.client.Session() }

// Client 返回底层 UDS 客户端，用于连接上没有封装的服务
func (c *Connection) Client() *udsclient.Client { return c.client }

// Simulator 仅 sim 后端返回模拟ECU
func (c *Connection) Simulator() *driver.SimECU { return c.sim }

// Disconnect 停止刷写和所有后台 goroutine，关闭总线并重置会话。可重复调用。
func (c *Connection) Disconnect() error {
	c.closeOnce.Do(func() {
		c.flash.Abort()
		c.cancel()
		var errs []error
		if err := c.group.Wait(); err != nil {
			errs = append(errs, err)
		}
		if err := c.bus.Close(); err != nil {
			errs = append(errs, err)
		}
		c.client.Close()
		if err := errors.Join(errs...); err != nil {
			c.closeErr = diagerr.Transport("disconnect", err)
		}
		c.logger.Println("连接已断开")
	})
	return c.closeErr
}
