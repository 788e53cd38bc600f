// Package udsclient 实现 UDS (ISO 14229) 请求状态机、会话与安全访问管理。
package udsclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/LoveWonYoung/udsdiag/tp"
	retry "github.com/avast/retry-go/v4"
	"github.com/jellydator/ttlcache/v3"
)

// Link 是 UDS 使用的报文通道，*tp.Transport 实现了该接口
type Link interface {
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context, timeout time.Duration) ([]byte, error)
	Flush()
}

// 可选：报文通道声明单条报文的最大长度
type frameSizer interface {
	MaxFrameSize() int
}

// Options 客户端配置，零值字段使用默认值
type Options struct {
	P2                 time.Duration // 默认 150ms
	P2Star             time.Duration // 收到 0x78 后的等待时间，默认 5s
	MaxResponsePending int           // 单个请求允许的 0x78 次数
	BusyRetries        int           // 0x21 重发次数
	BusyRetryDelay     time.Duration

	ReadRetries    uint // 幂等读请求的总尝试次数
	ReadRetryDelay time.Duration

	S3                time.Duration
	KeepAliveInterval time.Duration

	MaxKeyAttempts int
	Cooldown       time.Duration
	// LevelPolicies 按等级覆盖 MaxKeyAttempts 和 Cooldown
	LevelPolicies map[byte]LevelPolicy

	MemoryFormat MemoryFormat
	// MaxMessageSize 为 0 时取 Link 的 MaxFrameSize，否则 4095
	MaxMessageSize int

	DTCDescriptions map[uint32]string

	Logger *log.Logger
}

// LevelPolicy 单个安全等级的锁定策略，零值字段沿用全局配置
type LevelPolicy struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// DefaultOptions 返回默认配置
func DefaultOptions() Options {
	return Options{
		P2:                 150 * time.Millisecond,
		P2Star:             5 * time.Second,
		MaxResponsePending: 20,
		BusyRetries:        3,
		BusyRetryDelay:     100 * time.Millisecond,
		ReadRetries:        3,
		ReadRetryDelay:     50 * time.Millisecond,
		S3:                 5 * time.Second,
		KeepAliveInterval:  2 * time.Second,
		MaxKeyAttempts:     3,
		Cooldown:           10 * time.Second,
		MemoryFormat:       DefaultMemoryFormat,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.P2 <= 0 {
		o.P2 = d.P2
	}
	if o.P2Star <= 0 {
		o.P2Star = d.P2Star
	}
	if o.MaxResponsePending <= 0 {
		o.MaxResponsePending = d.MaxResponsePending
	}
	if o.BusyRetries < 0 {
		o.BusyRetries = 0
	}
	if o.BusyRetryDelay <= 0 {
		o.BusyRetryDelay = d.BusyRetryDelay
	}
	// retry-go 的 Attempts(0) 表示无限重试
	if o.ReadRetries == 0 {
		o.ReadRetries = d.ReadRetries
	}
	if o.ReadRetryDelay <= 0 {
		o.ReadRetryDelay = d.ReadRetryDelay
	}
	if o.S3 <= 0 {
		o.S3 = d.S3
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = d.KeepAliveInterval
	}
	if o.MaxKeyAttempts <= 0 {
		o.MaxKeyAttempts = d.MaxKeyAttempts
	}
	if o.Cooldown <= 0 {
		o.Cooldown = d.Cooldown
	}
	if o.MemoryFormat == (MemoryFormat{}) {
		o.MemoryFormat = d.MemoryFormat
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Client 是 UDS 客户端。同一时间只有一个请求在途。
type Client struct {
	link   Link
	opts   Options
	logger *log.Logger

	// 单槽信号量，前台请求阻塞获取，保活只尝试获取
	sem chan struct{}

	mu      sync.Mutex
	session Session

	cooldown *ttlcache.Cache[byte, struct{}]
	now      func() time.Time
}

// New 创建客户端
func New(link Link, opts Options) (*Client, error) {
	if link == nil {
		return nil, errors.New("link must not be nil")
	}
	opts = opts.withDefaults()
	if err := opts.MemoryFormat.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = tp.MaxClassicFrameSize
		if fs, ok := link.(frameSizer); ok {
			opts.MaxMessageSize = fs.MaxFrameSize()
		}
	}
	return &Client{
		link:    link,
		opts:    opts,
		logger:  opts.Logger,
		sem:     make(chan struct{}, 1),
		session: NewSession(),
		cooldown: ttlcache.New[byte, struct{}](
			ttlcache.WithTTL[byte, struct{}](opts.Cooldown),
			ttlcache.WithDisableTouchOnHit[byte, struct{}](),
		),
		now: time.Now,
	}, nil
}

// Options 返回生效的配置
func (c *Client) Options() Options { return c.opts }

// Session 返回当前会话快照
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) updateSession(fn func(Session) Session) Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = fn(c.session)
	return c.session
}

func (c *Client) touch() {
	now := c.now()
	c.updateSession(func(s Session) Session { return s.Touched(now) })
}

// expireSession 在 S3 已经过期时把会话重置到默认状态
func (c *Client) expireSession() bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Expired(now, c.opts.S3) {
		c.logger.Printf("S3 expired in %s, back to default session", c.session.Type)
		c.session = c.session.Reset()
		return true
	}
	return false
}

// Close 把会话重置为默认状态
func (c *Client) Close() {
	c.updateSession(func(s Session) Session { return s.Reset() })
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) tryAcquire() bool {
	select {
	case c.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Client) release() { <-c.sem }

func (c *Client) maxMessageSize() int { return c.opts.MaxMessageSize }

// Do 发送一条请求并等待正响应。
//   - 0x78 把等待时间延长到 P2*，次数受 MaxResponsePending 限制
//   - 0x21 等待 BusyRetryDelay 后重发，最多 BusyRetries 次
//   - 其它负响应返回 *NegativeResponseError
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if err := c.acquire(ctx); err != nil {
		return Response{}, err
	}
	defer c.release()
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req Request) (Response, error) {
	payload := req.Encode()
	if len(payload) > c.maxMessageSize() {
		return Response{}, &RequestTooLargeError{Op: fmt.Sprintf("SID %s", req.Service), Size: len(payload), Max: c.maxMessageSize()}
	}
	c.expireSession()

	for busy := 0; ; busy++ {
		// 发送前清空可能存在的旧响应
		c.link.Flush()
		if err := c.link.Send(ctx, payload); err != nil {
			return Response{}, classifyLinkErr("send request", err)
		}
		c.touch()
		if req.SuppressesPositiveResponse() {
			return Response{Service: req.Service}, nil
		}

		resp, err := c.await(ctx, req.Service)
		if IsNRC(err, NRCBusyRepeatRequest) && busy < c.opts.BusyRetries {
			c.logger.Printf("SID %s busy, repeating request (%d/%d)", req.Service, busy+1, c.opts.BusyRetries)
			if err := sleepCtx(ctx, c.opts.BusyRetryDelay); err != nil {
				return Response{}, err
			}
			continue
		}
		return resp, err
	}
}

func (c *Client) await(ctx context.Context, sid ServiceID) (Response, error) {
	timeout := c.opts.P2
	pending := 0
	for {
		data, err := c.link.Recv(ctx, timeout)
		if err != nil {
			var rxTimeout tp.RxTimeoutError
			if errors.As(err, &rxTimeout) {
				return Response{}, &ResponseTimeoutError{Service: sid, Waited: timeout, Pending: pending}
			}
			return Response{}, classifyLinkErr("receive response", err)
		}
		c.touch()

		if len(data) == 0 {
			return Response{}, unexpected(sid, data, "empty response")
		}
		if data[0] == NegativeResponseSID {
			if len(data) < 3 {
				return Response{}, unexpected(sid, data, "malformed negative response")
			}
			if ServiceID(data[1]) != sid {
				return Response{}, unexpected(sid, data, "negative response for SID 0x%02X", data[1])
			}
			nrc := NRC(data[2])
			if nrc == NRCResponsePending {
				pending++
				if pending > c.opts.MaxResponsePending {
					return Response{}, &ResponseTimeoutError{Service: sid, Waited: timeout, Pending: pending}
				}
				c.logger.Printf("收到 Response Pending (SID=0x%02X)，继续等待...", data[1])
				timeout = c.opts.P2Star
				continue
			}
			return Response{}, &NegativeResponseError{ServiceID: sid, Code: nrc}
		}
		if data[0] != sid.PositiveResponse() {
			return Response{}, unexpected(sid, data, "响应 SID 不匹配: 期望 0x%02X", sid.PositiveResponse())
		}
		return Response{Service: sid, Data: data[1:]}, nil
	}
}

// Settle 丢弃被取消的请求迟到的响应，直到 P2 内没有新报文。
// 收到 0x78 时改为等待 P2*。
func (c *Client) Settle(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	timeout := c.opts.P2
	for {
		data, err := c.link.Recv(ctx, timeout)
		if err != nil {
			var rxTimeout tp.RxTimeoutError
			if errors.As(err, &rxTimeout) {
				return nil
			}
			return classifyLinkErr("settle", err)
		}
		c.touch()
		c.logger.Printf("discarding late response % X", data)
		timeout = c.opts.P2
		if len(data) >= 3 && data[0] == NegativeResponseSID && NRC(data[2]) == NRCResponsePending {
			timeout = c.opts.P2Star
		}
	}
}

// doRead 对幂等读请求在传输层和超时错误上重试
func (c *Client) doRead(ctx context.Context, req Request) (Response, error) {
	return retry.DoWithData(
		func() (Response, error) {
			resp, err := c.Do(ctx, req)
			if err != nil && !diagerr.IsTransient(err) {
				return resp, retry.Unrecoverable(err)
			}
			return resp, err
		},
		retry.Context(ctx),
		retry.Attempts(c.opts.ReadRetries),
		retry.Delay(c.opts.ReadRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Printf("SID %s retry %d: %v", req.Service, n+1, err)
		}),
	)
}

// classifyLinkErr 保证离开本包的错误都有分类
func classifyLinkErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if diagerr.Kind(err) != nil {
		return err
	}
	return diagerr.Transport(op, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
