package diag

import (
	"context"
	"sync"
	"time"

	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/LoveWonYoung/udsdiag/tp"
)

// busLink 在 tp.Transport 上叠加总线发送结果。
// Transport 把帧放进 tx 通道就算发送成功，真正的 bus.Send 失败由发送泵通过 sendFailed 报告，
// 在下一次 Send/Recv 时作为 Transport 错误返回；Flush (每条请求之前) 清除记录。
type busLink struct {
	*tp.Transport

	mu   sync.Mutex
	err  error
	fail chan struct{}
}

func newBusLink(t *tp.Transport) *busLink {
	return &busLink{Transport: t, fail: make(chan struct{}, 1)}
}

// sendFailed 由发送泵调用
func (l *busLink) sendFailed(err error) {
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
	select {
	case l.fail <- struct{}{}:
	default:
	}
}

func (l *busLink) busErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil {
		return nil
	}
	return diagerr.Transport("bus send", l.err)
}

func (l *busLink) Send(ctx context.Context, data []byte) error {
	err := l.Transport.Send(ctx, data)
	if ctx.Err() != nil {
		return err
	}
	if be := l.busErr(); be != nil {
		return be
	}
	return err
}

// Recv 总线发送失败时立即返回，不再等满超时
func (l *busLink) Recv(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if be := l.busErr(); be != nil {
		return nil, be
	}
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.fail:
			cancel()
		case <-rctx.Done():
		}
	}()
	data, err := l.Transport.Recv(rctx, timeout)
	if err == nil || ctx.Err() != nil {
		return data, err
	}
	if be := l.busErr(); be != nil {
		return nil, be
	}
	return data, err
}

func (l *busLink) Flush() {
	l.Transport.Flush()
	l.mu.Lock()
	l.err = nil
	l.mu.Unlock()
	select {
	case <-l.fail:
	default:
	}
}
