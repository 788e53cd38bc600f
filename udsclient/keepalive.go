package udsclient

import (
	"context"
	"time"
)

// RunKeepAlive 周期性发送 3E 80 维持非默认会话或已解锁的等级，直到 ctx 结束。
// 前台请求占用通道时跳过本次；S3 已经过期时只在本地重置会话。
func (c *Client) RunKeepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.opts.KeepAliveInterval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.keepAliveTick(ctx)
		}
	}
}

func (c *Client) keepAliveTick(ctx context.Context) {
	if c.expireSession() {
		return
	}
	s := c.Session()
	if !s.NeedsKeepAlive() || c.now().Sub(s.LastActivity) < c.opts.KeepAliveInterval {
		return
	}
	if !c.tryAcquire() {
		return
	}
	defer c.release()
	if _, err := c.do(ctx, NewSubRequest(SIDTesterPresent, SuppressPositiveResponse)); err != nil && ctx.Err() == nil {
		c.logger.Printf("tester present failed: %v", err)
	}
}
