package udsclient

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/LoveWonYoung/udsdiag/seedkey"
)

// SecurityChallenge 是一次 0x27 交互中的种子和密钥，只在单次调用中存在
type SecurityChallenge struct {
	Level byte
	Seed  []byte
	Key   []byte
}

// AccessResult 安全访问结果
type AccessResult struct {
	Level byte
	// AlreadyUnlocked 表示 ECU 返回了全零种子
	AlreadyUnlocked bool
}

// SecurityAccess 对奇数等级 level 请求种子，用 key 计算密钥并发送。
// 等级处于锁定延时中时直接返回 *CooldownError，不访问总线。
func (c *Client) SecurityAccess(ctx context.Context, level byte, key seedkey.KeyFunc) (AccessResult, error) {
	const op = "security access"
	if level == 0 || level%2 == 0 || level > 0x7D {
		return AccessResult{}, diagerr.InvalidArgument(op, "level 0x%02X is not a request-seed level", level)
	}
	if item := c.cooldown.Get(level); item != nil {
		return AccessResult{}, &CooldownError{Level: level, Remaining: time.Until(item.ExpiresAt())}
	}

	// 种子和密钥之间不允许插入保活请求
	if err := c.acquire(ctx); err != nil {
		return AccessResult{}, err
	}
	defer c.release()

	ch := SecurityChallenge{Level: level}
	resp, err := c.do(ctx, NewSubRequest(SIDSecurityAccess, level))
	if err != nil {
		return AccessResult{}, c.securityFailure(level, err)
	}
	if len(resp.Data) < 2 || resp.Data[0] != level {
		return AccessResult{}, unexpected(SIDSecurityAccess, resp.Data, "bad seed response")
	}
	ch.Seed = bytes.Clone(resp.Data[1:])

	if seedkey.IsZeroSeed(ch.Seed) {
		now := c.now()
		c.updateSession(func(s Session) Session { return s.Granted(level, now) })
		c.logger.Printf("security level 0x%02X already unlocked", level)
		return AccessResult{Level: level, AlreadyUnlocked: true}, nil
	}

	if key == nil {
		return AccessResult{}, &SecurityError{Level: level, Err: seedkey.ErrMissingSecret}
	}
	ch.Key, err = key(ch.Seed)
	if err != nil {
		return AccessResult{}, &SecurityError{Level: level, Err: err}
	}
	if len(ch.Key) == 0 {
		return AccessResult{}, &SecurityError{Level: level, Err: seedkey.ErrKeyLength}
	}

	resp, err = c.do(ctx, NewSubRequest(SIDSecurityAccess, level+1, ch.Key...))
	if err != nil {
		return AccessResult{}, c.securityFailure(level, err)
	}
	if len(resp.Data) < 1 || resp.Data[0] != level+1 {
		return AccessResult{}, unexpected(SIDSecurityAccess, resp.Data, "bad send-key response")
	}
	now := c.now()
	c.updateSession(func(s Session) Session { return s.Granted(level, now) })
	return AccessResult{Level: level}, nil
}

// securityFailure 处理 0x35/0x36/0x37，其它错误原样返回
func (c *Client) securityFailure(level byte, err error) error {
	nr, ok := asNegativeResponse(err)
	if !ok {
		return err
	}
	switch nr.Code {
	case NRCInvalidKey:
		now := c.now()
		s := c.updateSession(func(s Session) Session { return s.KeyRejected(level, now) })
		if maxAttempts, _ := c.policy(level); s.FailedAttempts >= maxAttempts {
			c.armCooldown(level)
		}
		return &SecurityError{Level: level, Attempts: s.FailedAttempts, Err: err}
	case NRCExceedNumberOfAttempts, NRCRequiredTimeDelayNotExpired:
		_, cooldown := c.policy(level)
		c.armCooldown(level)
		return &CooldownError{Level: level, Remaining: cooldown, Err: err}
	case NRCSecurityAccessDenied:
		return &SecurityError{Level: level, Err: err}
	}
	return err
}

// policy 返回该等级的最大尝试次数和锁定时间
func (c *Client) policy(level byte) (int, time.Duration) {
	maxAttempts, cooldown := c.opts.MaxKeyAttempts, c.opts.Cooldown
	if p, ok := c.opts.LevelPolicies[level]; ok {
		if p.MaxAttempts > 0 {
			maxAttempts = p.MaxAttempts
		}
		if p.Cooldown > 0 {
			cooldown = p.Cooldown
		}
	}
	return maxAttempts, cooldown
}

func (c *Client) armCooldown(level byte) {
	_, cooldown := c.policy(level)
	c.logger.Printf("security level 0x%02X locked for %v", level, cooldown)
	c.cooldown.Set(level, struct{}{}, cooldown)
}

// Cooldown 返回该等级剩余的锁定时间，未锁定时返回 0
func (c *Client) Cooldown(level byte) time.Duration {
	if item := c.cooldown.Get(level); item != nil {
		return time.Until(item.ExpiresAt())
	}
	return 0
}

// IsCooldown reports whether err is a *CooldownError.
func IsCooldown(err error) bool {
	var ce *CooldownError
	return errors.As(err, &ce)
}
