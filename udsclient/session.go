package udsclient

import (
	"fmt"
	"time"
)

// SessionType 诊断会话类型
type SessionType byte

const (
	DefaultSession     SessionType = 0x01
	ProgrammingSession SessionType = 0x02
	ExtendedSession    SessionType = 0x03
)

func (t SessionType) String() string {
	switch t {
	case DefaultSession:
		return "default"
	case ProgrammingSession:
		return "programming"
	case ExtendedSession:
		return "extended"
	}
	return fmt.Sprintf("session(0x%02X)", byte(t))
}

// ParseSessionType 解析会话名称或十六进制值
func ParseSessionType(s string) (SessionType, error) {
	switch s {
	case "default", "01", "1":
		return DefaultSession, nil
	case "programming", "prog", "02", "2":
		return ProgrammingSession, nil
	case "extended", "ext", "03", "3":
		return ExtendedSession, nil
	}
	var v byte
	if _, err := fmt.Sscanf(s, "0x%02x", &v); err == nil && v != 0 && v < 0x80 {
		return SessionType(v), nil
	}
	return 0, fmt.Errorf("unknown session type %q", s)
}

// Session 是客户端视角的诊断会话状态。它是不可变值，迁移方法返回新值。
// SecurityLevel 为 0 表示未解锁。
type Session struct {
	Type          SessionType
	SecurityLevel byte
	LastActivity  time.Time

	// 当前等级连续的无效密钥次数
	FailedLevel    byte
	FailedAttempts int
}

// NewSession 返回默认会话
func NewSession() Session {
	return Session{Type: DefaultSession}
}

// Started 会话切换成功，安全等级清零
func (s Session) Started(t SessionType, now time.Time) Session {
	return Session{Type: t, LastActivity: now}
}

// Granted 发送密钥得到正响应
func (s Session) Granted(level byte, now time.Time) Session {
	s.SecurityLevel = level
	s.FailedLevel, s.FailedAttempts = 0, 0
	s.LastActivity = now
	return s
}

// KeyRejected 记录一次无效密钥，已解锁的等级不变
func (s Session) KeyRejected(level byte, now time.Time) Session {
	if s.FailedLevel != level {
		s.FailedLevel, s.FailedAttempts = level, 0
	}
	s.FailedAttempts++
	s.LastActivity = now
	return s
}

// Touched 记录一次与 ECU 的交互
func (s Session) Touched(now time.Time) Session {
	s.LastActivity = now
	return s
}

// Reset 回到默认会话 (断开、复位或 S3 超时)
func (s Session) Reset() Session {
	return NewSession()
}

// Expired 需要保活的状态在 s3 内没有任何交互时返回 true
func (s Session) Expired(now time.Time, s3 time.Duration) bool {
	return s.NeedsKeepAlive() && !s.LastActivity.IsZero() && now.Sub(s.LastActivity) > s3
}

// NeedsKeepAlive 非默认会话或已解锁的等级需要 TesterPresent
func (s Session) NeedsKeepAlive() bool {
	return s.Type != DefaultSession || s.SecurityLevel != 0
}

// Unlocked reports whether any security level is granted.
func (s Session) Unlocked() bool { return s.SecurityLevel != 0 }

func (s Session) String() string {
	if s.SecurityLevel == 0 {
		return fmt.Sprintf("%s session, locked", s.Type)
	}
	return fmt.Sprintf("%s session, level 0x%02X", s.Type, s.SecurityLevel)
}
