package udsclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/LoveWonYoung/udsdiag/diagerr"
)

// UnexpectedResponseError 表示响应格式不正确或不属于当前请求
type UnexpectedResponseError struct {
	Service ServiceID
	Reason  string
	Data    []byte
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("SID %s: unexpected response (%s): % 02X", e.Service, e.Reason, e.Data)
}

func (e *UnexpectedResponseError) Unwrap() error { return diagerr.ErrProtocol }

func unexpected(sid ServiceID, data []byte, format string, args ...any) error {
	return &UnexpectedResponseError{Service: sid, Reason: fmt.Sprintf(format, args...), Data: data}
}

// ResponseTimeoutError 表示在 P2/P2* 内没有收到响应
type ResponseTimeoutError struct {
	Service ServiceID
	Waited  time.Duration
	// Pending 为收到的 0x78 次数
	Pending int
}

func (e *ResponseTimeoutError) Error() string {
	if e.Pending > 0 {
		return fmt.Sprintf("SID %s: 等待响应超时 (%v, %d 次 response pending)", e.Service, e.Waited, e.Pending)
	}
	return fmt.Sprintf("SID %s: 等待响应超时 (%v)", e.Service, e.Waited)
}

func (e *ResponseTimeoutError) Unwrap() error { return diagerr.ErrTiming }

// SecurityError 安全访问失败：密钥被拒绝或无法计算密钥
type SecurityError struct {
	Level byte
	// Attempts 为该等级连续失败次数
	Attempts int
	Err      error
}

func (e *SecurityError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("security level 0x%02X: %v (attempt %d)", e.Level, e.Err, e.Attempts)
	}
	return fmt.Sprintf("security level 0x%02X: %v", e.Level, e.Err)
}

func (e *SecurityError) Unwrap() []error { return []error{diagerr.ErrSecurity, e.Err} }

// CooldownError 表示该等级处于锁定延时中，请求没有发送到总线
type CooldownError struct {
	Level     byte
	Remaining time.Duration
	Err       error
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("security level 0x%02X locked, retry in %v", e.Level, e.Remaining.Round(time.Millisecond))
}

func (e *CooldownError) Unwrap() []error {
	if e.Err == nil {
		return []error{diagerr.ErrSecurity}
	}
	return []error{diagerr.ErrSecurity, e.Err}
}

// RequestTooLargeError 表示请求或预期响应超出单条 ISO-TP 报文
type RequestTooLargeError struct {
	Op   string
	Size int
	Max  int
}

func (e *RequestTooLargeError) Error() string {
	return fmt.Sprintf("%s: %d bytes exceeds maximum message size %d", e.Op, e.Size, e.Max)
}

func (e *RequestTooLargeError) Unwrap() error { return diagerr.ErrInvalidArgument }

// RoutineFailedError 表示例程执行结束但 ECU 报告失败
type RoutineFailedError struct {
	ID     uint16
	Status []byte
}

func (e *RoutineFailedError) Error() string {
	return fmt.Sprintf("routine 0x%04X failed: status % 02X", e.ID, e.Status)
}

func (e *RoutineFailedError) Unwrap() error { return diagerr.ErrNegativeResponse }

func asNegativeResponse(err error) (*NegativeResponseError, bool) {
	var nr *NegativeResponseError
	ok := errors.As(err, &nr)
	return nr, ok
}
