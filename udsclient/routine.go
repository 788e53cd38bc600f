package udsclient

import (
	"context"
	"encoding/binary"
	"errors"
	"time"
)

// RoutineControlType 0x31 子功能
type RoutineControlType byte

const (
	StartRoutine          RoutineControlType = 0x01
	StopRoutine           RoutineControlType = 0x02
	RequestRoutineResults RoutineControlType = 0x03
)

// RoutineResult 是 0x31 正响应
type RoutineResult struct {
	Type RoutineControlType
	ID   uint16
	// Status 为 routineInfo 和 statusRecord
	Status []byte
}

// RoutineStatus 是对例程结果的解释
type RoutineStatus int

const (
	RoutineDone RoutineStatus = iota
	RoutineRunning
	RoutineFailed
)

// StatusFunc 把例程结果解释为完成、运行中或失败
type StatusFunc func(RoutineResult) RoutineStatus

// DefaultRoutineStatus 首字节 0x00 完成，0x01 运行中，其它值失败。没有状态字节视为完成。
func DefaultRoutineStatus(r RoutineResult) RoutineStatus {
	if len(r.Status) == 0 {
		return RoutineDone
	}
	switch r.Status[0] {
	case 0x00:
		return RoutineDone
	case 0x01:
		return RoutineRunning
	}
	return RoutineFailed
}

// RoutineControl 0x31
func (c *Client) RoutineControl(ctx context.Context, typ RoutineControlType, id uint16, params []byte) (RoutineResult, error) {
	req := NewSubRequest(SIDRoutineControl, byte(typ), append(binary.BigEndian.AppendUint16(nil, id), params...)...)
	var (
		resp Response
		err  error
	)
	if typ == RequestRoutineResults {
		resp, err = c.doRead(ctx, req)
	} else {
		resp, err = c.Do(ctx, req)
	}
	if err != nil {
		return RoutineResult{}, err
	}
	if len(resp.Data) < 3 || resp.Data[0] != byte(typ) || binary.BigEndian.Uint16(resp.Data[1:3]) != id {
		return RoutineResult{}, unexpected(SIDRoutineControl, resp.Data, "routine echo mismatch, want %02X %04X", byte(typ), id)
	}
	return RoutineResult{Type: typ, ID: id, Status: resp.Data[3:]}, nil
}

// PollOptions 控制 PollRoutine
type PollOptions struct {
	Interval time.Duration // 默认 50ms
	Timeout  time.Duration // 默认 30s
	Status   StatusFunc    // 默认 DefaultRoutineStatus
}

// PollRoutine 反复请求例程结果直到完成、失败或超时。
// 轮询期间的 0x24 和 0x21 视为仍在运行。
func (c *Client) PollRoutine(ctx context.Context, id uint16, opts PollOptions) (RoutineResult, error) {
	if opts.Interval <= 0 {
		opts.Interval = 50 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Status == nil {
		opts.Status = DefaultRoutineStatus
	}
	pollCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	for polls := 1; ; polls++ {
		res, err := c.RoutineControl(pollCtx, RequestRoutineResults, id, nil)
		switch {
		case err == nil:
			switch opts.Status(res) {
			case RoutineDone:
				return res, nil
			case RoutineFailed:
				return res, &RoutineFailedError{ID: id, Status: res.Status}
			}
		case IsNRC(err, NRCRequestSequenceError), IsNRC(err, NRCBusyRepeatRequest):
			// 仍在运行
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return RoutineResult{}, &ResponseTimeoutError{Service: SIDRoutineControl, Waited: opts.Timeout}
		default:
			return RoutineResult{}, err
		}

		if err := sleepCtx(pollCtx, opts.Interval); err != nil {
			if ctx.Err() != nil {
				return RoutineResult{}, ctx.Err()
			}
			c.logger.Printf("routine 0x%04X still running after %d polls", id, polls)
			return RoutineResult{}, &ResponseTimeoutError{Service: SIDRoutineControl, Waited: opts.Timeout}
		}
	}
}
