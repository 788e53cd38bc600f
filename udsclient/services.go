package udsclient

import (
	"context"
	"encoding/binary"
)

// ResetType 0x11 子功能
type ResetType byte

const (
	HardReset     ResetType = 0x01
	KeyOffOnReset ResetType = 0x02
	SoftReset     ResetType = 0x03
)

// StartSession 0x10。正响应后会话类型更新且安全等级清零，负响应不改变状态。
func (c *Client) StartSession(ctx context.Context, t SessionType) error {
	resp, err := c.Do(ctx, NewSubRequest(SIDDiagnosticSessionControl, byte(t)))
	if err != nil {
		return err
	}
	if len(resp.Data) < 1 || resp.Data[0] != byte(t) {
		return unexpected(SIDDiagnosticSessionControl, resp.Data, "session echo mismatch, want 0x%02X", byte(t))
	}
	now := c.now()
	c.updateSession(func(s Session) Session { return s.Started(t, now) })
	c.logger.Printf("进入 %s 会话", t)
	return nil
}

// ECUReset 0x11。复位成功后 ECU 回到默认会话。
func (c *Client) ECUReset(ctx context.Context, t ResetType) error {
	resp, err := c.Do(ctx, NewSubRequest(SIDECUReset, byte(t)))
	if err != nil {
		return err
	}
	if len(resp.Data) < 1 || resp.Data[0] != byte(t) {
		return unexpected(SIDECUReset, resp.Data, "reset type echo mismatch")
	}
	c.updateSession(func(s Session) Session { return s.Reset() })
	return nil
}

// ReadDataByIdentifier 0x22 读取单个 DID
func (c *Client) ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error) {
	resp, err := c.doRead(ctx, NewRequest(SIDReadDataByIdentifier, byte(did>>8), byte(did)))
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 2 || binary.BigEndian.Uint16(resp.Data) != did {
		return nil, unexpected(SIDReadDataByIdentifier, resp.Data, "DID echo mismatch, want %04X", did)
	}
	return resp.Data[2:], nil
}

// WriteDataByIdentifier 0x2E
func (c *Client) WriteDataByIdentifier(ctx context.Context, did uint16, data []byte) error {
	resp, err := c.Do(ctx, NewRequest(SIDWriteDataByIdentifier, append([]byte{byte(did >> 8), byte(did)}, data...)...))
	if err != nil {
		return err
	}
	if len(resp.Data) < 2 || binary.BigEndian.Uint16(resp.Data) != did {
		return unexpected(SIDWriteDataByIdentifier, resp.Data, "DID echo mismatch, want %04X", did)
	}
	return nil
}

// TesterPresent 0x3E。suppress 为 true 时发送 3E 80，不等待响应。
func (c *Client) TesterPresent(ctx context.Context, suppress bool) error {
	sub := byte(0x00)
	if suppress {
		sub = SuppressPositiveResponse
	}
	_, err := c.Do(ctx, NewSubRequest(SIDTesterPresent, sub))
	return err
}
