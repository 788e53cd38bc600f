package udsclient

import (
	"context"
	"fmt"
	"strings"
)

/*
DTC Status Byte
bit #	hex		state
0		0x01	testFailed
1		0x02	testFailedThisOperationCycle
2		0x04	pendingDTC
3		0x08	confirmedDTC
4		0x10	testNotCompletedSinceLastClear
5		0x20	testFailedSinceLastClear
6		0x40	testNotCompletedThisOperationCycle
7		0x80	warningIndicatorRequested
*/
const (
	DTCTestFailed                         byte = 0x01
	DTCTestFailedThisOperationCycle       byte = 0x02
	DTCPending                            byte = 0x04
	DTCConfirmed                          byte = 0x08
	DTCTestNotCompletedSinceLastClear     byte = 0x10
	DTCTestFailedSinceLastClear           byte = 0x20
	DTCTestNotCompletedThisOperationCycle byte = 0x40
	DTCWarningIndicatorRequested          byte = 0x80
)

const (
	reportDTCByStatusMask = 0x02
	groupOfAllDTCs        = 0xFFFFFF
)

// DTCRecord 是一条故障码，Code 为 3 字节 DTC
type DTCRecord struct {
	Code        uint32
	Status      byte
	Description string
}

func (d DTCRecord) IsActive() bool    { return d.Status&DTCTestFailed != 0 }
func (d DTCRecord) IsPending() bool   { return d.Status&DTCPending != 0 }
func (d DTCRecord) IsConfirmed() bool { return d.Status&DTCConfirmed != 0 }

// SAE 返回 P0123-4A 形式的故障码
func (d DTCRecord) SAE() string {
	hi := byte(d.Code >> 16)
	system := "PCBU"[hi>>6]
	return fmt.Sprintf("%c%d%X%02X-%02X", system, (hi>>4)&0x03, hi&0x0F, byte(d.Code>>8), byte(d.Code))
}

func (d DTCRecord) String() string {
	s := fmt.Sprintf("%s (0x%06X) status=0x%02X", d.SAE(), d.Code, d.Status)
	if d.Description != "" {
		s += " " + d.Description
	}
	return s
}

// StatusString 列出状态字节中置位的含义
func (d DTCRecord) StatusString() string {
	var statusStrings []string
	if d.Status&DTCWarningIndicatorRequested != 0 {
		statusStrings = append(statusStrings, "warning indicator requested")
	}
	if d.Status&DTCTestNotCompletedThisOperationCycle != 0 {
		statusStrings = append(statusStrings, "test not completed this operation cycle")
	}
	if d.Status&DTCTestFailedSinceLastClear != 0 {
		statusStrings = append(statusStrings, "test failed at least once since last code clear")
	}
	if d.Status&DTCTestNotCompletedSinceLastClear != 0 {
		statusStrings = append(statusStrings, "test not completed since the last code clear")
	}
	if d.Status&DTCConfirmed != 0 {
		statusStrings = append(statusStrings, "confirmed at the time of the request")
	}
	if d.Status&DTCPending != 0 {
		statusStrings = append(statusStrings, "failed on the current or previous operation cycle")
	}
	if d.Status&DTCTestFailedThisOperationCycle != 0 {
		statusStrings = append(statusStrings, "failed on the current operation cycle")
	}
	if d.Status&DTCTestFailed != 0 {
		statusStrings = append(statusStrings, "failed at the time of the request")
	}
	return strings.Join(statusStrings, ", ")
}

// ReadDTC 0x19 02 按状态掩码读取故障码
func (c *Client) ReadDTC(ctx context.Context, mask byte) ([]DTCRecord, error) {
	resp, err := c.doRead(ctx, NewSubRequest(SIDReadDTCInformation, reportDTCByStatusMask, mask))
	if err != nil {
		return nil, err
	}
	// 子功能 + DTCStatusAvailabilityMask + n*4
	if len(resp.Data) < 2 || resp.Data[0] != reportDTCByStatusMask {
		return nil, unexpected(SIDReadDTCInformation, resp.Data, "bad reportDTCByStatusMask response")
	}
	records := resp.Data[2:]
	if len(records)%4 != 0 {
		return nil, unexpected(SIDReadDTCInformation, resp.Data, "truncated DTC record")
	}
	dtcs := make([]DTCRecord, 0, len(records)/4)
	for i := 0; i < len(records); i += 4 {
		code := uint32(records[i])<<16 | uint32(records[i+1])<<8 | uint32(records[i+2])
		dtcs = append(dtcs, DTCRecord{
			Code:        code,
			Status:      records[i+3],
			Description: c.opts.DTCDescriptions[code],
		})
	}
	return dtcs, nil
}

// ClearDTC 0x14 清除所有故障码
func (c *Client) ClearDTC(ctx context.Context) error {
	return c.ClearDTCGroup(ctx, groupOfAllDTCs)
}

// ClearDTCGroup 0x14 清除指定组
func (c *Client) ClearDTCGroup(ctx context.Context, group uint32) error {
	_, err := c.Do(ctx, NewRequest(SIDClearDTC, byte(group>>16), byte(group>>8), byte(group)))
	return err
}
