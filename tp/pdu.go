package tp

import (
	"encoding/binary"
	"fmt"
	"time"
)

type ISOTPFrame interface{}

type SingleFrame struct{ Data []byte }

type FirstFrame struct {
	TotalSize int
	Data      []byte
}

type ConsecutiveFrame struct {
	SequenceNumber int
	Data           []byte
}

type FlowControlFrame struct {
	FlowStatus FlowStatus
	BlockSize  int
	STmin      time.Duration
}

func decodeSTmin(stMinByte byte) time.Duration {
	if stMinByte <= 0x7F {
		return time.Duration(stMinByte) * time.Millisecond
	}
	if stMinByte >= 0xF1 && stMinByte <= 0xF9 {
		return time.Duration(stMinByte-0xF0) * 100 * time.Microsecond
	}
	// 保留值按最大值 127ms 处理
	return 127 * time.Millisecond
}

func invalidFrame(format string, args ...any) error {
	return InvalidCanDataError{NewIsoTpError(fmt.Sprintf(format, args...))}
}

// ParseFrame 解析去掉地址前缀后的 N_PCI 与数据。
func ParseFrame(msg *CanMessage, rxPrefixSize int) (ISOTPFrame, error) {
	if len(msg.Data) <= rxPrefixSize {
		return nil, invalidFrame("CAN data length (%d) does not exceed prefix size (%d)", len(msg.Data), rxPrefixSize)
	}

	payload := msg.Data[rxPrefixSize:]
	pciType := payload[0] & 0xF0

	switch pciType {
	case pciTypeSingleFrame:
		length := int(payload[0] & 0x0F)
		if length == 0 && len(msg.Data) > 8 {
			// CAN FD 长度转义: 0x00 LL
			if len(payload) < 2 {
				return nil, MissingEscapeSequenceError{NewIsoTpError("SF escape sequence truncated")}
			}
			length = int(payload[1])
			if len(payload)-2 < length {
				return nil, invalidFrame("SF(FD) declares %d bytes, frame carries %d", length, len(payload)-2)
			}
			return &SingleFrame{Data: payload[2 : 2+length]}, nil
		}
		// 经典帧中长度为0的单帧是合法的空报文
		if len(payload)-1 < length {
			return nil, invalidFrame("SF declares %d bytes, frame carries %d", length, len(payload)-1)
		}
		return &SingleFrame{Data: payload[1 : 1+length]}, nil

	case pciTypeFirstFrame:
		if len(payload) < 2 {
			return nil, invalidFrame("FF shorter than 2 bytes")
		}
		totalSize := (int(payload[0]&0x0F) << 8) | int(payload[1])
		dataStart := 2
		if totalSize == 0 { // 32-bit length
			if len(payload) < 6 {
				return nil, invalidFrame("FF(long) shorter than 6 bytes")
			}
			totalSize = int(binary.BigEndian.Uint32(payload[2:6]))
			dataStart = 6
		}
		if totalSize < len(payload)-dataStart {
			return nil, invalidFrame("FF declares %d bytes but already carries %d", totalSize, len(payload)-dataStart)
		}
		return &FirstFrame{TotalSize: totalSize, Data: payload[dataStart:]}, nil

	case pciTypeConsecutiveFrame:
		return &ConsecutiveFrame{SequenceNumber: int(payload[0] & 0x0F), Data: payload[1:]}, nil

	case pciTypeFlowControl:
		if len(payload) < 3 {
			return nil, invalidFrame("FC shorter than 3 bytes")
		}
		status := FlowStatus(payload[0] & 0x0F)
		if status > FlowStatusOverflow {
			return nil, invalidFrame("unknown flow status %d", status)
		}
		return &FlowControlFrame{
			FlowStatus: status,
			BlockSize:  int(payload[1]),
			STmin:      decodeSTmin(payload[2]),
		}, nil
	}
	return nil, invalidFrame("unknown PCI type 0x%02X", pciType)
}
