package tp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// pciTypeSingleFrame (SF) 是 0
	pciTypeSingleFrame = 0x00
	// pciTypeFirstFrame (FF) 是 1
	pciTypeFirstFrame = 0x10
	// pciTypeConsecutiveFrame (CF) 是 2
	pciTypeConsecutiveFrame = 0x20
	// pciTypeFlowControl (FC) 是 3
	pciTypeFlowControl = 0x30
)

// encodeSTmin 将分隔时间编码为 STmin 字节，0..127ms 或 100..900µs。
func encodeSTmin(d time.Duration) byte {
	if d <= 0 {
		return 0
	}
	if d < time.Millisecond {
		steps := d / (100 * time.Microsecond)
		if steps < 1 {
			steps = 1
		}
		return 0xF0 + byte(steps)
	}
	ms := d / time.Millisecond
	if ms > 0x7F {
		return 0x7F
	}
	return byte(ms)
}

// createFlowControlPayload 创建流控帧的数据负载
func createFlowControlPayload(status FlowStatus, blockSize int, stMin time.Duration) []byte {
	return []byte{
		pciTypeFlowControl | byte(status),
		byte(blockSize),
		encodeSTmin(stMin),
	}
}

// createSingleFramePayload 创建单帧的数据负载
func createSingleFramePayload(data []byte, maxDataLength int) ([]byte, error) {
	dataLen := len(data)
	var pci []byte

	// 根据数据长度决定PCI格式
	if dataLen <= 7 {
		pci = []byte{pciTypeSingleFrame | byte(dataLen)}
	} else {
		// CAN FD 使用长度转义
		pci = []byte{pciTypeSingleFrame, byte(dataLen)}
	}

	totalLength := len(pci) + dataLen
	if totalLength > maxDataLength {
		return nil, fmt.Errorf("single frame length %d exceeds limit %d", totalLength, maxDataLength)
	}

	payload := make([]byte, 0, totalLength)
	payload = append(payload, pci...)
	payload = append(payload, data...)
	return payload, nil
}

// createFirstFramePayload 创建首帧的数据负载
func createFirstFramePayload(firstChunk []byte, totalMessageSize int, maxDataLength int) ([]byte, error) {
	var pci []byte
	if totalMessageSize <= 4095 { // 12-bit length
		pci = []byte{
			pciTypeFirstFrame | byte(totalMessageSize>>8&0x0F),
			byte(totalMessageSize & 0xFF),
		}
	} else { // 32-bit length
		pci = make([]byte, 6)
		pci[0] = pciTypeFirstFrame
		pci[1] = 0x00
		binary.BigEndian.PutUint32(pci[2:], uint32(totalMessageSize))
	}

	totalLength := len(pci) + len(firstChunk)
	if totalLength > maxDataLength {
		return nil, fmt.Errorf("first frame length %d exceeds limit %d", totalLength, maxDataLength)
	}

	payload := make([]byte, 0, totalLength)
	payload = append(payload, pci...)
	payload = append(payload, firstChunk...)
	return payload, nil
}

// createConsecutiveFramePayload 创建连续帧的数据负载
func createConsecutiveFramePayload(dataChunk []byte, sequenceNumber int) ([]byte, error) {
	if sequenceNumber < 0 || sequenceNumber > 15 {
		return nil, errors.New("sequence number must be within 0..15")
	}
	payload := make([]byte, 0, 1+len(dataChunk))
	payload = append(payload, pciTypeConsecutiveFrame|byte(sequenceNumber))
	payload = append(payload, dataChunk...)
	return payload, nil
}

// nearestCanFdSize 返回能容纳 size 字节的最小合法 CAN FD 数据长度。
func nearestCanFdSize(size int) int {
	switch {
	case size <= 8:
		return size
	case size <= 12:
		return 12
	case size <= 16:
		return 16
	case size <= 20:
		return 20
	case size <= 24:
		return 24
	case size <= 32:
		return 32
	case size <= 48:
		return 48
	default:
		return 64
	}
}

// DataLengthToDLC 将数据字节数转换为 DLC 码 (0..15)。
func DataLengthToDLC(n int) byte {
	switch fd := nearestCanFdSize(n); {
	case fd <= 8:
		return byte(fd)
	case fd == 12:
		return 9
	case fd == 16:
		return 10
	case fd == 20:
		return 11
	case fd == 24:
		return 12
	case fd == 32:
		return 13
	case fd == 48:
		return 14
	}
	return 15
}

// DLCToDataLength 将 DLC 码转换为实际的数据字节长度。
func DLCToDataLength(dlc byte) int {
	if dlc <= 8 {
		return int(dlc)
	}
	switch dlc {
	case 9:
		return 12
	case 10:
		return 16
	case 11:
		return 20
	case 12:
		return 24
	case 13:
		return 32
	case 14:
		return 48
	}
	return 64
}
