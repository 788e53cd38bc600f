//go:build linux

package driver

import (
	"bytes"
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"
)

func TestSocketCANFrameCodec(t *testing.T) {
	ext := frame(0x18DA10F1, 0x02, 0x3E, 0x00)
	ext.IsExtended = true
	fd := frame(0x7E0, bytes.Repeat([]byte{0x55}, 20)...)
	fd.IsFD, fd.BRS = true, true

	for _, msg := range []UnifiedCANMessage{frame(0x7E0, 0x02, 0x10, 0x03), ext, fd} {
		buf := encodeSocketCANFrame(msg)
		wantSize := canFrameSize
		if msg.IsFD {
			wantSize = canFDFrameSize
		}
		if len(buf) != wantSize {
			t.Fatalf("encoded %d bytes, want %d", len(buf), wantSize)
		}
		got, ok := decodeSocketCANFrame(buf)
		if !ok {
			t.Fatalf("decode of % X failed", buf)
		}
		if got.ID != msg.ID || got.IsExtended != msg.IsExtended || got.IsFD != msg.IsFD || got.BRS != msg.BRS {
			t.Errorf("got %+v, want %+v", got, msg)
		}
		if !bytes.Equal(got.Payload(), msg.Payload()) {
			t.Errorf("payload % X, want % X", got.Payload(), msg.Payload())
		}
	}
}

func TestSocketCANExtendedFlag(t *testing.T) {
	ext := frame(0x18DA10F1)
	ext.IsExtended = true
	buf := encodeSocketCANFrame(ext)
	if id := binary.LittleEndian.Uint32(buf); id&unix.CAN_EFF_FLAG == 0 {
		t.Errorf("EFF flag not set: 0x%08X", id)
	}
}

func TestDecodeSocketCANFrameRejects(t *testing.T) {
	errFrame := make([]byte, canFrameSize)
	binary.LittleEndian.PutUint32(errFrame, unix.CAN_ERR_FLAG|0x04)
	rtr := make([]byte, canFrameSize)
	binary.LittleEndian.PutUint32(rtr, unix.CAN_RTR_FLAG|0x123)
	badDLC := make([]byte, canFrameSize)
	badDLC[4] = 9

	for name, buf := range map[string][]byte{
		"错误帧":   errFrame,
		"远程帧":   rtr,
		"长度错误":  make([]byte, 10),
		"DLC越界": badDLC,
	} {
		if _, ok := decodeSocketCANFrame(buf); ok {
			t.Errorf("%s: should be rejected", name)
		}
	}
}
