package driver

import (
	"errors"
	"strings"
	"testing"

	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/LoveWonYoung/udsdiag/tp"
)

func TestParseDescriptor(t *testing.T) {
	tests := []struct {
		in   string
		want Descriptor
	}{
		{"sim:", Descriptor{Kind: KindSim}},
		{"sim:bench", Descriptor{Kind: KindSim, Param: "bench"}},
		{"virtual:bus0", Descriptor{Kind: KindVirtual, Param: "bus0"}},
		{"socketcan:can0", Descriptor{Kind: KindSocketCAN, Param: "can0"}},
		{"SocketCAN:vcan1", Descriptor{Kind: KindSocketCAN, Param: "vcan1"}},
		{"slcan:/dev/ttyACM0", Descriptor{Kind: KindSLCAN, Param: "/dev/ttyACM0", Baud: 115200}},
		{"slcan:COM3@921600", Descriptor{Kind: KindSLCAN, Param: "COM3", Baud: 921600}},
		{"toomoss:", Descriptor{Kind: KindToomoss, Param: "0"}},
		{"toomoss:3", Descriptor{Kind: KindToomoss, Param: "3", Index: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDescriptor(tt.in)
			if err != nil {
				t.Fatalf("ParseDescriptor(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseDescriptorErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"can0",
		"pcan:usb1",
		"virtual:",
		"socketcan:",
		"slcan:",
		"slcan:COM3@fast",
		"slcan:COM3@-1",
		"toomoss:x",
		"toomoss:10",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseDescriptor(in)
			if err == nil {
				t.Fatalf("ParseDescriptor(%q) succeeded", in)
			}
			if !errors.Is(err, diagerr.ErrInvalidArgument) {
				t.Errorf("error %v is not an invalid argument", err)
			}
		})
	}
}

func TestDescriptorString(t *testing.T) {
	for _, in := range []string{"sim:", "virtual:bus0", "slcan:COM3@921600", "toomoss:2"} {
		d, err := ParseDescriptor(in)
		if err != nil {
			t.Fatal(err)
		}
		if d.String() != in {
			t.Errorf("String() = %q, want %q", d.String(), in)
		}
	}
	d, _ := ParseDescriptor("slcan:/dev/ttyUSB0")
	if d.String() != "slcan:/dev/ttyUSB0" {
		t.Errorf("default baud should be omitted, got %q", d.String())
	}
}

func TestOpenUnknownVirtualBus(t *testing.T) {
	_, err := Open(Descriptor{Kind: KindVirtual, Param: "missing"}, Options{})
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConnectionError, got %v", err)
	}
	if !errors.Is(err, diagerr.ErrTransport) {
		t.Errorf("connection error should be a transport error: %v", err)
	}
	if !strings.Contains(err.Error(), "virtual:missing") {
		t.Errorf("error should name the descriptor: %v", err)
	}
}

func TestFormatFrame(t *testing.T) {
	msg := &tp.CanMessage{ArbitrationID: 0x7E0, Data: []byte{0x02, 0x10, 0x03}}
	want := "TX CAN  : ID=0x7E0, DLC=03, Data=02 10 03"
	if got := FormatFrame("TX", msg); got != want {
		t.Errorf("FormatFrame = %q, want %q", got, want)
	}
	msg.IsFD = true
	if got := FormatFrame("RX", msg); !strings.HasPrefix(got, "RX CANFD: ") {
		t.Errorf("FormatFrame(FD) = %q", got)
	}
	var nilTracer *Tracer
	nilTracer.Trace("TX", msg)
}
