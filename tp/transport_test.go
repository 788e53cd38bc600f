package tp

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LoveWonYoung/udsdiag/diagerr"
)

func testAddress(t testing.TB, tx, rx uint32) *Address {
	t.Helper()
	addr, err := NewAddress(Normal11Bit, WithTxID(tx), WithRxID(rx))
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.TimeoutN_Bs = 200 * time.Millisecond
	cfg.TimeoutN_Cr = 200 * time.Millisecond
	return cfg
}

// newLoopback 创建两个通过虚拟总线互联的协议栈
func newLoopback(t testing.TB, cfgA, cfgB Config) (*Transport, *Transport) {
	t.Helper()
	a, err := NewTransport(testAddress(t, 0x7E0, 0x7E8), cfgA, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewTransport(testAddress(t, 0x7E8, 0x7E0), cfgB, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	aToB := make(chan CanMessage, 100)
	bToA := make(chan CanMessage, 100)
	go a.Run(ctx, bToA, aToB)
	go b.Run(ctx, aToB, bToA)
	return a, b
}

// newDriven 创建一个由测试直接驱动收发通道的协议栈
func newDriven(t *testing.T, cfg Config) (*Transport, chan CanMessage, chan CanMessage) {
	t.Helper()
	tr, err := NewTransport(testAddress(t, 0x7E8, 0x7E0), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rx := make(chan CanMessage, 100)
	tx := make(chan CanMessage, 100)
	go tr.Run(ctx, rx, tx)
	return tr, rx, tx
}

func frame(id uint32, data ...byte) CanMessage {
	return CanMessage{ArbitrationID: id, Data: data}
}

func expectFrame(t *testing.T, tx <-chan CanMessage) CanMessage {
	t.Helper()
	select {
	case msg := <-tx:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame transmitted")
	}
	return CanMessage{}
}

func TestRoundTrip_AllLengths(t *testing.T) {
	a, b := newLoopback(t, fastConfig(), fastConfig())
	ctx := context.Background()

	step := 1
	if testing.Short() {
		step = 13
	}
	lengths := []int{0, 1, 6, 7, 8, 9, 62, 63, 4094, 4095}
	for n := 0; n <= MaxClassicFrameSize; n += step {
		lengths = append(lengths, n)
	}

	for _, n := range lengths {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i*7 + n)
		}
		if err := a.Send(ctx, payload); err != nil {
			t.Fatalf("len %d: send: %v", n, err)
		}
		got, err := b.Recv(ctx, time.Second)
		if err != nil {
			t.Fatalf("len %d: recv: %v", n, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("len %d: payload mismatch (got %d bytes)", n, len(got))
		}
	}
}

func TestRoundTrip_BlockSizeAndSTmin(t *testing.T) {
	rxCfg := fastConfig()
	rxCfg.BlockSize = 3
	rxCfg.StMin = 500 * time.Microsecond
	a, b := newLoopback(t, fastConfig(), rxCfg)

	payload := bytes.Repeat([]byte{0x5A, 0xA5}, 150)
	if err := a.Send(context.Background(), payload); err != nil {
		t.Fatal(err)
	}
	got, err := b.Recv(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload mismatch")
	}
}

func TestRoundTrip_CanFD(t *testing.T) {
	cfg := fastConfig()
	cfg.CanFD = true
	a, b := newLoopback(t, cfg, cfg)
	for _, n := range []int{0, 7, 8, 61, 62, 63, 200, 4095} {
		payload := bytes.Repeat([]byte{byte(n)}, n)
		if err := b.Send(context.Background(), payload); err != nil {
			t.Fatalf("len %d: %v", n, err)
		}
		got, err := a.Recv(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("len %d: %v", n, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("len %d: mismatch", n)
		}
	}
}

func TestRecv_WrongSequenceNumber(t *testing.T) {
	tr, rx, tx := newDriven(t, fastConfig())

	rx <- frame(0x7E0, 0x10, 0x14, 1, 2, 3, 4, 5, 6)
	fc := expectFrame(t, tx)
	if fc.Data[0] != 0x30 {
		t.Fatalf("expected FC.CTS, got % X", fc.Data)
	}
	rx <- frame(0x7E0, 0x21, 7, 8, 9, 10, 11, 12, 13)
	rx <- frame(0x7E0, 0x23, 14, 15, 16, 17, 18, 19, 20)

	_, err := tr.Recv(context.Background(), time.Second)
	var seqErr WrongSequenceNumberError
	if !errors.As(err, &seqErr) {
		t.Fatalf("expected WrongSequenceNumberError, got %v", err)
	}
	if seqErr.Expected != 2 || seqErr.Received != 3 {
		t.Errorf("expected 2 received 3, got %+v", seqErr)
	}
	if !errors.Is(err, diagerr.ErrProtocol) {
		t.Error("sequence errors must be protocol errors")
	}

	// 部分数据绝不能被交付
	if data, err := tr.Recv(context.Background(), 50*time.Millisecond); err == nil {
		t.Fatalf("partial payload leaked: % X", data)
	}
}

func TestRecv_RepeatedSequenceNumber(t *testing.T) {
	tr, rx, tx := newDriven(t, fastConfig())
	rx <- frame(0x7E0, 0x10, 0x14, 1, 2, 3, 4, 5, 6)
	expectFrame(t, tx)
	rx <- frame(0x7E0, 0x21, 7, 8, 9, 10, 11, 12, 13)
	rx <- frame(0x7E0, 0x21, 7, 8, 9, 10, 11, 12, 13)

	_, err := tr.Recv(context.Background(), time.Second)
	if !errors.Is(err, diagerr.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestRecv_ConsecutiveFrameTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.TimeoutN_Cr = 50 * time.Millisecond
	tr, rx, tx := newDriven(t, cfg)

	rx <- frame(0x7E0, 0x10, 0x14, 1, 2, 3, 4, 5, 6)
	expectFrame(t, tx)

	_, err := tr.Recv(context.Background(), time.Second)
	var cfErr ConsecutiveFrameTimeoutError
	if !errors.As(err, &cfErr) {
		t.Fatalf("expected ConsecutiveFrameTimeoutError, got %v", err)
	}
	if !errors.Is(err, diagerr.ErrTiming) {
		t.Error("reassembly timeout must be a timing error")
	}
}

func TestRecv_FirstFrameTooLong(t *testing.T) {
	tr, rx, tx := newDriven(t, fastConfig())

	rx <- frame(0x7E0, 0x10, 0x00, 0x00, 0x00, 0x13, 0x88, 1, 2)
	fc := expectFrame(t, tx)
	if fc.Data[0] != 0x32 {
		t.Fatalf("expected FC.OVERFLOW, got % X", fc.Data)
	}
	_, err := tr.Recv(context.Background(), time.Second)
	var tooLong FrameTooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("expected FrameTooLongError, got %v", err)
	}
}

func TestRecv_Timeout(t *testing.T) {
	tr, _, _ := newDriven(t, fastConfig())
	_, err := tr.Recv(context.Background(), 20*time.Millisecond)
	var rxErr RxTimeoutError
	if !errors.As(err, &rxErr) || !errors.Is(err, diagerr.ErrTiming) {
		t.Fatalf("expected RxTimeoutError, got %v", err)
	}
}

func TestSend_TooLongRejectedUpFront(t *testing.T) {
	tr, _, tx := newDriven(t, fastConfig())
	err := tr.Send(context.Background(), make([]byte, MaxClassicFrameSize+1))
	var tooLong MessageTooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("expected MessageTooLongError, got %v", err)
	}
	if !errors.Is(err, diagerr.ErrInvalidArgument) {
		t.Error("oversize send must be an invalid argument")
	}
	select {
	case msg := <-tx:
		t.Fatalf("frame emitted for rejected message: %s", msg.String())
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSend_FlowControlTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.TimeoutN_Bs = 50 * time.Millisecond
	tr, _, _ := newDriven(t, cfg)

	err := tr.Send(context.Background(), make([]byte, 20))
	var fcErr FlowControlTimeoutError
	if !errors.As(err, &fcErr) || !errors.Is(err, diagerr.ErrTiming) {
		t.Fatalf("expected FlowControlTimeoutError, got %v", err)
	}
}

func TestSend_WaitFramesAndOverflow(t *testing.T) {
	t.Run("wait limit", func(t *testing.T) {
		cfg := fastConfig()
		cfg.MaxWaitFrame = 2
		tr, rx, tx := newDriven(t, cfg)

		done := make(chan error, 1)
		go func() { done <- tr.Send(context.Background(), make([]byte, 20)) }()
		expectFrame(t, tx)
		for i := 0; i < 3; i++ {
			rx <- frame(0x7E0, 0x31, 0x00, 0x00)
		}
		var wftErr MaximumWaitFrameReachedError
		if err := <-done; !errors.As(err, &wftErr) {
			t.Fatalf("expected MaximumWaitFrameReachedError, got %v", err)
		}
	})

	t.Run("wait then continue", func(t *testing.T) {
		cfg := fastConfig()
		cfg.MaxWaitFrame = 2
		tr, rx, tx := newDriven(t, cfg)

		done := make(chan error, 1)
		go func() { done <- tr.Send(context.Background(), make([]byte, 10)) }()
		expectFrame(t, tx)
		rx <- frame(0x7E0, 0x31, 0x00, 0x00)
		rx <- frame(0x7E0, 0x30, 0x00, 0x00)
		cf := expectFrame(t, tx)
		if cf.Data[0] != 0x21 {
			t.Fatalf("expected CF seq 1, got % X", cf.Data)
		}
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	})

	t.Run("overflow", func(t *testing.T) {
		tr, rx, tx := newDriven(t, fastConfig())
		done := make(chan error, 1)
		go func() { done <- tr.Send(context.Background(), make([]byte, 20)) }()
		expectFrame(t, tx)
		rx <- frame(0x7E0, 0x32, 0x00, 0x00)
		var ovf OverflowError
		if err := <-done; !errors.As(err, &ovf) {
			t.Fatalf("expected OverflowError, got %v", err)
		}
	})
}

func TestMakeTxMsg_Padding(t *testing.T) {
	pad := byte(0xAA)
	cfg := fastConfig()
	cfg.PaddingByte = &pad
	tr, err := NewTransport(testAddress(t, 0x7E0, 0x7E8), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	msg := tr.makeTxMsg([]byte{0x02, 0x10, 0x03}, Physical)
	want := []byte{0x02, 0x10, 0x03, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	if !bytes.Equal(msg.Data, want) {
		t.Errorf("padded frame % X, want % X", msg.Data, want)
	}
	if msg.ArbitrationID != 0x7E0 || msg.IsExtendedID {
		t.Errorf("unexpected id %s", msg.String())
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"block size", func(c *Config) { c.BlockSize = 256 }, false},
		{"stmin", func(c *Config) { c.StMin = 200 * time.Millisecond }, false},
		{"zero timeout", func(c *Config) { c.TimeoutN_Cr = 0 }, false},
		{"brs without fd", func(c *Config) { c.BitrateSwitch = true }, false},
		{"fd min length", func(c *Config) { c.CanFD = true; c.TxDataMinLength = 12 }, true},
		{"bad fd min length", func(c *Config) { c.CanFD = true; c.TxDataMinLength = 13 }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, ok want %v", err, tc.ok)
			}
		})
	}
}
