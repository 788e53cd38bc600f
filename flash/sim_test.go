package flash

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/LoveWonYoung/udsdiag/driver"
	"github.com/LoveWonYoung/udsdiag/seedkey"
	"github.com/LoveWonYoung/udsdiag/tp"
	"github.com/LoveWonYoung/udsdiag/udsclient"
)

var quiet = log.New(io.Discard, "", 0)

// newSimClient 在 sim 后端上搭建 ISO-TP 和 UDS 客户端
func newSimClient(t *testing.T, cfg driver.SimConfig) (*udsclient.Client, *driver.SimECU) {
	t.Helper()
	cfg.Logger = quiet
	conn, err := driver.Open(driver.Descriptor{Kind: driver.KindSim}, driver.Options{Logger: quiet, Sim: cfg})
	if err != nil {
		t.Fatal(err)
	}
	transport, err := tp.NewTransport(driver.DefaultSimAddress(), tp.DefaultConfig(), quiet)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	rx := make(chan tp.CanMessage, 64)
	tx := make(chan tp.CanMessage, 64)
	go transport.Run(ctx, rx, tx)
	go func() {
		for ctx.Err() == nil {
			m, err := conn.Receive(20 * time.Millisecond)
			if err != nil {
				continue
			}
			select {
			case rx <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-tx:
				_ = conn.Send(ctx, m)
			}
		}
	}()
	client, err := udsclient.New(transport, udsclient.Options{Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		client.Close()
		cancel()
		conn.Close()
	})
	return client, conn.Simulator()
}

func simKey(t *testing.T) seedkey.KeyFunc {
	t.Helper()
	fn, err := seedkey.New(driver.SimSecret, seedkey.WithKeyLength(4))
	if err != nil {
		t.Fatal(err)
	}
	return fn
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i>>8)
	}
	return b
}
