package tp

import (
	"context"
	"testing"
	"time"
)

// BenchmarkTransport_Loopback 测量两个协议栈之间多帧报文的吞吐
func BenchmarkTransport_Loopback(b *testing.B) {
	for _, size := range []int{7, 100, 4095} {
		b.Run(sizeName(size), func(b *testing.B) {
			t1, t2 := newLoopback(b, DefaultConfig(), DefaultConfig())
			payload := make([]byte, size)
			ctx := context.Background()

			b.SetBytes(int64(size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				errc := make(chan error, 1)
				go func() { errc <- t1.Send(ctx, payload) }()
				if _, err := t2.Recv(ctx, time.Second); err != nil {
					b.Fatal(err)
				}
				if err := <-errc; err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func sizeName(n int) string {
	switch {
	case n <= 7:
		return "single"
	case n < 1000:
		return "multi"
	}
	return "max"
}
