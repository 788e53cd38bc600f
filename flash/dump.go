package flash

import (
	"context"
	"fmt"
	"io"

	"github.com/LoveWonYoung/udsdiag/diagerr"
)

// MemoryReader 是 Dump 需要的读内存能力
type MemoryReader interface {
	ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error)
	MaxReadChunk() int
}

// Dump 按块读取 [addr, addr+length) 并原样写入 w，不加任何头。
// chunk 为 0 或超过链路上限时使用链路上限。返回已写入的字节数。
func Dump(ctx context.Context, r MemoryReader, addr uint32, length int, chunk int, w io.Writer) (int64, error) {
	const op = "dump"
	if length <= 0 {
		return 0, diagerr.InvalidArgument(op, "length must be positive, got %d", length)
	}
	if uint64(addr)+uint64(length) > 1<<32 {
		return 0, diagerr.InvalidArgument(op, "range 0x%08X+%d wraps the address space", addr, length)
	}
	if limit := r.MaxReadChunk(); chunk <= 0 || chunk > limit {
		chunk = limit
	}
	if chunk <= 0 {
		return 0, diagerr.InvalidArgument(op, "link too small to read memory")
	}

	var written int64
	for off := 0; off < length; off += chunk {
		n := min(chunk, length-off)
		at := addr + uint32(off)
		data, err := r.ReadMemory(ctx, at, n)
		if err != nil {
			return written, fmt.Errorf("dump at 0x%08X: %w", at, err)
		}
		k, err := w.Write(data)
		written += int64(k)
		if err != nil {
			return written, fmt.Errorf("dump write: %w", err)
		}
	}
	return written, nil
}
