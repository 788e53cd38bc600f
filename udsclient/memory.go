package udsclient

import (
	"bytes"
	"context"
	"fmt"

	"github.com/LoveWonYoung/udsdiag/diagerr"
)

// MemoryFormat 描述 addressAndLengthFormatIdentifier (ALFID)：
// 高4位为长度字节数，低4位为地址字节数
type MemoryFormat struct {
	AddressBytes int
	SizeBytes    int
}

// DefaultMemoryFormat 4字节地址，4字节长度
var DefaultMemoryFormat = MemoryFormat{AddressBytes: 4, SizeBytes: 4}

func (f MemoryFormat) Validate() error {
	if f.AddressBytes < 1 || f.AddressBytes > 4 || f.SizeBytes < 1 || f.SizeBytes > 4 {
		return diagerr.InvalidArgument("memory format", "address/size bytes must be 1..4, got %d/%d", f.AddressBytes, f.SizeBytes)
	}
	return nil
}

// ALFID 返回格式字节
func (f MemoryFormat) ALFID() byte {
	return byte(f.SizeBytes<<4 | f.AddressBytes)
}

// ParseALFID 解析格式字节
func ParseALFID(b byte) (MemoryFormat, error) {
	f := MemoryFormat{AddressBytes: int(b & 0x0F), SizeBytes: int(b >> 4)}
	return f, f.Validate()
}

func fits(v uint64, n int) bool {
	return n >= 8 || v < 1<<(8*uint(n))
}

func putBE(dst []byte, v uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}

func readBE(src []byte) uint64 {
	var v uint64
	for _, b := range src {
		v = v<<8 | uint64(b)
	}
	return v
}

// Encode 编码 ALFID + 地址 + 长度。数值放不下时返回错误，不截断。
func (f MemoryFormat) Encode(addr uint32, size uint32) ([]byte, error) {
	const op = "encode memory address"
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if !fits(uint64(addr), f.AddressBytes) {
		return nil, diagerr.InvalidArgument(op, "address 0x%X does not fit in %d bytes", addr, f.AddressBytes)
	}
	if !fits(uint64(size), f.SizeBytes) {
		return nil, diagerr.InvalidArgument(op, "size %d does not fit in %d bytes", size, f.SizeBytes)
	}
	out := make([]byte, 1+f.AddressBytes+f.SizeBytes)
	out[0] = f.ALFID()
	putBE(out[1:1+f.AddressBytes], uint64(addr))
	putBE(out[1+f.AddressBytes:], uint64(size))
	return out, nil
}

// DecodeAddressAndLength 解析以 ALFID 开头的地址和长度，返回消耗的字节数
func DecodeAddressAndLength(p []byte) (addr, size uint32, n int, err error) {
	if len(p) < 1 {
		return 0, 0, 0, fmt.Errorf("missing addressAndLengthFormatIdentifier")
	}
	f, err := ParseALFID(p[0])
	if err != nil {
		return 0, 0, 0, err
	}
	n = 1 + f.AddressBytes + f.SizeBytes
	if len(p) < n {
		return 0, 0, 0, fmt.Errorf("need %d bytes for ALFID 0x%02X, got %d", n, p[0], len(p))
	}
	addr = uint32(readBE(p[1 : 1+f.AddressBytes]))
	size = uint32(readBE(p[1+f.AddressBytes : n]))
	return addr, size, n, nil
}

func checkRange(op string, addr uint32, n int) error {
	if n <= 0 {
		return diagerr.InvalidArgument(op, "length must be positive, got %d", n)
	}
	if uint64(addr)+uint64(n) > 1<<32 {
		return diagerr.InvalidArgument(op, "range 0x%08X+%d wraps the address space", addr, n)
	}
	return nil
}

// ReadMemory 0x23 读取 n 个字节。响应放不进一条报文时直接拒绝。
func (c *Client) ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error) {
	const op = "read memory"
	if err := checkRange(op, addr, n); err != nil {
		return nil, err
	}
	if n+1 > c.maxMessageSize() {
		return nil, &RequestTooLargeError{Op: op, Size: n + 1, Max: c.maxMessageSize()}
	}
	params, err := c.opts.MemoryFormat.Encode(addr, uint32(n))
	if err != nil {
		return nil, err
	}
	resp, err := c.doRead(ctx, NewRequest(SIDReadMemoryByAddress, params...))
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != n {
		return nil, unexpected(SIDReadMemoryByAddress, resp.Data, "expected %d bytes, got %d", n, len(resp.Data))
	}
	return resp.Data, nil
}

// WriteMemory 0x3D 写入数据，请求放不进一条报文时直接拒绝
func (c *Client) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	const op = "write memory"
	if err := checkRange(op, addr, len(data)); err != nil {
		return err
	}
	params, err := c.opts.MemoryFormat.Encode(addr, uint32(len(data)))
	if err != nil {
		return err
	}
	if size := 1 + len(params) + len(data); size > c.maxMessageSize() {
		return &RequestTooLargeError{Op: op, Size: size, Max: c.maxMessageSize()}
	}
	resp, err := c.Do(ctx, NewRequest(SIDWriteMemoryByAddress, append(params, data...)...))
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(resp.Data, params) {
		return unexpected(SIDWriteMemoryByAddress, resp.Data, "echo does not match request")
	}
	return nil
}

// MaxReadChunk 返回单次 ReadMemory 可以读取的最大字节数
func (c *Client) MaxReadChunk() int { return c.maxMessageSize() - 1 }

// MaxWriteChunk 返回单次 WriteMemory 可以写入的最大字节数
func (c *Client) MaxWriteChunk() int {
	return c.maxMessageSize() - 2 - c.opts.MemoryFormat.AddressBytes - c.opts.MemoryFormat.SizeBytes
}

// MaxTransferChunk 返回单个 0x36 块可以携带的最大数据长度
func (c *Client) MaxTransferChunk() int { return c.maxMessageSize() - 2 }

// RequestDownload 0x34，返回 ECU 的 maxNumberOfBlockLength (含 SID 和序号)
func (c *Client) RequestDownload(ctx context.Context, addr uint32, size uint32, dataFormat byte) (int, error) {
	const op = "request download"
	if err := checkRange(op, addr, int(size)); err != nil {
		return 0, err
	}
	params, err := c.opts.MemoryFormat.Encode(addr, size)
	if err != nil {
		return 0, err
	}
	resp, err := c.Do(ctx, NewRequest(SIDRequestDownload, append([]byte{dataFormat}, params...)...))
	if err != nil {
		return 0, err
	}
	if len(resp.Data) < 1 {
		return 0, unexpected(SIDRequestDownload, resp.Data, "missing lengthFormatIdentifier")
	}
	n := int(resp.Data[0] >> 4)
	if n < 1 || n > 4 || len(resp.Data) < 1+n {
		return 0, unexpected(SIDRequestDownload, resp.Data, "bad maxNumberOfBlockLength")
	}
	maxLen := int(readBE(resp.Data[1 : 1+n]))
	if maxLen < 3 {
		return 0, unexpected(SIDRequestDownload, resp.Data, "maxNumberOfBlockLength %d too small", maxLen)
	}
	return maxLen, nil
}

// TransferData 0x36 发送一个数据块，返回 ECU 附带的参数
func (c *Client) TransferData(ctx context.Context, seq byte, data []byte) ([]byte, error) {
	if size := 2 + len(data); size > c.maxMessageSize() {
		return nil, &RequestTooLargeError{Op: "transfer data", Size: size, Max: c.maxMessageSize()}
	}
	resp, err := c.Do(ctx, NewRequest(SIDTransferData, append([]byte{seq}, data...)...))
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 1 || resp.Data[0] != seq {
		return nil, unexpected(SIDTransferData, resp.Data, "block sequence counter echo mismatch, want 0x%02X", seq)
	}
	return resp.Data[1:], nil
}

// RequestTransferExit 0x37
func (c *Client) RequestTransferExit(ctx context.Context) ([]byte, error) {
	resp, err := c.Do(ctx, NewRequest(SIDRequestTransferExit))
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
