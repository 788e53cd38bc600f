package flash

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"

	"github.com/LoveWonYoung/udsdiag/diagerr"
)

// DefaultMaxImageSize 镜像展开后的默认上限
const DefaultMaxImageSize = 16 << 20

// Image 是待写入的连续数据
type Image struct {
	Address uint32
	Data    []byte
}

// End 返回最后一个字节之后的地址
func (img Image) End() uint64 { return uint64(img.Address) + uint64(len(img.Data)) }

// IsIntelHex 按扩展名判断文件格式
func IsIntelHex(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex", ".ihx":
		return true
	}
	return false
}

// LoadImage 读取镜像。Intel HEX 文件的各段被拼接为一块，空隙填 0xFF，addr 被忽略；
// 其它文件按原始二进制处理，放在 addr。展开后超过 limit 字节的镜像被拒绝，limit<=0 使用 DefaultMaxImageSize。
func LoadImage(path string, addr uint32, limit int) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	if IsIntelHex(path) {
		return ParseIntelHex(f, limit)
	}
	if limit <= 0 {
		limit = DefaultMaxImageSize
	}
	data, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return Image{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) > limit {
		return Image{}, diagerr.InvalidArgument("load image", "%s is larger than %d bytes", path, limit)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("image %s is empty", path)
	}
	if uint64(addr)+uint64(len(data)) > 1<<32 {
		return Image{}, fmt.Errorf("image of %d bytes does not fit at 0x%08X", len(data), addr)
	}
	return Image{Address: addr, Data: data}, nil
}

// ParseIntelHex 解析 Intel HEX 并展开为连续数据。
// 从最低到最高地址的跨度超过 limit 时报错，limit<=0 使用 DefaultMaxImageSize。
func ParseIntelHex(r io.Reader, limit int) (Image, error) {
	if limit <= 0 {
		limit = DefaultMaxImageSize
	}
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return Image{}, fmt.Errorf("parse intel hex: %w", err)
	}
	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return Image{}, fmt.Errorf("intel hex contains no data")
	}
	start := segments[0].Address
	var end uint64
	for _, s := range segments {
		if s.Address < start {
			start = s.Address
		}
		end = max(end, uint64(s.Address)+uint64(len(s.Data)))
	}
	size := end - uint64(start)
	if size > uint64(limit) {
		return Image{}, diagerr.InvalidArgument("parse intel hex", "data spans 0x%08X..0x%08X (%d bytes), limit is %d", start, end, size, limit)
	}
	return Image{Address: start, Data: mem.ToBinary(start, uint32(size), 0xFF)}, nil
}

// WriteIntelHex 把镜像写为 Intel HEX，每行 16 字节
func WriteIntelHex(w io.Writer, img Image) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(img.Address, bytes.Clone(img.Data)); err != nil {
		return fmt.Errorf("build intel hex: %w", err)
	}
	if err := mem.DumpIntelHex(w, 16); err != nil {
		return fmt.Errorf("write intel hex: %w", err)
	}
	return nil
}
