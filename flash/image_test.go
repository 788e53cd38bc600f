package flash

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LoveWonYoung/udsdiag/diagerr"
)

const sampleHex = `:020000040001F9
:0400000001020304F2
:02000800AABB91
:00000001FF
`

func TestParseIntelHex(t *testing.T) {
	img, err := ParseIntelHex(strings.NewReader(sampleHex), 0)
	if err != nil {
		t.Fatal(err)
	}
	if img.Address != 0x00010000 {
		t.Errorf("address 0x%08X", img.Address)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04, 0xFF, 0xFF, 0xFF, 0xFF, 0xAA, 0xBB}
	if !bytes.Equal(img.Data, want) {
		t.Errorf("data % X, want % X", img.Data, want)
	}
	if img.End() != 0x0001000A {
		t.Errorf("end 0x%X", img.End())
	}
}

func TestParseIntelHexErrors(t *testing.T) {
	for name, in := range map[string]string{
		"校验和错误": ":0400000001020304F3\n:00000001FF\n",
		"没有数据":  ":00000001FF\n",
	} {
		if _, err := ParseIntelHex(strings.NewReader(in), 0); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseIntelHexSpanLimit(t *testing.T) {
	// 两条记录相距将近 4 GiB
	sparse := ":0100000001FE\n:02000004FFFFFC\n:01FF000002FE\n:00000001FF\n"
	_, err := ParseIntelHex(strings.NewReader(sparse), 0)
	if !errors.Is(err, diagerr.ErrInvalidArgument) || !strings.Contains(err.Error(), "limit") {
		t.Fatalf("sparse image: %v", err)
	}

	if _, err := ParseIntelHex(strings.NewReader(sampleHex), 9); !errors.Is(err, diagerr.ErrInvalidArgument) {
		t.Errorf("10 byte span with limit 9: %v", err)
	}
	img, err := ParseIntelHex(strings.NewReader(sampleHex), 10)
	if err != nil || len(img.Data) != 10 {
		t.Errorf("10 byte span with limit 10: %d bytes, %v", len(img.Data), err)
	}
}

func TestIntelHexRoundTrip(t *testing.T) {
	img := Image{Address: 0x00020010, Data: pattern(100)}
	var buf bytes.Buffer
	if err := WriteIntelHex(&buf, img); err != nil {
		t.Fatal(err)
	}
	got, err := ParseIntelHex(&buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Address != img.Address || !bytes.Equal(got.Data, img.Data) {
		t.Errorf("round trip gave 0x%08X % X", got.Address, got.Data)
	}
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "app.bin")
	if err := os.WriteFile(bin, []byte{0xDE, 0xAD}, 0o644); err != nil {
		t.Fatal(err)
	}
	hex := filepath.Join(dir, "app.HEX")
	if err := os.WriteFile(hex, []byte(sampleHex), 0o644); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	img, err := LoadImage(bin, 0x4000, 0)
	if err != nil || img.Address != 0x4000 || !bytes.Equal(img.Data, []byte{0xDE, 0xAD}) {
		t.Errorf("raw image %+v, %v", img, err)
	}
	img, err = LoadImage(hex, 0x4000, 0)
	if err != nil || img.Address != 0x00010000 || len(img.Data) != 10 {
		t.Errorf("hex image %+v, %v", img, err)
	}
	if _, err := LoadImage(empty, 0, 0); err == nil {
		t.Error("empty image accepted")
	}
	if _, err := LoadImage(filepath.Join(dir, "missing.bin"), 0, 0); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := LoadImage(bin, 0xFFFFFFFF, 0); err == nil {
		t.Error("image past the end of the address space accepted")
	}
	if _, err := LoadImage(bin, 0x4000, 1); !errors.Is(err, diagerr.ErrInvalidArgument) {
		t.Errorf("raw image over the limit: %v", err)
	}
	if _, err := LoadImage(hex, 0, 4); !errors.Is(err, diagerr.ErrInvalidArgument) {
		t.Errorf("hex image over the limit: %v", err)
	}
}
