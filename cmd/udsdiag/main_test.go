package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/LoveWonYoung/udsdiag/config"
	"github.com/LoveWonYoung/udsdiag/diagerr"
)

// run 执行一条命令，返回标准输出
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	a := &app{}
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	a.close()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "udsdiag version dev") {
		t.Errorf("output = %q", out)
	}
}

func TestCommands_Sim(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"扩展会话", []string{"session", "extended"}, "extended session, locked"},
		{"会话加复位", []string{"session", "extended", "--reset", "soft"}, "default session, locked"},
		{"解锁", []string{"unlock", "--level", "0x01"}, "extended session, level 0x01"},
		{"编程会话解锁", []string{"unlock", "--session", "programming", "--level", "1"}, "programming session, level 0x01"},
		{"读DID", []string{"read", "--did", "0xF190"}, "UDSDIAGSIM0000001"},
		{"读内存", []string{"read", "0x10000", "32"}, "00000010"},
		{"写内存", []string{"write", "0x10000", "DE AD BE EF", "--level", "0x01"}, "wrote 4 bytes at 0x00010000"},
		{"写DID", []string{"write", "--did", "0xF18C", "30313233"}, "wrote 4 bytes to DID 0xF18C"},
		{"读故障码", []string{"dtc"}, "no DTCs"},
		{"清故障码", []string{"dtc", "--clear"}, "DTCs cleared"},
		{"显示配置", []string{"config", "show"}, "p2: 150ms"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := run(t, append([]string{"--descriptor", "sim:"}, tc.args...)...)
			if err != nil {
				t.Fatalf("%v: %v", tc.args, err)
			}
			if !strings.Contains(out, tc.want) {
				t.Errorf("output %q does not contain %q", out, tc.want)
			}
		})
	}
}

func TestCommands_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
		kind error
	}{
		{"未锁定写内存", []string{"write", "0x10000", "01"}, "Hint:", diagerr.ErrNegativeResponse},
		{"缺少等级", []string{"unlock"}, "--level", diagerr.ErrInvalidArgument},
		{"未配置等级", []string{"unlock", "--level", "0x05"}, "not configured", diagerr.ErrInvalidArgument},
		{"未知会话", []string{"session", "sleepy"}, "unknown session", diagerr.ErrInvalidArgument},
		{"未知复位", []string{"session", "default", "--reset", "warm"}, "warm", diagerr.ErrInvalidArgument},
		{"十六进制错误", []string{"write", "0x10000", "xyz"}, "bad hex", diagerr.ErrInvalidArgument},
		{"长度为零", []string{"read", "0x10000", "0"}, "bad length", diagerr.ErrInvalidArgument},
		{"越界读取", []string{"read", "0x0", "4"}, "read memory failed", diagerr.ErrNegativeResponse},
		{"dump缺少输出", []string{"dump", "0x10000", "16"}, "--out", diagerr.ErrInvalidArgument},
		{"后端错误", []string{"--descriptor", "nope:x", "dtc"}, "load config", diagerr.ErrInvalidArgument},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, tc.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not contain %q", err, tc.want)
			}
			if !errors.Is(err, tc.kind) {
				t.Errorf("error %v is not %v", err, tc.kind)
			}
		})
	}
}

func TestDump(t *testing.T) {
	dir := t.TempDir()

	raw := filepath.Join(dir, "ecu.bin")
	if _, err := run(t, "dump", "0x10000", "300", "--out", raw, "--chunk", "64"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 300 {
		t.Errorf("raw dump has %d bytes, want 300", len(data))
	}

	hexPath := filepath.Join(dir, "ecu.hex")
	if _, err := run(t, "dump", "0x10000", "40", "--out", hexPath, "--format", "hex"); err != nil {
		t.Fatal(err)
	}
	text, err := os.ReadFile(hexPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(text), ":") || !strings.Contains(string(text), ":00000001FF") {
		t.Errorf("not an Intel HEX file:\n%s", text)
	}

	if _, err := run(t, "dump", "0x10000", "16", "--out", raw, "--format", "srec"); !errors.Is(err, diagerr.ErrInvalidArgument) {
		t.Errorf("bad format: %v", err)
	}
}

func TestFlash(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "app.bin")
	payload := bytes.Repeat([]byte{0x12, 0x34, 0x56}, 200)
	if err := os.WriteFile(img, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "flash", img, "--address", "0x10000")
	if err != nil {
		t.Fatalf("flash: %v", err)
	}
	if !strings.Contains(out, "flashing 600 bytes at 0x00010000") || !strings.Contains(out, "done:") {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, "flash", img, "--address", "0x10000", "--method", "write_memory", "--verify", "checksum", "--block-size", "100")
	if err != nil {
		t.Fatalf("flash write_memory: %v", err)
	}
	if !strings.Contains(out, "done: 6 blocks") {
		t.Errorf("output = %q", out)
	}

	if _, err := run(t, "flash", img, "--address", "0x20000"); !errors.Is(err, diagerr.ErrTransfer) {
		t.Errorf("out of range image: %v", err)
	}
	if _, err := run(t, "flash", img, "--method", "ftp"); !errors.Is(err, diagerr.ErrInvalidArgument) {
		t.Errorf("bad method: %v", err)
	}
	sparse := filepath.Join(dir, "sparse.hex")
	if err := os.WriteFile(sparse, []byte(":0100000001FE\n:02000004FFFFFC\n:01FF000002FE\n:00000001FF\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "flash", sparse); !errors.Is(err, diagerr.ErrInvalidArgument) {
		t.Errorf("sparse hex image: %v", err)
	}
	if _, err := run(t, "flash", filepath.Join(dir, "missing.bin")); err == nil {
		t.Error("missing image should fail")
	}
}

func TestConfigInitAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udsdiag.yaml")
	if _, err := run(t, "config", "init", path); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if _, err := run(t, "config", "init", path); err == nil {
		t.Error("init over an existing file should fail without --force")
	}
	if _, err := run(t, "config", "init", path, "--force"); err != nil {
		t.Errorf("--force: %v", err)
	}

	out, err := run(t, "--config", path, "unlock", "--level", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "level 0x01") {
		t.Errorf("output = %q", out)
	}

	if _, err := run(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "dtc"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing config: %v", err)
	}
}

func TestLogDir(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "--log-dir", dir, "--trace", "session", "extended"); err != nil {
		t.Fatal(err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*", "udsdiag_*.log"))
	if err != nil || len(files) != 1 {
		t.Fatalf("log files = %v, %v", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "ID=0x7E0") {
		t.Errorf("trace missing from log:\n%s", data)
	}
}

func TestParseHexBytes(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
		ok   bool
	}{
		{"DEADBEEF", []byte{0xDE, 0xAD, 0xBE, 0xEF}, true},
		{"de ad", []byte{0xDE, 0xAD}, true},
		{"0x0102", []byte{1, 2}, true},
		{"01,02:03", []byte{1, 2, 3}, true},
		{"0", nil, false},
		{"", nil, false},
		{"zz", nil, false},
	}
	for _, tc := range tests {
		got, err := parseHexBytes(tc.in)
		if (err == nil) != tc.ok || !bytes.Equal(got, tc.want) {
			t.Errorf("parseHexBytes(%q) = % X, %v", tc.in, got, err)
		}
	}
}
