package logrecorder

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestNowString(t *testing.T) {
	if !regexp.MustCompile(`^\d{8}_\d{4}$`).MatchString(NowString()) {
		t.Errorf("NowString() = %q", NowString())
	}
}

func TestMakeDir(t *testing.T) {
	base := t.TempDir()
	dir, err := MakeDir(base)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(dir) != base {
		t.Errorf("dir %q not under %q", dir, base)
	}
	if !regexp.MustCompile(`^\d{4}_\d{2}_\d{2}$`).MatchString(filepath.Base(dir)) {
		t.Errorf("dated name = %q", filepath.Base(dir))
	}
	// 目录已存在时不报错
	if _, err := MakeDir(base); err != nil {
		t.Errorf("second MakeDir: %v", err)
	}
}

func TestRecorder_WritesAndEchoes(t *testing.T) {
	var echo bytes.Buffer
	r, err := New(t.TempDir(), "diag_", &echo)
	if err != nil {
		t.Fatal(err)
	}
	r.Logger().Printf("TX CAN  : ID=0x7E0")
	path := r.Path()
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(filepath.Base(path), "diag_") || filepath.Ext(path) != ".log" {
		t.Errorf("file name = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "ID=0x7E0") {
		t.Errorf("log file = %q", data)
	}
	if !strings.Contains(echo.String(), "ID=0x7E0") {
		t.Errorf("echo = %q", echo.String())
	}

	// 关闭后写入被丢弃
	r.Logger().Printf("after close")
	data, _ = os.ReadFile(path)
	if strings.Contains(string(data), "after close") {
		t.Error("write after Close reached the file")
	}
}

func TestRecorder_RotateKeepsLogger(t *testing.T) {
	r, err := New(t.TempDir(), "diag_", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	logger := r.Logger()
	logger.Print("first")
	if err := r.Rotate(); err != nil {
		t.Fatal(err)
	}
	if r.Logger() != logger {
		t.Error("Rotate replaced the logger")
	}
	logger.Print("second")
	data, err := os.ReadFile(r.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "second") {
		t.Errorf("current file = %q", data)
	}
}

func TestRecorder_RunStopsWithContext(t *testing.T) {
	r, err := New(t.TempDir(), "diag_", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_BadBase(t *testing.T) {
	base := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(base, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(base, "x", nil); err == nil {
		t.Error("expected an error when base is a file")
	}
}
