// Package logrecorder 把日志写入按日期分目录的文件，并定时轮换
package logrecorder

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultRotate 默认轮换周期
const DefaultRotate = 5 * time.Minute

// NowString 返回当前时间格式为 "20060102_1504" 的字符串
func NowString() string {
	return time.Now().Format("20060102_1504")
}

// MakeDir 在 base 下创建以日期命名的目录（如：2025_04_25）
func MakeDir(base string) (string, error) {
	now := time.Now()
	dirName := fmt.Sprintf("%d_%02d_%02d", now.Year(), now.Month(), now.Day())
	fullPath := filepath.Join(base, dirName)

	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", fmt.Errorf("创建文件夹失败: %w", err)
	}
	return fullPath, nil
}

// Recorder 持有当前日志文件。Logger 在轮换后保持不变，只切换输出。
type Recorder struct {
	base string
	name string
	// Echo 不为 nil 时日志同时写到这里，例如 os.Stderr
	echo io.Writer

	mu     sync.Mutex
	file   *os.File
	path   string
	logger *log.Logger
}

// New 在 base 下打开第一个日志文件，文件名为 name + 时间戳 + ".log"
func New(base, name string, echo io.Writer) (*Recorder, error) {
	r := &Recorder{
		base:   base,
		name:   name,
		echo:   echo,
		logger: log.New(io.Discard, "", log.LstdFlags|log.Lmicroseconds),
	}
	if err := r.Rotate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Logger 返回写入当前文件的日志器
func (r *Recorder) Logger() *log.Logger { return r.logger }

// Path 当前日志文件路径
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Rotate 打开新的日志文件并关闭旧文件。同一分钟内轮换会追加到同一个文件。
func (r *Recorder) Rotate() error {
	dir, err := MakeDir(r.base)
	if err != nil {
		return err
	}
	logPath := filepath.Join(dir, fmt.Sprintf("%s%s.log", r.name, NowString()))
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o666)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}

	r.mu.Lock()
	old := r.file
	r.file, r.path = f, logPath
	if r.echo != nil {
		r.logger.SetOutput(io.MultiWriter(f, r.echo))
	} else {
		r.logger.SetOutput(f)
	}
	r.mu.Unlock()

	if old != nil && old != f {
		return old.Close()
	}
	return nil
}

// Run 每隔 every 轮换一次，直到 ctx 结束
func (r *Recorder) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = DefaultRotate
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Rotate(); err != nil {
				// 如果重新初始化失败，记录错误信息到当前的日志输出
				r.logger.Printf("日志轮换失败: %v", err)
			}
		}
	}
}

// Close 关闭当前文件，之后的日志被丢弃
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.SetOutput(io.Discard)
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
