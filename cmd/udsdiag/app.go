package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsdiag/config"
	"github.com/LoveWonYoung/udsdiag/diag"
	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/LoveWonYoung/udsdiag/logrecorder"
	"github.com/LoveWonYoung/udsdiag/udsclient"
)

type globalFlags struct {
	configPath string
	descriptor string
	logDir     string
	trace      bool
}

// app 保存一次命令执行共享的配置和日志
type app struct {
	flags  globalFlags
	cfg    *config.Config
	logger *log.Logger

	recorder *logrecorder.Recorder
	stopLog  context.CancelFunc
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.flags.configPath != "" {
		loaded, err := config.Load(a.flags.configPath)
		if err != nil {
			return diagerr.Explain("load config", err)
		}
		cfg = loaded
	}
	if a.flags.descriptor != "" {
		cfg.Connection.Descriptor = a.flags.descriptor
	}
	if a.flags.trace {
		cfg.Connection.Trace = true
	}
	if a.flags.logDir != "" {
		cfg.Log.Dir = a.flags.logDir
	}
	if err := cfg.Validate(); err != nil {
		return diagerr.Explain("load config", err)
	}
	a.cfg = cfg

	if cfg.Log.Dir == "" {
		a.logger = log.New(cmd.ErrOrStderr(), "", log.Lmicroseconds)
		return nil
	}
	rec, err := logrecorder.New(cfg.Log.Dir, cfg.Log.Name, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	go rec.Run(ctx, cfg.Log.Rotate)
	a.recorder, a.stopLog, a.logger = rec, cancel, rec.Logger()
	return nil
}

func (a *app) close() {
	if a.stopLog != nil {
		a.stopLog()
	}
	if a.recorder != nil {
		a.recorder.Close()
	}
}

// withConnection 打开连接，执行 fn 后断开。错误附带提示。
func (a *app) withConnection(cmd *cobra.Command, op string, fn func(ctx context.Context, conn *diag.Connection) error) error {
	ctx := cmd.Context()
	opts, err := a.cfg.Options(a.logger)
	if err != nil {
		return diagerr.Explain("connect", err)
	}
	conn, err := diag.Connect(ctx, a.cfg.Connection.Descriptor, opts)
	if err != nil {
		return diagerr.Explain("connect", err)
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			a.logger.Printf("disconnect: %v", err)
		}
	}()
	if err := fn(ctx, conn); err != nil {
		return diagerr.Explain(op, err)
	}
	return nil
}

// enter 进入会话，level 不为 0 时再解锁
func (a *app) enter(ctx context.Context, conn *diag.Connection, session udsclient.SessionType, level uint8) error {
	if session != udsclient.DefaultSession {
		if err := conn.StartSession(ctx, session); err != nil {
			return err
		}
	}
	if level == 0 {
		return nil
	}
	key, err := a.cfg.KeyFunc(level)
	if err != nil {
		return err
	}
	res, err := conn.SecurityAccess(ctx, level, key)
	if err != nil {
		return err
	}
	if res.AlreadyUnlocked {
		a.logger.Printf("level 0x%02X already unlocked", level)
	}
	return nil
}

// sessionFlags 需要会话和安全等级的命令共用
type sessionFlags struct {
	session string
	level   string
}

func (f *sessionFlags) register(cmd *cobra.Command, session, level string) {
	cmd.Flags().StringVar(&f.session, "session", session, "Diagnostic session (default, programming, extended or 0xNN)")
	cmd.Flags().StringVar(&f.level, "level", level, "Security level to unlock first (0 = none)")
}

func (f *sessionFlags) parse() (udsclient.SessionType, uint8, error) {
	session, err := udsclient.ParseSessionType(f.session)
	if err != nil {
		return 0, 0, diagerr.InvalidArgument("--session", "%v", err)
	}
	level, err := parseUint(f.level, 8)
	if err != nil {
		return 0, 0, diagerr.InvalidArgument("--level", "%v", err)
	}
	return session, uint8(level), nil
}

// parseUint 接受十进制或 0x 前缀十六进制
func parseUint(s string, bits int) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 0, bits)
}

// parseHexBytes 接受 "01 02 03"、"010203" 或 "01,02,03"
func parseHexBytes(s string) ([]byte, error) {
	compact := strings.NewReplacer(" ", "", ",", "", ":", "").Replace(s)
	compact = strings.TrimPrefix(strings.TrimPrefix(compact, "0x"), "0X")
	b, err := hex.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("bad hex data %q: %w", s, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("no data")
	}
	return b, nil
}
