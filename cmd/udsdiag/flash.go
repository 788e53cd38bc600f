package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsdiag/diag"
	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/LoveWonYoung/udsdiag/flash"
)

const progressInterval = 500 * time.Millisecond

func newFlashCmd(a *app) *cobra.Command {
	var (
		address string
		level   string
		method  string
		verify  string
		block   int
	)
	cmd := &cobra.Command{
		Use:   "flash <image>",
		Short: "Erase, download and verify an image (.bin or Intel HEX)",
		Example: `  udsdiag flash app.hex
  udsdiag flash app.bin --address 0x10000 --verify checksum`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fc := &a.cfg.Flash
			if level != "" {
				l, err := parseUint(level, 8)
				if err != nil {
					return diagerr.InvalidArgument("--level", "%v", err)
				}
				fc.SecurityLevel = uint8(l)
			}
			if method != "" {
				fc.Method = method
			}
			if verify != "" {
				fc.Verify = verify
			}
			if block > 0 {
				fc.BlockSize = block
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			addr, err := parseUint(address, 32)
			if err != nil {
				return diagerr.InvalidArgument("--address", "%v", err)
			}
			img, err := flash.LoadImage(args[0], uint32(addr), a.cfg.Flash.MaxImageSize)
			if err != nil {
				return diagerr.Explain("load image", err)
			}
			plan, err := a.cfg.FlashPlan(img)
			if err != nil {
				return err
			}

			return a.withConnection(cmd, "flash", func(ctx context.Context, conn *diag.Connection) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "flashing %d bytes at 0x%08X (%s, verify %s)\n", len(img.Data), img.Address, plan.Method, plan.Verify)
				if err := conn.BeginFlashTransfer(plan); err != nil {
					return err
				}
				st, err := waitWithProgress(ctx, conn, func(st flash.Status) {
					fmt.Fprintf(out, "  %s\n", st)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "done: %d blocks, crc32 0x%08X\n", st.Job.Blocks(), st.Job.Checksum)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "0", "Load address for raw .bin images")
	cmd.Flags().StringVar(&level, "level", "", "Security level, overrides flash.security_level")
	cmd.Flags().StringVar(&method, "method", "", "download or write_memory, overrides flash.method")
	cmd.Flags().StringVar(&verify, "verify", "", "readback, checksum or none, overrides flash.verify")
	cmd.Flags().IntVar(&block, "block-size", 0, "Upper bound for the transfer block size")
	return cmd
}

// waitWithProgress 定时打印进度直到任务结束。ctx 取消时中止任务。
func waitWithProgress(ctx context.Context, conn *diag.Connection, progress func(flash.Status)) (flash.Status, error) {
	done := make(chan struct{})
	var (
		st  flash.Status
		err error
	)
	go func() {
		st, err = conn.WaitTransfer(ctx)
		close(done)
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	last := flash.Status{Phase: flash.Idle}
	for {
		select {
		case <-done:
			if ctx.Err() != nil && !st.Phase.Terminal() {
				st = conn.AbortTransfer()
				return st, st.Err
			}
			return st, err
		case <-ticker.C:
			cur := conn.PollTransfer()
			if cur.Phase != last.Phase || cur.Job.Transferred != last.Job.Transferred {
				progress(cur)
				last = cur
			}
		}
	}
}
