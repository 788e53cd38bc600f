package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsdiag/diag"
	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/LoveWonYoung/udsdiag/udsclient"
)

func newSessionCmd(a *app) *cobra.Command {
	var reset string
	cmd := &cobra.Command{
		Use:   "session <type>",
		Short: "Switch diagnostic session (0x10) or reset the ECU (0x11)",
		Example: `  udsdiag session extended
  udsdiag session default --reset hard`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := udsclient.ParseSessionType(args[0])
			if err != nil {
				return diagerr.InvalidArgument("session", "%v", err)
			}
			resetType, err := parseReset(reset)
			if err != nil {
				return err
			}
			return a.withConnection(cmd, "session", func(ctx context.Context, conn *diag.Connection) error {
				if err := conn.StartSession(ctx, session); err != nil {
					return err
				}
				if resetType != 0 {
					if err := conn.ECUReset(ctx, resetType); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), conn.Session())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reset, "reset", "", "Reset the ECU afterwards: hard, keyoff or soft")
	return cmd
}

func parseReset(s string) (udsclient.ResetType, error) {
	switch s {
	case "":
		return 0, nil
	case "hard":
		return udsclient.HardReset, nil
	case "keyoff":
		return udsclient.KeyOffOnReset, nil
	case "soft":
		return udsclient.SoftReset, nil
	}
	return 0, diagerr.InvalidArgument("--reset", "unknown reset type %q", s)
}

func newUnlockCmd(a *app) *cobra.Command {
	var sf sessionFlags
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock a security level (0x27) with the configured secret",
		Example: `  udsdiag unlock --level 0x01
  udsdiag --config bench.yaml unlock --session programming --level 0x11`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, level, err := sf.parse()
			if err != nil {
				return err
			}
			if level == 0 {
				return diagerr.InvalidArgument("unlock", "required flag --level not set")
			}
			return a.withConnection(cmd, "unlock", func(ctx context.Context, conn *diag.Connection) error {
				if err := a.enter(ctx, conn, session, level); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), conn.Session())
				return nil
			})
		},
	}
	sf.register(cmd, "extended", "0")
	return cmd
}

func newDTCCmd(a *app) *cobra.Command {
	var (
		mask     string
		clearAll bool
	)
	cmd := &cobra.Command{
		Use:   "dtc",
		Short: "Read (0x19 02) or clear (0x14) diagnostic trouble codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseUint(mask, 8)
			if err != nil {
				return diagerr.InvalidArgument("--mask", "%v", err)
			}
			return a.withConnection(cmd, "dtc", func(ctx context.Context, conn *diag.Connection) error {
				out := cmd.OutOrStdout()
				if clearAll {
					if err := conn.ClearDTC(ctx); err != nil {
						return err
					}
					fmt.Fprintln(out, "DTCs cleared")
					return nil
				}
				records, err := conn.ReadDTC(ctx, byte(m))
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(out, "no DTCs")
					return nil
				}
				for _, r := range records {
					fmt.Fprintf(out, "%s  [%s]\n", r, r.StatusString())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mask, "mask", "0xFF", "Status mask")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Clear all DTCs instead of reading")
	return cmd
}
