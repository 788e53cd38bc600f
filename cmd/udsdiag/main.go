package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "udsdiag",
		Short: "UDS diagnostics and flashing over CAN",
		Long: `udsdiag talks UDS (ISO 14229) over ISO-TP to one ECU.
Backends: sim:, virtual:<bus>, socketcan:<iface>, slcan:<port>[@baud], toomoss:<index>.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "YAML config file (default: built-in simulator config)")
	pf.StringVar(&a.flags.descriptor, "descriptor", "", "Backend descriptor, overrides connection.descriptor")
	pf.StringVar(&a.flags.logDir, "log-dir", "", "Write logs to dated files under this directory")
	pf.BoolVar(&a.flags.trace, "trace", false, "Log every CAN frame")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSessionCmd(a))
	rootCmd.AddCommand(newUnlockCmd(a))
	rootCmd.AddCommand(newDTCCmd(a))
	rootCmd.AddCommand(newReadCmd(a))
	rootCmd.AddCommand(newWriteCmd(a))
	rootCmd.AddCommand(newDumpCmd(a))
	rootCmd.AddCommand(newFlashCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))

	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// 不需要配置和日志
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "udsdiag version %s\n", version)
			fmt.Fprintf(out, "commit: %s\n", commit)
			fmt.Fprintf(out, "date: %s\n", date)
		},
	}
}
