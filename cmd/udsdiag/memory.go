package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsdiag/diag"
	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/LoveWonYoung/udsdiag/flash"
)

func parseRange(addrArg, lenArg string) (uint32, int, error) {
	addr, err := parseUint(addrArg, 32)
	if err != nil {
		return 0, 0, diagerr.InvalidArgument("address", "%v", err)
	}
	n, err := parseUint(lenArg, 32)
	if err != nil || n == 0 {
		return 0, 0, diagerr.InvalidArgument("length", "bad length %q", lenArg)
	}
	return uint32(addr), int(n), nil
}

func newReadCmd(a *app) *cobra.Command {
	var (
		sf  sessionFlags
		did string
	)
	cmd := &cobra.Command{
		Use:   "read [<address> <length>]",
		Short: "Read memory (0x23) or a data identifier (0x22)",
		Example: `  udsdiag read 0x10000 64
  udsdiag read --did 0xF190`,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, level, err := sf.parse()
			if err != nil {
				return err
			}
			if did != "" {
				if len(args) != 0 {
					return diagerr.InvalidArgument("read", "--did takes no address arguments")
				}
				id, err := parseUint(did, 16)
				if err != nil {
					return diagerr.InvalidArgument("--did", "%v", err)
				}
				return a.withConnection(cmd, "read DID", func(ctx context.Context, conn *diag.Connection) error {
					if err := a.enter(ctx, conn, session, level); err != nil {
						return err
					}
					data, err := conn.ReadDataByIdentifier(ctx, uint16(id))
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "0x%04X: % X  %q\n", id, data, data)
					return nil
				})
			}
			if len(args) != 2 {
				return diagerr.InvalidArgument("read", "want <address> <length> or --did")
			}
			addr, n, err := parseRange(args[0], args[1])
			if err != nil {
				return err
			}
			return a.withConnection(cmd, "read memory", func(ctx context.Context, conn *diag.Connection) error {
				if err := a.enter(ctx, conn, session, level); err != nil {
					return err
				}
				data, err := conn.ReadMemory(ctx, addr, n)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), hex.Dump(data))
				return nil
			})
		},
	}
	sf.register(cmd, "default", "0")
	cmd.Flags().StringVar(&did, "did", "", "Read this data identifier instead of memory")
	return cmd
}

func newWriteCmd(a *app) *cobra.Command {
	var (
		sf  sessionFlags
		did string
	)
	cmd := &cobra.Command{
		Use:   "write <address> <hex-data> | --did <id> <hex-data>",
		Short: "Write memory (0x3D) or a data identifier (0x2E)",
		Example: `  udsdiag write 0x10000 "DE AD BE EF" --level 0x01
  udsdiag write --did 0xF18C 30313233`,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, level, err := sf.parse()
			if err != nil {
				return err
			}
			if did != "" {
				if len(args) != 1 {
					return diagerr.InvalidArgument("write", "--did takes exactly one data argument")
				}
				id, err := parseUint(did, 16)
				if err != nil {
					return diagerr.InvalidArgument("--did", "%v", err)
				}
				data, err := parseHexBytes(args[0])
				if err != nil {
					return diagerr.InvalidArgument("write", "%v", err)
				}
				return a.withConnection(cmd, "write DID", func(ctx context.Context, conn *diag.Connection) error {
					if err := a.enter(ctx, conn, session, level); err != nil {
						return err
					}
					if err := conn.WriteDataByIdentifier(ctx, uint16(id), data); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to DID 0x%04X\n", len(data), id)
					return nil
				})
			}
			if len(args) != 2 {
				return diagerr.InvalidArgument("write", "want <address> <hex-data> or --did")
			}
			addr, err := parseUint(args[0], 32)
			if err != nil {
				return diagerr.InvalidArgument("address", "%v", err)
			}
			data, err := parseHexBytes(args[1])
			if err != nil {
				return diagerr.InvalidArgument("write", "%v", err)
			}
			return a.withConnection(cmd, "write memory", func(ctx context.Context, conn *diag.Connection) error {
				if err := a.enter(ctx, conn, session, level); err != nil {
					return err
				}
				if err := conn.WriteMemory(ctx, uint32(addr), data); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes at 0x%08X\n", len(data), addr)
				return nil
			})
		},
	}
	sf.register(cmd, "extended", "0")
	cmd.Flags().StringVar(&did, "did", "", "Write this data identifier instead of memory")
	return cmd
}

func newDumpCmd(a *app) *cobra.Command {
	var (
		sf     sessionFlags
		out    string
		format string
		chunk  int
	)
	cmd := &cobra.Command{
		Use:   "dump <address> <length>",
		Short: "Dump a memory range to a raw or Intel HEX file",
		Example: `  udsdiag dump 0x10000 4096 --out ecu.bin
  udsdiag dump 0x10000 4096 --out ecu.hex --format hex`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return diagerr.InvalidArgument("dump", "required flag --out not set")
			}
			if format != "raw" && format != "hex" {
				return diagerr.InvalidArgument("--format", "want raw or hex, got %q", format)
			}
			session, level, err := sf.parse()
			if err != nil {
				return err
			}
			addr, n, err := parseRange(args[0], args[1])
			if err != nil {
				return err
			}
			return a.withConnection(cmd, "dump", func(ctx context.Context, conn *diag.Connection) error {
				if err := a.enter(ctx, conn, session, level); err != nil {
					return err
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()

				if format == "hex" {
					// Intel HEX 需要完整数据才能分段
					data, err := conn.ReadMemory(ctx, addr, n)
					if err != nil {
						return err
					}
					if err := flash.WriteIntelHex(f, flash.Image{Address: addr, Data: data}); err != nil {
						return err
					}
				} else {
					w, err := flash.Dump(ctx, conn.Client(), addr, n, chunk, f)
					if err != nil {
						return fmt.Errorf("after %d bytes: %w", w, err)
					}
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dumped %d bytes from 0x%08X to %s\n", n, addr, out)
				return nil
			})
		},
	}
	sf.register(cmd, "default", "0")
	cmd.Flags().StringVar(&out, "out", "", "Output file (required)")
	cmd.Flags().StringVar(&format, "format", "raw", "Output format: raw or hex")
	cmd.Flags().IntVar(&chunk, "chunk", 0, "Bytes per 0x23 request (0 = largest the link allows)")
	return cmd
}
