package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/config"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/host"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/schema"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/session"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/tlv"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/server"
)

// withEngine resolves options, connects and runs fn under the retry policy.
func withEngine(fn func(ctx context.Context, e *host.Engine, opts options) error) error {
	opts, err := resolveOptions()
	if err != nil {
		return err
	}
	ctx, cancel := callContext(opts)
	defer cancel()
	engine, closeFn, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer closeFn()
	return session.Retry(ctx, nil, opts.Session, nil, func(ctx context.Context) error {
		return fn(ctx, engine, opts)
	})
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the core answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(func(ctx context.Context, e *host.Engine, opts options) error {
				if err := e.Ping(ctx, opts.Target); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ack")
				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Read the version record of the core image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(func(ctx context.Context, e *host.Engine, opts options) error {
				ver, err := e.Version(ctx, opts.Target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "fpga_id=%#08x app_id=%#x version=%d.%d build_id=%#x\n",
					ver.FPGAID, ver.AppID, ver.Major(), ver.Minor(), ver.BuildID)
				return nil
			})
		},
	}
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(n), nil
}

func printVariables(cmd *cobra.Command, vars []tlv.Variable) {
	for _, va := range vars {
		if va.Index == protocol.InvalidValue {
			fmt.Fprintln(cmd.OutOrStdout(), "invalid")
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d=%#x\n", va.Index, va.Value)
	}
}

func newVarCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "var", Short: "Read and write exported variables"}

	get := &cobra.Command{
		Use:   "get INDEX...",
		Short: "Read variables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			indices := make([]uint32, 0, len(args))
			for _, a := range args {
				idx, err := parseUint32(a)
				if err != nil {
					return err
				}
				indices = append(indices, idx)
			}
			return withEngine(func(ctx context.Context, e *host.Engine, opts options) error {
				vars, err := e.GetVariables(ctx, opts.Target, indices)
				if err != nil {
					return err
				}
				printVariables(cmd, vars)
				return nil
			})
		},
	}

	set := &cobra.Command{
		Use:   "set INDEX=VALUE...",
		Short: "Write variables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sync, _ := cmd.Flags().GetBool("sync")
			vars := make([]tlv.Variable, 0, len(args))
			for _, a := range args {
				k, val, ok := strings.Cut(a, "=")
				if !ok {
					return fmt.Errorf("expected INDEX=VALUE, got %q", a)
				}
				idx, err := parseUint32(k)
				if err != nil {
					return err
				}
				n, err := parseUint32(val)
				if err != nil {
					return err
				}
				vars = append(vars, tlv.Variable{Index: idx, Value: n})
			}
			return withEngine(func(ctx context.Context, e *host.Engine, opts options) error {
				back, err := e.SetVariables(ctx, opts.Target, vars, sync)
				if err != nil {
					return err
				}
				printVariables(cmd, back)
				return nil
			})
		},
	}
	set.Flags().Bool("sync", true, "wait for the read-back reply")

	cmd.AddCommand(get, set)
	return cmd
}

func printStructures(cmd *cobra.Command, structs []tlv.Structure) {
	for _, s := range structs {
		if s.Index == protocol.InvalidValue {
			fmt.Fprintf(cmd.OutOrStdout(), "invalid size=%d\n", s.Size)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d size=%d data=%s\n", s.Index, s.Size, hex.EncodeToString(s.Data))
	}
}

func newStructCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "struct", Short: "Read and write exported structures"}

	get := &cobra.Command{
		Use:   "get INDEX",
		Short: "Read a structure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseUint32(args[0])
			if err != nil {
				return err
			}
			size, _ := cmd.Flags().GetUint32("size")
			return withEngine(func(ctx context.Context, e *host.Engine, opts options) error {
				got, err := e.GetStructures(ctx, opts.Target, []tlv.Structure{{Index: idx, Size: size}})
				if err != nil {
					return err
				}
				printStructures(cmd, got)
				return nil
			})
		},
	}
	get.Flags().Uint32("size", 4, "structure size in bytes")

	set := &cobra.Command{
		Use:   "set INDEX HEXDATA",
		Short: "Write a structure",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseUint32(args[0])
			if err != nil {
				return err
			}
			data, err := hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("data must be hex: %w", err)
			}
			sync, _ := cmd.Flags().GetBool("sync")
			return withEngine(func(ctx context.Context, e *host.Engine, opts options) error {
				back, err := e.SetStructures(ctx, opts.Target, []tlv.Structure{tlv.NewStructure(idx, data)}, sync)
				if err != nil {
					return err
				}
				printStructures(cmd, back)
				return nil
			})
		},
	}
	set.Flags().Bool("sync", true, "wait for the read-back reply")

	cmd.AddCommand(get, set)
	return cmd
}

func newRecvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recv SLOT",
		Short: "Print asynchronous frames arriving on an output slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid slot %q", args[0])
			}
			count, _ := cmd.Flags().GetInt("count")
			opts, err := resolveOptions()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			engine, closeFn, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer closeFn()
			var filters []host.Filter
			if cmd.Flags().Changed("msg-id") {
				id, _ := cmd.Flags().GetUint8("msg-id")
				filters = append(filters, host.MatchMessageID(opts.Codec, id))
			}
			for n := 0; count <= 0 || n < count; {
				msg, err := engine.Receive(ctx, slot, filters, opts.Session.SyncTimeout)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					if session.Retryable(err) {
						continue
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s app=%#x seq=%d payload=%x\n",
					schema.Name(msg.Header.MsgID), msg.Header.AppID, msg.Header.Seq, msg.Payload)
				n++
			}
			return nil
		},
	}
	cmd.Flags().Uint8("msg-id", 0, "only print this message id")
	cmd.Flags().Int("count", 0, "stop after this many frames (0 runs until interrupted)")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP gateway over a queue bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := resolveOptions()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			engine, closeFn, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer closeFn()
			return newGateway("rtmqctl", engine, opts).Serve(ctx)
		},
	}
}

func newGateway(id string, engine *host.Engine, opts options) *server.Gateway {
	return server.New(id, opts.GatewayAddr, engine, opts.Target, opts.CorsOrigins)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	initCmd := &cobra.Command{
		Use:   "init KIND PATH",
		Short: "Write a starter device or image description",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			if err := config.WriteTemplate(args[1], args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", args[0], args[1])
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
