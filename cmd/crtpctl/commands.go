package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/crtplink/internal/client"
	"github.com/danmuck/crtplink/internal/commander"
	"github.com/danmuck/crtplink/internal/logging"
	"github.com/danmuck/crtplink/internal/logstore"
	"github.com/danmuck/crtplink/internal/observability"
	"github.com/danmuck/crtplink/internal/registry"
	"github.com/spf13/cobra"
)

func tocCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "toc [params|logvars]",
		Short:     "List the device's parameter and log directories",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"params", "logvars"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cl.Disconnect()

			which := ""
			if len(args) == 1 {
				which = args[0]
			}
			out := cmd.OutOrStdout()
			if which == "" || which == "params" {
				printRegistry(cmd, cl.Params().Registry())
			}
			if which == "" || which == "logvars" {
				printRegistry(cmd, cl.Logs().Registry())
			}
			if info := cl.Logs().TOCInfo(); info.HasLimits {
				fmt.Fprintf(out, "log limits: max_blocks=%d max_ops=%d\n", info.MaxPackets, info.MaxOps)
			}
			return nil
		},
	}
}

func printRegistry(cmd *cobra.Command, reg *registry.Registry) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%d)\n", reg.Name(), reg.Len())
	for _, v := range reg.Variables() {
		access := "rw"
		if v.ReadOnly {
			access = "ro"
		}
		fmt.Fprintf(out, "  %4d  %-32s %-7s %s\n", v.ID, v.Key(), v.Kind, access)
	}
}

func paramCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "param",
		Short: "Read or write parameters",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <group/name>",
			Short: "Read a parameter from the device",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cl, err := a.connect(cmd.Context())
				if err != nil {
					return err
				}
				defer cl.Disconnect()
				v, err := cl.ReadParam(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <group/name> <value>",
			Short: "Write a parameter and wait for the device to confirm it",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cl, err := a.connect(cmd.Context())
				if err != nil {
					return err
				}
				defer cl.Disconnect()
				v, err := cl.SetParam(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], v)
				return nil
			},
		},
	)
	return cmd
}

func logCmd(a *app) *cobra.Command {
	var (
		period   time.Duration
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "log <group/name>...",
		Short: "Stream log variables at a fixed period",
		Args:  cobra.RangeArgs(1, logstore.MaxMembers),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cl.Disconnect()

			out := cmd.OutOrStdout()
			failed := make(chan error, 1)
			_, err = cl.Logs().CreateBlock(args, period, logstore.BlockOptions{
				OnUpdate: func(b *logstore.Block, s logstore.Sample) {
					fields := make([]string, 0, len(args))
					for _, name := range args {
						fields = append(fields, fmt.Sprintf("%s=%s", name, s.Values[name]))
					}
					fmt.Fprintf(out, "%10d %s\n", s.Timestamp, strings.Join(fields, " "))
				},
				OnError: func(b *logstore.Block, err error) {
					select {
					case failed <- err:
					default:
					}
				},
			})
			if err != nil {
				return err
			}

			var timeout <-chan time.Time
			if duration > 0 {
				timer := time.NewTimer(duration)
				defer timer.Stop()
				timeout = timer.C
			}
			select {
			case err := <-failed:
				return err
			case <-timeout:
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&period, "period", 100*time.Millisecond, "sampling period (10ms units)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long; 0 runs until interrupted")
	return cmd
}

func flyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fly",
		Short: "Send high-level motion commands",
	}
	cmd.AddCommand(
		moveCmd(a, "takeoff", commander.DefaultTakeOffHeight, commander.DefaultTakeOffDuration, func(cl *client.Client, h, d float32) error {
			return cl.TakeOffTo(h, d)
		}),
		moveCmd(a, "land", commander.DefaultLandHeight, commander.DefaultLandDuration, func(cl *client.Client, h, d float32) error {
			return cl.LandTo(h, d)
		}),
		&cobra.Command{
			Use:  "stop",
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withClient(cmd, func(cl *client.Client) error {
					return cl.Stop()
				})
			},
		},
		goToCmd(a),
	)
	return cmd
}

func moveCmd(a *app, use string, defHeight, defDuration float32, fn func(cl *client.Client, height, duration float32) error) *cobra.Command {
	var height, duration float32
	cmd := &cobra.Command{
		Use:  use,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(cl *client.Client) error {
				return fn(cl, height, duration)
			})
		},
	}
	cmd.Flags().Float32Var(&height, "height", defHeight, "target height in meters")
	cmd.Flags().Float32Var(&duration, "duration", defDuration, "seconds to reach the target height")
	return cmd
}

func goToCmd(a *app) *cobra.Command {
	var (
		duration float32
		relative bool
	)
	cmd := &cobra.Command{
		Use:  "goto <x> <y> <z> <yaw>",
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parseFloats(args)
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(cl *client.Client) error {
				return cl.GoTo(relative, pos[0], pos[1], pos[2], pos[3], duration)
			})
		},
	}
	cmd.Flags().BoolVar(&relative, "relative", false, "interpret the target relative to the current position")
	cmd.Flags().Float32Var(&duration, "duration", 2, "seconds to reach the target")
	return cmd
}

func (a *app) withClient(cmd *cobra.Command, fn func(cl *client.Client) error) error {
	cl, err := a.connect(cmd.Context())
	if err != nil {
		return err
	}
	defer cl.Disconnect()
	return fn(cl)
}

func parseFloats(args []string) ([]float32, error) {
	out := make([]float32, len(args))
	for i, raw := range args {
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", raw, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Hold the link open and serve status and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			observability.RegisterMetrics()
			cl, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cl.Disconnect()

			srv := &http.Server{
				Addr:              a.cfg.MetricsAddr,
				Handler:           observability.NewRouter(cl, logging.Logger()),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				logging.Infof("crtpctl.serve listening addr=%q", srv.Addr)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
