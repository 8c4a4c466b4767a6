package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/crtplink/internal/cache"
	"github.com/danmuck/crtplink/internal/client"
	"github.com/danmuck/crtplink/internal/logging"
	"github.com/danmuck/crtplink/internal/protocol/toc"
	"github.com/danmuck/crtplink/internal/transport"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	device     string
	baud       int
	cfg        serviceConfig
}

func main() {
	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "crtpctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "crtpctl",
		Short:         "Talk to a Crazyflie over CRTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServiceConfig(a.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("device") {
				cfg.Serial.Device = a.device
			}
			if flags.Changed("baud") {
				cfg.Serial.Baud = a.baud
			}
			a.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "path to a TOML config file")
	pf.StringVarP(&a.device, "device", "d", "", "serial device of the radio bridge")
	pf.IntVar(&a.baud, "baud", 0, "serial baud rate")

	root.AddCommand(
		tocCmd(a),
		paramCmd(a),
		logCmd(a),
		flyCmd(a),
		serveCmd(a),
	)
	return root
}

// connect opens the serial link and runs the handshake.
func (a *app) connect(ctx context.Context) (*client.Client, error) {
	var c toc.Cache
	if a.cfg.CacheDir != "" {
		fc, err := cache.NewFile(a.cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		c = fc
	}
	t, err := transport.OpenSerial(a.cfg.Serial)
	if err != nil {
		return nil, err
	}
	cl, err := client.New(t, c, a.cfg.Client)
	if err != nil {
		return nil, err
	}
	if err := cl.Connect(ctx); err != nil {
		_ = cl.Disconnect()
		return nil, fmt.Errorf("connect %s: %w", a.cfg.Serial.Device, err)
	}
	logging.Infof("crtpctl connected device=%q", cl.ID())
	return cl, nil
}
