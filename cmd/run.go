package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/endorses/notibridge/internal/pkg/bridge"
	"github.com/endorses/notibridge/internal/pkg/config"
	"github.com/endorses/notibridge/internal/pkg/logger"
	"github.com/endorses/notibridge/internal/pkg/signals"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var readStdin bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge",
	Long: `Run the bridge in the foreground.

The chat client connects to the host socket and writes one JSON frame per
line. With --stdin the frames are read from standard input instead, in
addition to the socket, and the bridge exits when stdin is closed.

SIGHUP re-reads the configuration file; SIGINT and SIGTERM stop the bridge.

Examples:
  # Forward to a local daemon
  notibridge run

  # Remote daemon with TLS
  notibridge run -d notify.example.com:7100 --tls --tls-ca ca.crt

  # Read frames from a pipe
  chat-client --emit-json | notibridge run --stdin`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func init() {
	flags := runCmd.Flags()
	flags.StringP("daemon", "d", "", "notification daemon address (host:port)")
	flags.StringP("socket", "s", "", "host socket path")
	flags.String("metrics-addr", "", "serve /metrics and /health on this address")
	flags.String("protocol", "", "chat protocol whose tags are classified")
	flags.Bool("tls", false, "use TLS to the daemon")
	flags.String("tls-ca", "", "path to CA certificate file")
	flags.String("tls-cert", "", "path to client certificate file (mTLS)")
	flags.String("tls-key", "", "path to client key file (mTLS)")
	flags.Bool("tls-skip-verify", false, "skip TLS certificate verification (INSECURE - testing only)")
	flags.String("tls-server-name", "", "override the TLS server name")
	flags.BoolVar(&readStdin, "stdin", false, "also read host frames from stdin")

	bindKey(flags, "daemon", config.KeyDaemonAddress)
	bindKey(flags, "socket", config.KeySocketPath)
	bindKey(flags, "metrics-addr", config.KeyMetricsAddr)
	bindKey(flags, "protocol", config.KeyProtocol)
	bindKey(flags, "tls", config.KeyTLSEnabled)
	bindKey(flags, "tls-ca", config.KeyTLSCAFile)
	bindKey(flags, "tls-cert", config.KeyTLSCertFile)
	bindKey(flags, "tls-key", config.KeyTLSKeyFile)
	bindKey(flags, "tls-skip-verify", config.KeyTLSSkipVerify)
	bindKey(flags, "tls-server-name", config.KeyTLSServerName)
}

func runBridge(cmd *cobra.Command, _ []string) error {
	store, err := config.NewStore(cfg)
	if err != nil {
		return fmt.Errorf("invalid filter configuration: %w", err)
	}

	b, err := bridge.New(bridge.Options{
		Settings:    config.LoadSettings(cfg),
		Store:       store,
		DebugOutput: os.Stderr,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cleanup := signals.SetupHandler(ctx, cancel, func() {
		if err := b.Reload(); err != nil {
			logger.Warn("Configuration reload rejected, keeping previous filters", "error", err)
			return
		}
		logger.Info("Configuration reloaded")
	})
	defer cleanup()

	if err := b.Listen(); err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Serve(gctx)
	})
	if readStdin {
		g.Go(func() error {
			defer cancel()
			err := b.ServeStream(gctx, os.Stdin, os.Stdout)
			logger.Info("Standard input closed, stopping")
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if readStdin {
			// unblocks the pending stdin read
			_ = os.Stdin.Close()
		}
		return b.Close()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
