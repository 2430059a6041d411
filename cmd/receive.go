package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/endorses/notibridge/internal/pkg/constants"
	"github.com/endorses/notibridge/internal/pkg/logger"
	"github.com/endorses/notibridge/internal/pkg/notifyclient"
	"github.com/endorses/notibridge/internal/pkg/signals"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var receiveListen string

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Run a local notification endpoint that prints every event",
	Long: `Run a minimal notification daemon endpoint for local testing.

Every event a bridge delivers is acknowledged and printed to stdout, one
per line.

Examples:
  notibridge receive --listen localhost:7100`,
	Args: cobra.NoArgs,
	RunE: runReceive,
}

func init() {
	receiveCmd.Flags().StringVarP(&receiveListen, "listen", "l", constants.DefaultDaemonAddress, "address to accept bridge connections on")
}

func runReceive(cmd *cobra.Command, _ []string) error {
	lis, err := net.Listen("tcp", receiveListen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", receiveListen, err)
	}

	recv := notifyclient.NewReceiver(constants.ReceiverEventBuffer)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	cleanup := signals.SetupHandler(ctx, cancel, nil)
	defer cleanup()

	logger.Info("Receiver listening", "addr", lis.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return recv.Serve(lis)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				recv.Stop()
				return nil
			case ev := <-recv.Events():
				fmt.Fprintln(cmd.OutOrStdout(), ev.ID, ev.Notification().String())
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
