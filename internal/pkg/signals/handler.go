package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/endorses/notibridge/internal/pkg/constants"
	"github.com/endorses/notibridge/internal/pkg/logger"
)

// SetupHandler cancels the context on SIGINT or SIGTERM and calls onReload
// for every SIGHUP. A nil onReload treats SIGHUP like SIGTERM.
// Returns a cleanup function that should be called when the handler is no longer needed
func SetupHandler(ctx context.Context, cancel context.CancelFunc, onReload func()) (cleanup func()) {
	sigCh := make(chan os.Signal, constants.SignalChannelBuffer)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGHUP && onReload != nil {
					logger.Info("Received signal, reloading configuration", "signal", sig.String())
					onReload()
					continue
				}
				logger.Info("Received signal, initiating shutdown", "signal", sig.String())
				cancel()
				return
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(stop)
		<-done
	}
}

// WaitForSignal blocks until SIGINT or SIGTERM is received
func WaitForSignal() os.Signal {
	sigCh := make(chan os.Signal, constants.SignalChannelBuffer)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	logger.Info("Received signal", "signal", sig.String())
	return sig
}
