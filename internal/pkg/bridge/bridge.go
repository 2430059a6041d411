// Package bridge wires the host adapter, the classifier and the daemon
// connection into one running instance.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/endorses/notibridge/internal/pkg/classifier"
	"github.com/endorses/notibridge/internal/pkg/config"
	"github.com/endorses/notibridge/internal/pkg/connection"
	"github.com/endorses/notibridge/internal/pkg/constants"
	"github.com/endorses/notibridge/internal/pkg/dispatch"
	"github.com/endorses/notibridge/internal/pkg/filtering"
	"github.com/endorses/notibridge/internal/pkg/host"
	"github.com/endorses/notibridge/internal/pkg/logger"
	"github.com/endorses/notibridge/internal/pkg/monitoring"
	"github.com/endorses/notibridge/internal/pkg/notifyclient"
	"github.com/endorses/notibridge/internal/pkg/scheduler"
	"github.com/endorses/notibridge/internal/pkg/types"
)

// ErrUnknownCommand is returned by Control for commands it does not know
var ErrUnknownCommand = errors.New("unknown command")

// Options configures a Bridge
type Options struct {
	Settings config.Settings
	Store    *config.Store

	// Client overrides the gRPC client built from Settings
	Client notifyclient.Client

	// DebugOutput receives the debug surface while it is enabled
	DebugOutput io.Writer
}

// Bridge is one running instance. All components hang off it; there is no
// package level state besides the logger.
type Bridge struct {
	settings config.Settings
	store    *config.Store

	loop       *scheduler.Loop
	client     notifyclient.Client
	manager    *connection.Manager
	classifier *classifier.Classifier
	serializer *dispatch.Serializer
	dispatcher *dispatch.Dispatcher
	host       *host.Server
	metrics    *monitoring.PrometheusExporter

	closeOnce sync.Once
	closeErr  error
}

// New builds a stopped bridge. Call Start to begin connecting.
func New(opts Options) (*Bridge, error) {
	if opts.Store == nil {
		return nil, errors.New("bridge: config store is required")
	}
	st := opts.Settings

	client := opts.Client
	if client == nil {
		client = notifyclient.NewGRPC(notifyclient.Config{
			Address:    st.DaemonAddress,
			TLSEnabled: st.TLSEnabled,
			TLS:        st.TLS,
		})
	}

	b := &Bridge{
		settings:   st,
		store:      opts.Store,
		loop:       scheduler.NewLoop(),
		client:     client,
		serializer: dispatch.NewSerializer(),
		metrics:    monitoring.NewPrometheusExporter(st.MetricsAddr),
	}

	b.manager = connection.New(connection.Config{
		BaseDelay:      st.BackoffBase,
		MaxDelay:       st.BackoffMax,
		ConnectTimeout: st.ConnectTimeout,
	}, b.loop, client)
	b.manager.SetObserver(b.metrics)

	b.classifier = classifier.New(st.Protocol, b.store, b.manager)
	b.dispatcher = dispatch.NewDispatcher(b.serializer, b.classifier, b.manager, b.metrics)
	b.host = host.NewServer(st.SocketPath, b)

	b.store.SetReloadHook(b.metrics.ConfigReloaded)
	b.store.OnChange(func(set *filtering.FilterSet) {
		logger.Debug("Filter set replaced", "ignore_current_buffer", set.IgnoreCurrentBuffer())
	})

	if opts.DebugOutput != nil {
		logger.Surface().SetOutput(opts.DebugOutput)
	}

	return b, nil
}

// Start runs the scheduler, the metrics server and the config watcher, and
// makes the first connect attempt. A failed attempt is not an error; the
// manager keeps retrying with backoff.
func (b *Bridge) Start(ctx context.Context) error {
	b.loop.Start()

	if err := b.metrics.Enable(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	if err := b.store.Watch(ctx); err != nil {
		logger.Warn("Config watching disabled", "error", err)
	}

	logger.Info("Bridge starting",
		"daemon", b.settings.DaemonAddress,
		"protocol", b.classifier.Protocol(),
		"tls", b.settings.TLSEnabled)

	if err := b.manager.Connect(); err != nil && !errors.Is(err, connection.ErrConnectPending) {
		return err
	}
	return nil
}

// Listen creates the host socket
func (b *Bridge) Listen() error {
	return b.host.Listen()
}

// Serve accepts host connections until ctx is done or Close is called
func (b *Bridge) Serve(ctx context.Context) error {
	return b.host.Serve(ctx)
}

// ServeStream handles a single host stream, for example stdin, under its own
// dispatch token
func (b *Bridge) ServeStream(ctx context.Context, r io.Reader, w io.Writer) error {
	return b.host.ServeStream(ctx, dispatch.NewToken(), r, w)
}

// SocketPath returns the host socket path
func (b *Bridge) SocketPath() string {
	return b.host.Path()
}

// Manager returns the connection manager
func (b *Bridge) Manager() *connection.Manager {
	return b.manager
}

// Metrics returns the metrics exporter
func (b *Bridge) Metrics() *monitoring.PrometheusExporter {
	return b.metrics
}

// HandleActivity implements host.Handler
func (b *Bridge) HandleActivity(ctx context.Context, token dispatch.Token, rec *types.ActivityRecord) error {
	_, err := b.dispatcher.Dispatch(ctx, token, rec)
	return err
}

// HandleCommand implements host.Handler
func (b *Bridge) HandleCommand(_ context.Context, command string, args []string) (string, error) {
	return b.Control(command, args...)
}

// Control runs a control command and returns a one-line (or YAML) detail
func (b *Bridge) Control(command string, args ...string) (string, error) {
	switch command {
	case host.CommandConnect:
		if err := b.manager.Reconnect(); err != nil && !errors.Is(err, connection.ErrConnectPending) {
			return "", err
		}
		return b.manager.State().String(), nil

	case host.CommandDisconnect:
		b.manager.Disconnect()
		return b.manager.State().String(), nil

	case host.CommandDebug:
		return b.toggleDebug()

	case host.CommandStatus:
		return b.status(), nil

	case host.CommandFilters:
		out, err := b.store.Snapshot()
		if err != nil {
			return "", err
		}
		return string(out), nil

	case host.CommandGet:
		if len(args) != 1 {
			return "", errors.New("usage: get <key>")
		}
		return b.store.Get(args[0])

	case host.CommandSet:
		if len(args) != 2 {
			return "", errors.New("usage: set <key> <value>")
		}
		if err := b.store.Set(args[0], args[1]); err != nil {
			return "", err
		}
		return args[0] + " = " + args[1], nil

	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func (b *Bridge) toggleDebug() (string, error) {
	surface := logger.Surface()
	if !surface.Toggle() {
		return "debug off", nil
	}

	snap, err := b.store.Snapshot()
	if err != nil {
		return "", err
	}
	surface.Printf("connection: %s", b.status())
	for _, line := range strings.Split(strings.TrimRight(string(snap), "\n"), "\n") {
		surface.Printf("%s", line)
	}
	return "debug on", nil
}

func (b *Bridge) status() string {
	s := b.manager.Stats()
	return fmt.Sprintf("%s sent=%d dropped=%d attempts=%d disconnects=%d",
		s.State, s.Sent, s.Dropped, s.Attempts, s.Disconnects)
}

// Reload re-reads the configuration file
func (b *Bridge) Reload() error {
	return b.store.Reload()
}

// Close stops the bridge: host input first, then the connection, the
// serializer, the scheduler, the metrics server and the config watcher.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		var errs []error

		if err := b.host.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("host: %w", err))
		}
		b.manager.Disconnect()
		b.serializer.Close()
		b.loop.Close()

		ctx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
		defer cancel()
		if err := b.metrics.Disable(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
		if err := b.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("config watcher: %w", err))
		}

		b.closeErr = errors.Join(errs...)
		logger.Info("Bridge stopped")
	})
	return b.closeErr
}
