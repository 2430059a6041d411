package notifyclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/endorses/notibridge/internal/pkg/constants"
	"github.com/endorses/notibridge/internal/pkg/logger"
	"github.com/endorses/notibridge/internal/pkg/tlsutil"
	"github.com/endorses/notibridge/internal/pkg/types"
	"github.com/endorses/notibridge/internal/pkg/version"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// EventsMethod is the full gRPC method name of the event stream
const EventsMethod = "/notibridge.Notifier/Events"

var eventsStreamDesc = &grpc.StreamDesc{
	StreamName:    "Events",
	ClientStreams: true,
	ServerStreams: true,
}

// Config contains notification client configuration
type Config struct {
	// Address is a gRPC target: host:port, dns:///host:port or unix:///path
	Address string

	TLSEnabled bool
	TLS        tlsutil.ClientConfig

	// DialOptions are appended after the defaults (tests inject a bufconn dialer here)
	DialOptions []grpc.DialOption
}

// GRPC is the gRPC implementation of Client
type GRPC struct {
	config Config

	mu         sync.Mutex
	conn       *grpc.ClientConn
	stream     grpc.ClientStream
	cancel     context.CancelFunc
	connected  bool
	lastErr    error
	generation uint64
	pending    []error

	sendMu sync.Mutex
	ready  chan struct{}
}

// NewGRPC creates a disconnected client
func NewGRPC(config Config) *GRPC {
	return &GRPC{
		config: config,
		ready:  make(chan struct{}, constants.ReadyChannelBuffer),
	}
}

func (c *GRPC) dialOptions() ([]grpc.DialOption, error) {
	opts := []grpc.DialOption{
		grpc.WithUserAgent(version.UserAgent()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(jsonCodec{}),
			grpc.MaxCallRecvMsgSize(constants.MaxGRPCMessageSize),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                constants.KeepaliveTime,
			Timeout:             constants.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	}

	if c.config.TLSEnabled {
		creds, err := tlsutil.BuildClientCredentials(c.config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS credentials: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	return append(opts, c.config.DialOptions...), nil
}

// Connect dials the daemon and opens the event stream. ctx bounds only the
// connection attempt; the stream lives until Close or a transport failure.
func (c *GRPC) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	c.teardownLocked()

	opts, err := c.dialOptions()
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	conn, err := grpc.NewClient(c.config.Address, opts...)
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	if err := waitReady(ctx, conn); err != nil {
		_ = conn.Close()
		return &TransportError{Op: "connect", Err: err}
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := conn.NewStream(streamCtx, eventsStreamDesc, EventsMethod)
	if err != nil {
		cancel()
		_ = conn.Close()
		return &TransportError{Op: "open stream", Err: err}
	}

	c.generation++
	c.conn = conn
	c.stream = stream
	c.cancel = cancel
	c.connected = true
	c.pending = nil
	c.drainReadyLocked()

	go c.receive(stream, c.generation)

	logger.Info("Connected to notification daemon", "addr", c.config.Address, "tls", c.config.TLSEnabled)
	return nil
}

// waitReady drives the channel out of idle and waits until it is usable
func waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return fmt.Errorf("channel %s", state)
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

// receive turns every daemon message into a pending Read result
func (c *GRPC) receive(stream grpc.ClientStream, gen uint64) {
	for {
		var ack Ack
		err := stream.RecvMsg(&ack)
		if err == nil && ack.Error != "" {
			logger.Debug("Daemon rejected event", "id", ack.ID, "error", ack.Error)
		}
		if !c.push(gen, err) || err != nil {
			return
		}
	}
}

func (c *GRPC) push(gen uint64, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || !c.connected {
		return false
	}
	c.pending = append(c.pending, err)
	c.signalLocked()
	return true
}

func (c *GRPC) signalLocked() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *GRPC) drainReadyLocked() {
	select {
	case <-c.ready:
	default:
	}
}

// IsConnected implements Client
func (c *GRPC) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LastError implements Client
func (c *GRPC) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Readable implements Client
func (c *GRPC) Readable() <-chan struct{} {
	return c.ready
}

// Read implements Client
func (c *GRPC) Read() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		if !c.connected {
			return &TransportError{Op: "read", Err: ErrNotConnected}
		}
		return nil
	}

	err := c.pending[0]
	c.pending = c.pending[1:]
	if err != nil {
		c.connected = false
		c.lastErr = err
		c.pending = nil
		return &TransportError{Op: "read", Err: err}
	}
	if len(c.pending) > 0 {
		c.signalLocked()
	}
	return nil
}

// Send implements Client
func (c *GRPC) Send(n *types.Notification) error {
	c.mu.Lock()
	stream, connected := c.stream, c.connected
	c.mu.Unlock()
	if !connected || stream == nil {
		return ErrNotConnected
	}

	ev := &Event{
		ID:       uuid.NewString(),
		Category: n.Category,
		Name:     n.Name,
		Fields:   n.Fields,
	}

	c.sendMu.Lock()
	err := stream.SendMsg(ev)
	c.sendMu.Unlock()
	if err != nil {
		// the real cause surfaces on the receive side and drives the reconnect
		return &TransportError{Op: "send", Err: err}
	}

	logger.Debug("Event sent", "id", ev.ID, "category", ev.Category, "name", ev.Name)
	return nil
}

// Close implements Client. It is safe to call on a closed client.
func (c *GRPC) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teardownLocked()
}

func (c *GRPC) teardownLocked() error {
	c.connected = false
	c.pending = nil
	c.generation++

	// cancelling the stream context also unblocks a SendMsg stuck on flow control
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.stream = nil

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}
