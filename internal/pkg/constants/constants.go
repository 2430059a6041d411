// Package constants provides shared constants used across notibridge components.
package constants

import "time"

// Shutdown and graceful termination timeouts
const (
	// GracefulShutdownTimeout is the time to wait for graceful component shutdown
	GracefulShutdownTimeout = 2 * time.Second

	// ControlReplyTimeout bounds how long `ctl` waits for the daemon to answer
	ControlReplyTimeout = 5 * time.Second
)

// Reconnection backoff.
//
// The first retry waits ReconnectBaseDelay and each further failure doubles
// the wait. Six doublings from a one second base reach 64s, which
// ReconnectMaxDelay clamps to one minute.
const (
	ReconnectBaseDelay = 1 * time.Second
	ReconnectMaxDelay  = 60 * time.Second

	// ConnectTimeout bounds a single transport-level connect attempt
	ConnectTimeout = 5 * time.Second
)

// Channel buffer sizes
//
// Single-item buffers are used for signals and errors that must never block
// the sender; small buffers for control-plane traffic.
const (
	// SignalChannelBuffer is the buffer size for OS signal channels
	SignalChannelBuffer = 1

	// ErrorChannelBuffer is the buffer size for error reporting channels
	ErrorChannelBuffer = 1

	// ReadyChannelBuffer is the buffer size for transport readiness signals.
	// One pending signal is enough: the reader drains everything queued.
	ReadyChannelBuffer = 1

	// ReceiverEventBuffer is the event backlog of the local receive endpoint
	ReceiverEventBuffer = 64
)

// gRPC configuration
const (
	// MaxGRPCMessageSize is the maximum size for gRPC messages (1MB)
	MaxGRPCMessageSize = 1 * 1024 * 1024

	// KeepaliveTime is how often the client pings an idle connection
	KeepaliveTime = 30 * time.Second

	// KeepaliveTimeout is how long the client waits for a ping ack
	KeepaliveTimeout = 20 * time.Second
)

// Host input limits
const (
	// MaxFrameSize is the largest JSON line accepted from the host
	MaxFrameSize = 64 * 1024

	// DebugSurfaceCapacity is the number of entries kept by the debug surface
	DebugSurfaceCapacity = 1000
)

// Defaults for the configuration layer
const (
	// DefaultDaemonAddress is where the notification daemon listens unless configured
	DefaultDaemonAddress = "localhost:7100"

	// DefaultSocketName is the host socket file name inside the runtime directory
	DefaultSocketName = "notibridge.sock"

	// ConfigReloadDebounce coalesces the burst of file events an editor save produces
	ConfigReloadDebounce = 100 * time.Millisecond
)
