// Package notifyclient carries notifications to the remote notification
// daemon over a single bidirectional gRPC stream.
//
// The daemon protocol is opaque to the rest of the bridge: callers only see
// Connect / Read / Send / Close and a readiness channel that fires whenever
// the daemon has said something (an acknowledgement, an error, or goodbye).
package notifyclient

import (
	"context"
	"errors"

	"github.com/endorses/notibridge/internal/pkg/types"
)

// ErrNotConnected is returned by Send when no stream is open
var ErrNotConnected = errors.New("notifyclient: not connected")

// Client is the capability the connection manager drives
type Client interface {
	// Connect opens the transport. It fails with a *TransportError.
	Connect(ctx context.Context) error
	IsConnected() bool
	// LastError returns the error that ended the previous connection, if any
	LastError() error
	// Readable signals when Read has something to report
	Readable() <-chan struct{}
	// Read consumes one pending daemon message. A non-nil error (io.EOF for
	// an orderly close) means the connection is gone.
	Read() error
	Send(n *types.Notification) error
	Close() error
}

// TransportError wraps connect and stream failures
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "notifyclient: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Event is the wire form of a notification
type Event struct {
	ID       string        `json:"id"`
	Category string        `json:"category"`
	Name     string        `json:"name"`
	Fields   []types.Field `json:"fields,omitempty"`
}

// Ack is what the daemon answers for each event
type Ack struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// Notification converts the event back to the bridge's notification type
func (e *Event) Notification() *types.Notification {
	return &types.Notification{Category: e.Category, Name: e.Name, Fields: e.Fields}
}
