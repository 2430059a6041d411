package connection

import (
	"fmt"
	"time"
)

// StateKind represents the connection state
type StateKind int

const (
	StateDisconnected StateKind = iota // no transport, no retry pending
	StateConnecting                    // last attempt failed, retry timer pending
	StateConnected                     // transport open, readiness registered
)

func (k StateKind) String() string {
	switch k {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// State is a snapshot of the manager's state machine. Attempt and
// NextDelay are only meaningful while connecting.
type State struct {
	Kind      StateKind
	Attempt   uint
	NextDelay time.Duration
}

func (s State) String() string {
	if s.Kind == StateConnecting {
		return fmt.Sprintf("%s(attempt=%d, next=%s)", s.Kind, s.Attempt, s.NextDelay)
	}
	return s.Kind.String()
}

// Stats contains connection manager statistics
type Stats struct {
	State        State
	Attempts     uint64 // connect attempts
	Successes    uint64 // attempts that connected
	Failures     uint64 // attempts that failed
	Disconnects  uint64 // unsolicited disconnects detected by a read
	Sent         uint64 // notifications handed to the transport
	Dropped      uint64 // notifications dropped for lack of a connection
	LastError    error
	LastChangeAt time.Time
}

// Observer is told about state machine activity. Calls are made while the
// manager holds its lock, so implementations must not call back into it.
type Observer interface {
	StateChanged(from, to State)
	ConnectAttempted(err error)
	NotificationSent(category string, err error)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State)      {}
func (nopObserver) ConnectAttempted(error)         {}
func (nopObserver) NotificationSent(string, error) {}
