package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/endorses/notibridge/internal/pkg/constants"
	"github.com/endorses/notibridge/internal/pkg/logger"
	"github.com/endorses/notibridge/internal/pkg/notifyclient"
	"github.com/endorses/notibridge/internal/pkg/scheduler"
	"github.com/endorses/notibridge/internal/pkg/types"
)

var (
	// ErrDropped is returned by Send when the notification could not be handed
	// to the transport. Dropped notifications are never retried.
	ErrDropped = errors.New("connection: notification dropped")

	// ErrConnectPending is returned by Connect while a retry timer is
	// outstanding or a connect attempt is in flight
	ErrConnectPending = errors.New("connection: retry already scheduled")
)

// Config contains connection manager configuration
type Config struct {
	BaseDelay      time.Duration // first retry delay (default: 1s)
	MaxDelay       time.Duration // retry delay ceiling (default: 60s)
	ConnectTimeout time.Duration // bound on one connect attempt (default: 5s)
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = constants.ReconnectBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = constants.ReconnectMaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = constants.ConnectTimeout
	}
	return c
}

// Manager owns the connection to the notification daemon and runs the
// connect / back off / retry / reconnect state machine. Timer and readiness
// callbacks arrive through the scheduler; every other method may be called
// from any goroutine. The transport dial runs without mu held, so Send,
// IsConnected and State answer immediately while an attempt is in flight.
type Manager struct {
	config   Config
	sched    scheduler.Scheduler
	client   notifyclient.Client
	observer Observer

	mu        sync.Mutex
	state     State
	desired   bool
	timer     scheduler.Handle
	readiness scheduler.Handle
	// generation invalidates callbacks from cancelled registrations that
	// were already queued when they were cancelled
	generation uint64
	// dialing is set while client.Connect runs; cancelDial aborts it
	dialing    bool
	cancelDial context.CancelFunc
	stats      Stats
}

// New creates a disconnected manager
func New(config Config, sched scheduler.Scheduler, client notifyclient.Client) *Manager {
	return &Manager{
		config:   config.withDefaults(),
		sched:    sched,
		client:   client,
		observer: nopObserver{},
	}
}

// SetObserver installs o; nil restores the no-op observer
func (m *Manager) SetObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o == nil {
		o = nopObserver{}
	}
	m.observer = o
}

// Connect makes a connect attempt and returns once it has finished. It is a
// no-op when already connected and returns ErrConnectPending while a retry is
// scheduled or another attempt is in flight.
func (m *Manager) Connect() error {
	m.mu.Lock()
	m.desired = true
	switch {
	case m.state.Kind == StateConnected:
		m.mu.Unlock()
		return nil
	case m.dialing, m.state.Kind == StateConnecting:
		m.mu.Unlock()
		return ErrConnectPending
	}
	ctx, gen := m.beginAttemptLocked()
	m.mu.Unlock()

	m.attempt(ctx, gen)
	return nil
}

// Disconnect cancels any pending retry, closes the transport and stops
// reconnecting. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
}

func (m *Manager) disconnectLocked() {
	m.desired = false
	m.cancelTimerLocked()
	m.cancelReadinessLocked()
	// an attempt still in flight is stale from here on
	m.generation++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if err := m.client.Close(); err != nil {
		logger.Debug("Error closing notification transport", "error", err)
	}
	if m.state.Kind != StateDisconnected {
		logger.Info("Disconnected from notification daemon")
	}
	m.setStateLocked(State{Kind: StateDisconnected})
}

// Reconnect drops the current connection and starts a fresh connect series.
// An attempt still in flight is abandoned and its result replaced by a new
// attempt; Reconnect then returns ErrConnectPending.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	m.disconnectLocked()
	m.desired = true
	if m.dialing {
		m.mu.Unlock()
		return ErrConnectPending
	}
	ctx, gen := m.beginAttemptLocked()
	m.mu.Unlock()

	m.attempt(ctx, gen)
	return nil
}

// IsConnected reports whether the transport is up
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Kind == StateConnected
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a statistics snapshot
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.State = m.state
	return s
}

// Send hands n to the transport. When not connected, or when the transport
// refuses it, the notification is dropped and an error wrapping ErrDropped is
// returned. Send never blocks waiting for a connection.
func (m *Manager) Send(n *types.Notification) error {
	m.mu.Lock()
	if m.state.Kind != StateConnected {
		m.stats.Dropped++
		m.observer.NotificationSent(n.Category, ErrDropped)
		m.mu.Unlock()
		logger.Debug("Not connected, dropping notification", "category", n.Category, "name", n.Name)
		return ErrDropped
	}
	m.mu.Unlock()

	err := m.client.Send(n)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.stats.Dropped++
		m.observer.NotificationSent(n.Category, err)
		logger.Warn("Failed to send notification", "category", n.Category, "name", n.Name, "error", err)
		return fmt.Errorf("%w: %w", ErrDropped, err)
	}
	m.stats.Sent++
	m.observer.NotificationSent(n.Category, nil)
	return nil
}

// beginAttemptLocked marks a connect attempt in flight and returns the
// generation its outcome must still match
func (m *Manager) beginAttemptLocked() (context.Context, uint64) {
	m.stats.Attempts++
	m.dialing = true
	m.generation++
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	m.cancelDial = cancel
	return ctx, m.generation
}

// attempt dials the daemon without mu held and applies the outcome. An
// attempt invalidated meanwhile is discarded; if a connect was requested
// after the invalidation a fresh attempt follows.
func (m *Manager) attempt(ctx context.Context, gen uint64) {
	for {
		err := m.client.Connect(ctx)

		m.mu.Lock()
		nextCtx, next, again := m.finishAttemptLocked(gen, err)
		m.mu.Unlock()
		if !again {
			return
		}
		ctx, gen = nextCtx, next
	}
}

func (m *Manager) finishAttemptLocked(gen uint64, err error) (context.Context, uint64, bool) {
	m.dialing = false
	if m.cancelDial != nil && gen == m.generation {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.observer.ConnectAttempted(err)

	if gen != m.generation {
		if err == nil {
			if cerr := m.client.Close(); cerr != nil {
				logger.Debug("Error closing notification transport", "error", cerr)
			}
		}
		logger.Debug("Discarding stale connect attempt", "error", err)
		if m.desired && m.state.Kind == StateDisconnected {
			ctx, next := m.beginAttemptLocked()
			return ctx, next, true
		}
		return nil, 0, false
	}

	if err == nil {
		m.stats.Successes++
		m.setStateLocked(State{Kind: StateConnected})
		m.registerReadinessLocked()
		logger.Info("Connected to notification daemon")
		return nil, 0, false
	}

	m.stats.Failures++
	m.stats.LastError = err

	next := State{Kind: StateConnecting, Attempt: 1, NextDelay: m.config.BaseDelay}
	if m.state.Kind == StateConnecting {
		next.Attempt = m.state.Attempt + 1
		next.NextDelay = min(m.state.NextDelay*2, m.config.MaxDelay)
	}
	m.setStateLocked(next)

	logger.Warn("Failed to connect to notification daemon",
		"error", err,
		"attempt", next.Attempt,
		"retry_in", next.NextDelay)

	m.scheduleRetryLocked(next.NextDelay)
	return nil, 0, false
}

func (m *Manager) scheduleRetryLocked(d time.Duration) {
	m.cancelTimerLocked()
	m.generation++
	gen := m.generation
	m.timer = m.sched.RegisterTimer(d, func() { m.onRetry(gen) })
}

func (m *Manager) onRetry(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.timer == 0 {
		m.mu.Unlock()
		return
	}
	m.timer = 0
	if !m.desired || m.dialing || m.state.Kind != StateConnecting {
		m.mu.Unlock()
		return
	}

	logger.Debug("Retrying connection", "attempt", m.state.Attempt+1)
	ctx, next := m.beginAttemptLocked()
	m.mu.Unlock()

	m.attempt(ctx, next)
}

func (m *Manager) registerReadinessLocked() {
	m.cancelReadinessLocked()
	m.generation++
	gen := m.generation
	m.readiness = m.sched.RegisterReadiness(m.client, func() { m.onReadable(gen) })
}

// onReadable reads from the transport; a read error or remote close means
// the connection is gone
func (m *Manager) onReadable(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.readiness == 0 || m.state.Kind != StateConnected {
		m.mu.Unlock()
		return
	}

	err := m.client.Read()
	if err == nil {
		m.mu.Unlock()
		return
	}

	m.stats.Disconnects++
	m.stats.LastError = err
	logger.Warn("Connection to notification daemon lost", "error", err, "reconnect", m.desired)

	m.cancelReadinessLocked()
	if cerr := m.client.Close(); cerr != nil {
		logger.Debug("Error closing notification transport", "error", cerr)
	}
	m.setStateLocked(State{Kind: StateDisconnected})

	if !m.desired {
		m.mu.Unlock()
		return
	}
	// the previous series ended in a success, so this one starts from the base delay
	ctx, next := m.beginAttemptLocked()
	m.mu.Unlock()

	m.attempt(ctx, next)
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != 0 {
		m.sched.Cancel(m.timer)
		m.timer = 0
	}
}

func (m *Manager) cancelReadinessLocked() {
	if m.readiness != 0 {
		m.sched.Cancel(m.readiness)
		m.readiness = 0
	}
}

func (m *Manager) setStateLocked(next State) {
	prev := m.state
	m.state = next
	if prev != next {
		m.stats.LastChangeAt = time.Now()
		m.observer.StateChanged(prev, next)
	}
}
