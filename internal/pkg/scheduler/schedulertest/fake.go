// Package schedulertest provides a deterministic Scheduler for tests.
package schedulertest

import (
	"sort"
	"sync"
	"time"

	"github.com/endorses/notibridge/internal/pkg/scheduler"
)

type timer struct {
	handle scheduler.Handle
	at     time.Duration
	fn     func()
}

type readiness struct {
	handle scheduler.Handle
	src    scheduler.ReadySource
	fn     func()
}

// Fake is a manually driven Scheduler. Nothing runs until the test calls
// Advance, FireNextTimer or FireReady, and callbacks run on the caller's goroutine.
type Fake struct {
	mu     sync.Mutex
	now    time.Duration
	next   scheduler.Handle
	timers map[scheduler.Handle]*timer
	ready  map[scheduler.Handle]*readiness
	delays []time.Duration
}

// New returns an idle fake scheduler
func New() *Fake {
	return &Fake{
		timers: make(map[scheduler.Handle]*timer),
		ready:  make(map[scheduler.Handle]*readiness),
	}
}

// RegisterTimer implements scheduler.Scheduler
func (f *Fake) RegisterTimer(d time.Duration, fn func()) scheduler.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.timers[f.next] = &timer{handle: f.next, at: f.now + d, fn: fn}
	f.delays = append(f.delays, d)
	return f.next
}

// RegisterReadiness implements scheduler.Scheduler
func (f *Fake) RegisterReadiness(src scheduler.ReadySource, fn func()) scheduler.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.ready[f.next] = &readiness{handle: f.next, src: src, fn: fn}
	return f.next
}

// Cancel implements scheduler.Scheduler
func (f *Fake) Cancel(h scheduler.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.timers, h)
	delete(f.ready, h)
}

// Now returns the fake clock
func (f *Fake) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Delays returns every timer delay registered so far, in order
func (f *Fake) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

// PendingTimers returns the number of timers not yet fired or cancelled
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// PendingReadiness returns the number of live readiness registrations
func (f *Fake) PendingReadiness() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ready)
}

// Advance moves the clock forward by d, firing due timers in order
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now + d
	f.mu.Unlock()

	for {
		t := f.popDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	f.mu.Lock()
	f.now = target
	f.mu.Unlock()
}

// FireNextTimer jumps the clock to the earliest timer and fires it.
// It returns false when no timer is pending.
func (f *Fake) FireNextTimer() bool {
	t := f.popDue(-1)
	if t == nil {
		return false
	}
	t.fn()
	return true
}

// FireReady invokes every readiness callback once and returns how many ran
func (f *Fake) FireReady() int {
	f.mu.Lock()
	handles := make([]scheduler.Handle, 0, len(f.ready))
	for h := range f.ready {
		handles = append(handles, h)
	}
	f.mu.Unlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	n := 0
	for _, h := range handles {
		f.mu.Lock()
		r, ok := f.ready[h]
		f.mu.Unlock()
		if !ok {
			continue
		}
		r.fn()
		n++
	}
	return n
}

// popDue removes and returns the earliest timer due at or before target;
// a negative target means "whatever comes first".
func (f *Fake) popDue(target time.Duration) *timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	var first *timer
	for _, t := range f.timers {
		if first == nil || t.at < first.at || (t.at == first.at && t.handle < first.handle) {
			first = t
		}
	}
	if first == nil || (target >= 0 && first.at > target) {
		return nil
	}
	delete(f.timers, first.handle)
	if first.at > f.now {
		f.now = first.at
	}
	return first
}
