// Package scheduler provides the timer and readiness primitives the
// connection manager is driven by.
//
// Loop runs every callback on one dedicated goroutine, so callbacks never
// run concurrently with each other. schedulertest.Fake implements the same
// interface with a manual clock for tests.
package scheduler

import (
	"sync"
	"time"

	"github.com/endorses/notibridge/internal/pkg/logger"
)

// Handle identifies a registration. The zero Handle is never issued.
type Handle uint64

// ReadySource is anything that signals when it has data to read
type ReadySource interface {
	Readable() <-chan struct{}
}

// Scheduler registers deferred callbacks
type Scheduler interface {
	// RegisterTimer runs fn once after d
	RegisterTimer(d time.Duration, fn func()) Handle
	// RegisterReadiness runs fn every time src signals readiness
	RegisterReadiness(src ReadySource, fn func()) Handle
	// Cancel drops a registration; callbacks already queued for it are skipped
	Cancel(h Handle)
}

type task struct {
	handle  Handle
	oneShot bool
	fn      func()
}

type registration struct {
	timer *time.Timer
	stop  chan struct{}
}

// Loop is a single-goroutine event loop
type Loop struct {
	mu     sync.Mutex
	queue  []task
	live   map[Handle]*registration
	next   Handle
	closed bool

	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started bool
	wg      sync.WaitGroup
}

// NewLoop creates a loop; call Start to run it
func NewLoop() *Loop {
	return &Loop{
		live: make(map[Handle]*registration),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the loop goroutine
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.closed {
		return
	}
	l.started = true
	go l.run()
}

// Post queues fn to run on the loop goroutine. It returns false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	return l.enqueue(task{fn: fn})
}

// RegisterTimer implements Scheduler
func (l *Loop) RegisterTimer(d time.Duration, fn func()) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0
	}

	l.next++
	h := l.next
	reg := &registration{}
	l.live[h] = reg
	reg.timer = time.AfterFunc(d, func() {
		l.enqueue(task{handle: h, oneShot: true, fn: fn})
	})
	return h
}

// RegisterReadiness implements Scheduler
func (l *Loop) RegisterReadiness(src ReadySource, fn func()) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0
	}

	l.next++
	h := l.next
	reg := &registration{stop: make(chan struct{})}
	l.live[h] = reg

	ready := src.Readable()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case <-reg.stop:
				return
			case _, ok := <-ready:
				l.enqueue(task{handle: h, fn: fn})
				if !ok {
					// a closed source stays readable forever; report it once
					return
				}
			}
		}
	}()
	return h
}

// Cancel implements Scheduler
func (l *Loop) Cancel(h Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelLocked(h)
}

func (l *Loop) cancelLocked(h Handle) {
	reg, ok := l.live[h]
	if !ok {
		return
	}
	delete(l.live, h)
	if reg.timer != nil {
		reg.timer.Stop()
	}
	if reg.stop != nil {
		close(reg.stop)
	}
}

// Pending returns the number of live registrations
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}

// Close cancels every registration, stops the loop and waits for its goroutine.
// Queued callbacks that have not started are discarded.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		started := l.started
		l.mu.Unlock()
		if started {
			<-l.done
		}
		return
	}
	l.closed = true
	for h := range l.live {
		l.cancelLocked(h)
	}
	l.queue = nil
	started := l.started
	close(l.stop)
	l.mu.Unlock()

	l.wg.Wait()
	if started {
		<-l.done
	}
}

func (l *Loop) enqueue(t task) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case <-l.wake:
		}

		for {
			t, ok := l.pop()
			if !ok {
				break
			}
			l.exec(t)
		}
	}
}

func (l *Loop) pop() (task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) > 0 {
		t := l.queue[0]
		l.queue[0] = task{}
		l.queue = l.queue[1:]

		if t.handle != 0 {
			if _, ok := l.live[t.handle]; !ok {
				continue
			}
			if t.oneShot {
				delete(l.live, t.handle)
			}
		}
		return t, true
	}
	return task{}, false
}

func (l *Loop) exec(t task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic in scheduled callback", "panic", r, "handle", t.handle)
		}
	}()
	t.fn()
}
