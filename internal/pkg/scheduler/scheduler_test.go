package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	ch chan struct{}
}

func (s *chanSource) Readable() <-chan struct{} { return s.ch }

func TestLoop_TimerFires(t *testing.T) {
	l := NewLoop()
	l.Start()
	defer l.Close()

	fired := make(chan struct{})
	h := l.RegisterTimer(10*time.Millisecond, func() { close(fired) })
	assert.NotZero(t, h)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	assert.Eventually(t, func() bool { return l.Pending() == 0 }, time.Second, 5*time.Millisecond,
		"one-shot timers are forgotten after firing")
}

func TestLoop_CancelledTimerNeverRuns(t *testing.T) {
	l := NewLoop()
	l.Start()
	defer l.Close()

	var ran atomic.Bool
	h := l.RegisterTimer(20*time.Millisecond, func() { ran.Store(true) })
	l.Cancel(h)
	l.Cancel(h) // idempotent

	time.Sleep(60 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Equal(t, 0, l.Pending())
}

func TestLoop_ReadinessFiresPerSignal(t *testing.T) {
	l := NewLoop()
	l.Start()
	defer l.Close()

	src := &chanSource{ch: make(chan struct{}, 1)}
	var count atomic.Int32
	h := l.RegisterReadiness(src, func() { count.Add(1) })

	src.ch <- struct{}{}
	assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)
	src.ch <- struct{}{}
	assert.Eventually(t, func() bool { return count.Load() == 2 }, time.Second, 5*time.Millisecond)

	l.Cancel(h)
	select {
	case src.ch <- struct{}{}:
	default:
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), count.Load())
}

func TestLoop_CallbacksAreSerialized(t *testing.T) {
	l := NewLoop()
	l.Start()
	defer l.Close()

	var inFlight, maxInFlight atomic.Int32
	done := make(chan struct{}, 50)
	for i := 0; i < 50; i++ {
		require.True(t, l.Post(func() {
			n := inFlight.Add(1)
			if n > maxInFlight.Load() {
				maxInFlight.Store(n)
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			done <- struct{}{}
		}))
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestLoop_CallbackMayRegister(t *testing.T) {
	l := NewLoop()
	l.Start()
	defer l.Close()

	second := make(chan struct{})
	l.RegisterTimer(time.Millisecond, func() {
		l.RegisterTimer(time.Millisecond, func() { close(second) })
	})

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("nested timer never fired")
	}
}

func TestLoop_PanicIsRecovered(t *testing.T) {
	l := NewLoop()
	l.Start()
	defer l.Close()

	after := make(chan struct{})
	l.Post(func() { panic("boom") })
	l.Post(func() { close(after) })

	select {
	case <-after:
	case <-time.After(2 * time.Second):
		t.Fatal("loop died after a panicking callback")
	}
}

func TestLoop_CloseStopsEverything(t *testing.T) {
	l := NewLoop()
	l.Start()

	src := &chanSource{ch: make(chan struct{})}
	l.RegisterReadiness(src, func() {})
	l.RegisterTimer(time.Hour, func() {})
	require.Equal(t, 2, l.Pending())

	l.Close()
	l.Close()

	assert.Equal(t, 0, l.Pending())
	assert.False(t, l.Post(func() {}))
	assert.Zero(t, l.RegisterTimer(time.Millisecond, func() {}))
}
