package schedulertest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	f := New()
	var order []string
	f.RegisterTimer(2*time.Second, func() { order = append(order, "b") })
	f.RegisterTimer(time.Second, func() { order = append(order, "a") })
	f.RegisterTimer(5*time.Second, func() { order = append(order, "c") })

	f.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 3*time.Second, f.Now())
	assert.Equal(t, 1, f.PendingTimers())
	assert.Equal(t, []time.Duration{2 * time.Second, time.Second, 5 * time.Second}, f.Delays())
}

func TestFake_FireNextTimerAndCancel(t *testing.T) {
	f := New()
	fired := 0
	h := f.RegisterTimer(time.Minute, func() { fired++ })
	f.Cancel(h)
	assert.False(t, f.FireNextTimer())

	f.RegisterTimer(time.Minute, func() {
		fired++
		f.RegisterTimer(time.Second, func() { fired++ })
	})
	assert.True(t, f.FireNextTimer())
	assert.Equal(t, time.Minute, f.Now())
	assert.True(t, f.FireNextTimer())
	assert.Equal(t, time.Minute+time.Second, f.Now())
	assert.Equal(t, 2, fired)
}

func TestFake_FireReady(t *testing.T) {
	f := New()
	calls := 0
	h := f.RegisterReadiness(nil, func() { calls++ })
	assert.Equal(t, 1, f.FireReady())
	f.Cancel(h)
	assert.Equal(t, 0, f.FireReady())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, f.PendingReadiness())
}
