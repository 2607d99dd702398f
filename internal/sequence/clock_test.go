package sequence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClockRunsTasksInOrder(t *testing.T) {
	c := NewManualClock(epoch)
	var order []string

	c.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, "b") })
	assert.Equal(t, 3, c.Pending())

	c.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, epoch.Add(20*time.Millisecond), c.Now())

	c.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, c.Pending())
}

func TestManualClockTaskSeesItsDeadline(t *testing.T) {
	c := NewManualClock(epoch)
	var seen time.Time
	c.AfterFunc(75*time.Millisecond, func() { seen = c.Now() })

	c.Advance(time.Second)
	assert.Equal(t, epoch.Add(75*time.Millisecond), seen)
	assert.Equal(t, epoch.Add(time.Second), c.Now())
}

func TestManualClockStop(t *testing.T) {
	c := NewManualClock(epoch)
	fired := false
	tm := c.AfterFunc(10*time.Millisecond, func() { fired = true })

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	c.Advance(time.Second)
	assert.False(t, fired)

	tm = c.AfterFunc(10*time.Millisecond, func() {})
	c.Advance(time.Second)
	assert.False(t, tm.Stop(), "already ran")
}

func TestManualClockNestedScheduling(t *testing.T) {
	c := NewManualClock(epoch)
	var hits []time.Duration

	var tick func()
	tick = func() {
		hits = append(hits, c.Now().Sub(epoch))
		if len(hits) < 3 {
			c.AfterFunc(10*time.Millisecond, tick)
		}
	}
	c.AfterFunc(10*time.Millisecond, tick)

	c.Advance(25 * time.Millisecond)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, hits)

	c.Advance(25 * time.Millisecond)
	assert.Len(t, hits, 3)
}

func TestManualClockIgnoresBackwards(t *testing.T) {
	c := NewManualClock(epoch)
	c.AdvanceTo(epoch.Add(-time.Hour))
	assert.Equal(t, epoch, c.Now())
}

func TestSystemClockTimerStops(t *testing.T) {
	var c SystemClock
	tm := c.AfterFunc(time.Hour, func() {})
	assert.True(t, tm.Stop())
	assert.WithinDuration(t, time.Now(), c.Now(), time.Second)
}
