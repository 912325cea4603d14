package clock

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestClock_SetThenGetImmediate(t *testing.T) {
	c := New(nil)
	c.Set(12.5, 3)
	got := c.Get()
	assert.InDelta(t, 12.5, got, 0.01)
	assert.Equal(t, 3, c.Serial())
}

func TestClock_PausedReturnsFrozenPTS(t *testing.T) {
	c := New(nil)
	c.Set(5.0, 1)
	c.SetPaused(true)
	a := c.Get()
	b := c.Get()
	assert.Equal(t, a, b)
	assert.InDelta(t, 5.0, a, 0.01)
}

func TestClock_ObsoleteWhenQueueSerialDiverges(t *testing.T) {
	serial := 0
	c := New(func() int { return serial })
	c.Set(1.0, 0)
	assert.False(t, math.IsNaN(c.Get()))
	serial = 1
	assert.True(t, math.IsNaN(c.Get()), "clock must report NaN once its queue has moved past its serial")
}

func TestClock_SyncToSlaveSnapsOnBigDrift(t *testing.T) {
	master := New(nil)
	slave := New(nil)
	master.Set(0, 0)
	slave.Set(20, 0) // 20s apart > NosyncThreshold
	master.SyncToSlave(slave)
	assert.InDelta(t, 20, master.Get(), 0.05)
}

func TestClock_SyncToSlaveLeavesSmallDriftAlone(t *testing.T) {
	master := New(nil)
	slave := New(nil)
	master.Set(10.0, 0)
	slave.Set(10.05, 0)
	master.SyncToSlave(slave)
	assert.InDelta(t, 10.0, master.Get(), 0.05)
}

// TestClock_MonotoneOnCommit checks that a Set(pts,
// serial) call, sampled immediately after, returns pts within rounding.
func TestClock_MonotoneOnCommit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := New(nil)
		serial := rapid.IntRange(0, 1000).Draw(t, "serial")
		pts := rapid.Float64Range(-1000, 1000).Draw(t, "pts")
		c.Set(pts, serial)
		got := c.Get()
		if math.Abs(got-pts) > 1e-3 {
			t.Fatalf("Set(%v) then immediate Get() = %v, want ~%v", pts, got, pts)
		}
	})
}
