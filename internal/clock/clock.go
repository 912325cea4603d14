// Package clock implements the drifting PTS timeline shared by the audio,
// video and external clocks, plus the external clock's adaptive speed
// step. Master-clock selection lives in internal/avsync.
package clock

import (
	"math"
	"sync"
	"time"
)

// NosyncThreshold is the maximum allowed drift, in seconds, between a
// master clock and a slave before sync_to_slave snaps the master to it.
const NosyncThreshold = 10.0

// Clock is a drifting timeline: (pts, ptsDrift, lastUpdated, speed, serial,
// paused), read at audio-callback speed under a short critical section
// that computes the reading from those fields.
type Clock struct {
	mu sync.Mutex

	pts         float64
	ptsDrift    float64
	lastUpdated float64
	speed       float64
	serial      int
	paused      bool

	// queueSerial, if non-nil, is read under mu to detect that the clock
	// has gone stale relative to its feeding queue (a flush happened that
	// this clock hasn't been re-Set against yet).
	queueSerial func() int
}

// now returns the current wall-clock time as seconds, matching ffplay's
// av_gettime_relative()/1e6.
func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// New creates a running clock at speed 1 with pts NaN and serial -1 (never
// set). queueSerialRef, if
// non-nil, is consulted by Get to invalidate the reading when the feeding
// queue's serial has moved past this clock's serial.
func New(queueSerialRef func() int) *Clock {
	return &Clock{
		pts:         math.NaN(),
		ptsDrift:    0,
		speed:       1.0,
		serial:      -1,
		queueSerial: queueSerialRef,
	}
}

// Get returns the current reading: pts directly if paused, otherwise
// extrapolated from the drift and elapsed wall time scaled by speed. It
// returns NaN if the clock is obsolete (its queueSerialRef no longer
// matches the serial it was last Set with).
func (c *Clock) Get() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked()
}

func (c *Clock) getLocked() float64 {
	if c.queueSerial != nil && c.queueSerial() != c.serial {
		return math.NaN()
	}
	if c.paused {
		return c.pts
	}
	t := now()
	return c.ptsDrift + t - (t-c.lastUpdated)*(1-c.speed)
}

// SetAt rebases the clock to pts as observed at wall-clock time t, stamping
// it with serial.
func (c *Clock) SetAt(pts float64, serial int, t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pts = pts
	c.lastUpdated = t
	c.ptsDrift = c.pts - t
	c.serial = serial
}

// Set is SetAt using the current wall-clock time.
func (c *Clock) Set(pts float64, serial int) {
	c.SetAt(pts, serial, now())
}

// SetSpeed rebases the clock to its current reading, then changes speed.
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.getLocked()
	c.pts = cur
	c.lastUpdated = now()
	c.ptsDrift = c.pts - c.lastUpdated
	c.speed = speed
}

// External clock speed-adjustment constants (spec section 4.3: "step size
// +/-0.001 in the range [0.900, 1.010]"), matching ffplay's
// EXTERNAL_CLOCK_SPEED_MIN/MAX/STEP and EXTERNAL_CLOCK_MIN_FRAMES/
// MAX_FRAMES.
const (
	ExternalClockSpeedMin  = 0.900
	ExternalClockSpeedMax  = 1.010
	ExternalClockSpeedStep = 0.001
	ExternalClockMinFrames = 2
	ExternalClockMaxFrames = 10
)

// AdjustExternalClockSpeed implements ffplay's check_external_clock_speed:
// called once per refresh tick while this clock is master, it nudges speed
// down when either opened queue is starved (<= ExternalClockMinFrames
// packets), nudges it up when every opened queue is comfortably full
// (> ExternalClockMaxFrames), and otherwise relaxes speed back toward 1.0
// by one step. hasVideo/hasAudio mirror "stream opened at all"; an absent
// stream never blocks the high-buffer branch and never triggers the
// starved branch.
func (c *Clock) AdjustExternalClockSpeed(hasVideo bool, videoNbPackets int, hasAudio bool, audioNbPackets int) {
	starved := (hasVideo && videoNbPackets <= ExternalClockMinFrames) ||
		(hasAudio && audioNbPackets <= ExternalClockMinFrames)
	full := (!hasVideo || videoNbPackets > ExternalClockMaxFrames) &&
		(!hasAudio || audioNbPackets > ExternalClockMaxFrames)

	switch {
	case starved:
		c.SetSpeed(math.Max(ExternalClockSpeedMin, c.Speed()-ExternalClockSpeedStep))
	case full:
		c.SetSpeed(math.Min(ExternalClockSpeedMax, c.Speed()+ExternalClockSpeedStep))
	default:
		speed := c.Speed()
		if speed != 1.0 {
			c.SetSpeed(speed + ExternalClockSpeedStep*(1.0-speed)/math.Abs(1.0-speed))
		}
	}
}

// SetPaused freezes or unfreezes the clock. Freezing captures the current
// reading into pts so Get keeps returning it while paused is true;
// unfreezing rebases the drift so the reading continues from that pts.
func (c *Clock) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if paused && !c.paused {
		c.pts = c.getLocked()
		c.lastUpdated = now()
	} else if !paused && c.paused {
		c.lastUpdated = now()
		c.ptsDrift = c.pts - c.lastUpdated
	}
	c.paused = paused
}

// Paused reports the current pause state.
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Speed returns the current speed multiplier.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Serial returns the generation this clock was last Set against.
func (c *Clock) Serial() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serial
}

// SyncToSlave snaps this clock to slave's reading if they have diverged by
// more than NosyncThreshold, or if this clock's reading is NaN (obsolete or
// never set). This realizes "the external clock is kept in sync with the
// audio clock via sync_to_slave" (or any master/slave
// pairing that wants the same behavior).
func (c *Clock) SyncToSlave(slave *Clock) {
	masterReading := c.Get()
	slaveReading := slave.Get()
	if !math.IsNaN(slaveReading) && (math.IsNaN(masterReading) || math.Abs(masterReading-slaveReading) > NosyncThreshold) {
		c.Set(slaveReading, slave.Serial())
	}
}
