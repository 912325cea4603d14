package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veltra/playengine/internal/avsync"
	"github.com/veltra/playengine/internal/clock"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "Stopped", Stopped.String())
	assert.Equal(t, "Playing", Playing.String())
	assert.Equal(t, "Paused", Paused.String())
}

// newBareEngine builds an Engine with only its clock wiring set up, enough
// to exercise master-clock selection without opening a real media file.
func newBareEngine(sync avsync.Preference, hasAudio bool) *Engine {
	e := &Engine{cfg: Config{Sync: sync}, hasAudio: hasAudio}
	e.vidclk = clock.New(nil)
	e.extclk = clock.New(nil)
	if hasAudio {
		e.audclk = clock.New(nil)
	}
	return e
}

func TestEngine_MasterPreferenceFallsBackWithoutAudio(t *testing.T) {
	e := newBareEngine(avsync.PreferAudio, false)
	assert.Equal(t, avsync.PreferExternal, e.masterPreference())
}

func TestEngine_MasterPreferenceHonorsAudioWhenPresent(t *testing.T) {
	e := newBareEngine(avsync.PreferAudio, true)
	assert.Equal(t, avsync.PreferAudio, e.masterPreference())
}

func TestEngine_MasterClockReadingUsesExternalClockWithoutAudio(t *testing.T) {
	e := newBareEngine(avsync.PreferAudio, false)
	e.extclk.SetPaused(true) // frozen, so the reading is exactly the pts set below
	e.extclk.SetAt(2.5, 0, 2.5)
	got := e.masterClockReading()
	assert.InDelta(t, 2.5, got, 1e-9)
}

func TestEngine_PositionReturnsLastKnownWhenStopped(t *testing.T) {
	e := newBareEngine(avsync.PreferVideo, false)
	e.lastPos = 1234
	assert.Equal(t, int64(1234), int64(e.Position()))
}

func TestEngine_VolumeIsZeroWithoutAudioRenderer(t *testing.T) {
	e := newBareEngine(avsync.PreferVideo, true)
	assert.Equal(t, 0, e.Volume())
	assert.True(t, e.Muted(), "Muted must report true when there is no audio renderer to mute")
	e.SetVolume(50) // must not panic when audioRenderer is nil
	e.SetMuted(true)
}

func TestEngine_HasAudioReflectsConstruction(t *testing.T) {
	assert.True(t, newBareEngine(avsync.PreferVideo, true).HasAudio())
	assert.False(t, newBareEngine(avsync.PreferVideo, false).HasAudio())
}
