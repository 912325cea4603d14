// Package avsync implements the synchronization math shared by the video
// refresh scheduler and the audio render callback: master clock selection,
// compute_target_delay (frame drop/duplicate policy) and synchronize_audio
// (resampler compensation), kept free of I/O so they can be unit tested
// directly against the literal reference formulas.
package avsync

import (
	"math"

	"github.com/veltra/playengine/internal/clock"
)

// Preference is the user-configured master clock preference (CLI option
// sync=audio|video|ext).
type Preference uint8

const (
	PreferAudio Preference = iota
	PreferVideo
	PreferExternal
)

// Sync-threshold constants (ffplay's AV_SYNC_THRESHOLD_MIN/MAX/FRAMEDUP).
const (
	AVSyncThresholdMin      = 0.04
	AVSyncThresholdMax      = 0.1
	AVSyncFramedupThreshold = 0.1
)

// ClockReader is the minimal surface avsync needs from a clock: its current
// reading (NaN if obsolete/unset).
type ClockReader interface {
	Get() float64
}

// Master resolves which clock should act as master given the configured
// preference and which streams are actually present: if the preferred
// master's stream is absent, fall back in order AUDIO -> EXTERNAL,
// VIDEO -> AUDIO -> EXTERNAL.
func Master(pref Preference, hasVideo, hasAudio bool) Preference {
	switch pref {
	case PreferVideo:
		if hasVideo {
			return PreferVideo
		}
		if hasAudio {
			return PreferAudio
		}
		return PreferExternal
	case PreferAudio:
		if hasAudio {
			return PreferAudio
		}
		return PreferExternal
	default: // PreferExternal
		return PreferExternal
	}
}

// MasterClock picks the actual clock to read given the resolved preference.
func MasterClock(pref Preference, audio, video, external ClockReader) ClockReader {
	switch pref {
	case PreferVideo:
		return video
	case PreferAudio:
		return audio
	default:
		return external
	}
}

// ComputeTargetDelay implements compute_target_delay: it
// only adjusts delay when video is not the master clock. diff is
// vidclk - masterClock; maxFrameDuration bounds how large a diff is still
// considered "in sync enough to adjust" rather than a discontinuity.
func ComputeTargetDelay(delay, diff, maxFrameDuration float64) float64 {
	syncThreshold := clamp(delay, AVSyncThresholdMin, AVSyncThresholdMax)
	if math.Abs(diff) < maxFrameDuration {
		switch {
		case diff <= -syncThreshold:
			delay = math.Max(0, delay+diff)
		case diff >= syncThreshold && delay > AVSyncFramedupThreshold:
			delay = delay + diff
		case diff >= syncThreshold:
			delay = 2 * delay
		}
	}
	return delay
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AudioDiffAvgCoef is the EMA coefficient used by synchronize_audio, equal
// to exp(ln(0.01)/20): after 20 samples the weight of the oldest sample has
// decayed to 1%.
var AudioDiffAvgCoef = math.Exp(math.Log(0.01) / 20)

// AudioDiffAvgNb is the number of samples synchronize_audio accumulates
// before it starts acting on the running average.
const AudioDiffAvgNb = 20

// AudioSyncState carries synchronize_audio's running state across calls;
// owned by the audio render and reset on discontinuity.
type AudioSyncState struct {
	AvgCoef float64
	Cum     float64
	AvgNb   int // nb accumulated so far, capped at AudioDiffAvgNb
}

// NewAudioSyncState returns a zeroed state using AudioDiffAvgCoef.
func NewAudioSyncState() *AudioSyncState {
	return &AudioSyncState{AvgCoef: AudioDiffAvgCoef}
}

// SynchronizeAudio implements synchronize_audio: given
// the audio clock's reading minus the master clock's reading (diff), the
// number of samples about to be played (nb), the audio stream's sample
// rate, and the hw-buffer-derived audio_diff_threshold, it returns the
// sample count the resampler should actually target so the audio clock
// nudges toward the master, clamped to +/-10%.
func (s *AudioSyncState) SynchronizeAudio(diff float64, nb int, srcFreq int, audioDiffThreshold float64) int {
	if math.Abs(diff) >= clock.NosyncThreshold {
		s.Cum = 0
		s.AvgNb = 0
		return nb
	}

	s.Cum = diff + s.AvgCoef*s.Cum
	if s.AvgNb < AudioDiffAvgNb {
		s.AvgNb++
		return nb
	}

	avg := s.Cum * (1 - s.AvgCoef)
	if math.Abs(avg) < audioDiffThreshold {
		return nb
	}

	wanted := nb + int(math.Round(diff*float64(srcFreq)))
	lo := int(float64(nb) * 0.9)
	hi := int(float64(nb) * 1.1)
	if wanted < lo {
		wanted = lo
	}
	if wanted > hi {
		wanted = hi
	}
	return wanted
}
