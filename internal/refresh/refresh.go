// Package refresh implements the video refresh scheduler of spec section
// 4.5: for each decoded picture it computes when to present it, whether to
// drop it, and when to advance the video clock; it also advances the
// subtitle overlay queue in lockstep with the video clock.
//
// The scheduler itself performs no I/O and owns no timer: Tick is meant to
// be driven by a caller-owned loop (internal/engine runs one on a
// dedicated goroutine at spec's REFRESH_RATE, independent of whatever
// cadence the video sink's own event loop runs at), which keeps this
// package testable without ebiten or any other sink.
package refresh

import (
	"math"

	"github.com/veltra/playengine/internal/avsync"
	"github.com/veltra/playengine/internal/clock"
	"github.com/veltra/playengine/internal/decode"
	"github.com/veltra/playengine/internal/queue"
)

// Sync-threshold / framedrop constants from spec section 4.5.
const (
	// RefreshRate is the ~100Hz scheduler tick cadence from spec section
	// 4.5; Tick's returned remaining-time is clamped to this by default
	// and only ever tightened, mirroring ffplay's REFRESH_RATE loop.
	RefreshRate = 0.01

	AVSyncThresholdMax = avsync.AVSyncThresholdMax

	// MaxFrameDurationDiscontinuous/MaxFrameDurationContinuous bound how
	// large a gap between consecutive picture PTS values is still trusted
	// as real content rather than a discontinuity; spec section 4.5 ties
	// the choice to whether the container format is "discontinuous" (e.g.
	// mpeg-ts). reisen does not expose that flag, so internal/engine
	// defaults every session to the discontinuous (10s) bound rather than
	// guessing wrong in the permissive direction.
	MaxFrameDurationDiscontinuous = 10.0
	MaxFrameDurationContinuous    = 3600.0
)

// FramedropMode mirrors the CLI's drp=-1|0|1.
type FramedropMode uint8

const (
	FramedropAuto FramedropMode = iota
	FramedropOff
	FramedropForced
)

// ShowMode mirrors ffplay's show_mode; this engine only ever runs
// ShowModeVideo (NewPlayer requires a video stream), so
// ShowModeWaveform/RDFT are carried structurally but are always dead code
// here. See SPEC_FULL.md section 3's note on audio visualization.
type ShowMode uint8

const (
	ShowModeVideo ShowMode = iota
	ShowModeWaveform
	ShowModeRDFT
)

// Clocks is the minimal clock surface the scheduler needs.
type Clocks struct {
	Video    *clock.Clock
	External *clock.Clock
	// IsVideoMaster reports whether the video clock is currently acting
	// as the master; compute_target_delay only adjusts delay when it is
	// not.
	IsVideoMaster func() bool
	// MasterReading returns the current master clock's reading.
	MasterReading func() float64
}

// Scheduler is the video refresh scheduler of spec section 4.5.
type Scheduler struct {
	pictureq *decode.VideoFrameQueue
	subq     *decode.SubtitleFrameQueue
	clocks   Clocks

	maxFrameDuration float64
	framedrop        FramedropMode

	frameTimer   float64
	forceRefresh bool

	videoQueueSerial func() int

	FrameDropsLate int

	// ShowMode/RDFTSpeed: carried per SPEC_FULL.md section 3 but always
	// ShowModeVideo for this engine; see package doc.
	ShowMode  ShowMode
	RDFTSpeed float64

	onSubtitleExpired func(idx int)
}

// Config bundles the scheduler's construction-time parameters.
type Config struct {
	MaxFrameDuration float64 // 0 defaults to MaxFrameDurationDiscontinuous
	Framedrop        FramedropMode
	// OnSubtitleExpired, if set, is called whenever the scheduler discards
	// a subtitle frame marked Uploaded (spec section 4.5: "clear its
	// texture region if previously uploaded"). The argument is always 0;
	// it does not identify the frame's ring slot.
	OnSubtitleExpired func(idx int)
	// VideoQueueSerial returns the feeding PacketQueue's current
	// generation serial; vp.serial is compared against it (spec section
	// 4.5: "if vp.serial != videoq.serial, discard vp"). Required.
	VideoQueueSerial func() int
}

// New creates a scheduler over pictureq/subq (subq may be nil if no
// subtitle stream is open).
func New(pictureq *decode.VideoFrameQueue, subq *decode.SubtitleFrameQueue, clocks Clocks, cfg Config) *Scheduler {
	maxDur := cfg.MaxFrameDuration
	if maxDur == 0 {
		maxDur = MaxFrameDurationDiscontinuous
	}
	return &Scheduler{
		pictureq:          pictureq,
		subq:              subq,
		clocks:            clocks,
		maxFrameDuration:  maxDur,
		framedrop:         cfg.Framedrop,
		RDFTSpeed:         50,
		ShowMode:          ShowModeVideo,
		onSubtitleExpired: cfg.OnSubtitleExpired,
		videoQueueSerial:  cfg.VideoQueueSerial,
	}
}

// shouldDrop implements "framedrop is enabled (or framedrop is auto and
// video is not master)" from spec section 4.5.
func (s *Scheduler) shouldDrop() bool {
	switch s.framedrop {
	case FramedropForced:
		return true
	case FramedropOff:
		return false
	default:
		return s.clocks.IsVideoMaster == nil || !s.clocks.IsVideoMaster()
	}
}

// frameDuration implements spec section 4.5's last_duration computation:
// same-serial, positive, below maxFrameDuration uses b.PTS-a.PTS; otherwise
// falls back to a.Duration.
func frameDuration[T any](a, b *queue.Entry[T], maxFrameDuration float64) float64 {
	d := b.PTS - a.PTS
	if a.Serial != b.Serial || math.IsNaN(d) || d <= 0 || d > maxFrameDuration {
		return a.Duration
	}
	return d
}

// computeTargetDelay implements spec section 4.5's compute_target_delay:
// active only when video is not master.
func (s *Scheduler) computeTargetDelay(delay float64) float64 {
	if s.clocks.IsVideoMaster != nil && s.clocks.IsVideoMaster() {
		return delay
	}
	diff := s.clocks.Video.Get() - s.clocks.MasterReading()
	if math.IsNaN(diff) {
		return delay
	}
	return avsync.ComputeTargetDelay(delay, diff, s.maxFrameDuration)
}

// Tick runs one iteration of the refresh loop at wall
// time now (seconds, same basis as clock.Clock). It returns how long the
// caller should sleep before the next call (never negative) and whether a
// commit happened this tick (ForceRefresh-equivalent; the caller should
// re-present immediately either way, since CurrentPicture() always reflects
// the right frame to show).
func (s *Scheduler) Tick(now float64) (remaining float64, refreshed bool) {
	remaining = RefreshRate // default idle cadence while nothing is queued

	if s.ShowMode != ShowModeVideo {
		remaining = 1 / s.RDFTSpeed
	}

	if s.pictureq == nil {
		return remaining, s.consumeForceRefresh()
	}

	for s.pictureq.NbRemaining() > 0 {
		lastvp := s.pictureq.PeekLast()
		vp := s.pictureq.Peek()

		if s.videoQueueSerial != nil && vp.Serial != s.videoQueueSerial() {
			s.pictureq.Next()
			continue
		}
		if lastvp.Serial != vp.Serial {
			s.frameTimer = now
		}

		lastDuration := frameDuration(lastvp, vp, s.maxFrameDuration)
		delay := s.computeTargetDelay(lastDuration)

		if now < s.frameTimer+delay {
			remaining = min(remaining, s.frameTimer+delay-now)
			return remaining, s.consumeForceRefresh()
		}

		s.frameTimer += delay
		if delay > 0 && now-s.frameTimer > AVSyncThresholdMax {
			s.frameTimer = now
		}

		if !math.IsNaN(vp.PTS) {
			s.clocks.Video.SetAt(vp.PTS, vp.Serial, now)
			s.clocks.External.SyncToSlave(s.clocks.Video)
		}

		if s.pictureq.NbRemaining() > 1 {
			nextvp := s.pictureq.PeekNext()
			dur := frameDuration(vp, nextvp, s.maxFrameDuration)
			if s.shouldDrop() && now > s.frameTimer+dur {
				s.FrameDropsLate++
				s.pictureq.Next()
				continue
			}
		}

		s.advanceSubtitles(s.clocks.Video.Get())
		s.pictureq.Next()
		s.forceRefresh = true
		break
	}

	return remaining, s.consumeForceRefresh()
}

func (s *Scheduler) consumeForceRefresh() bool {
	v := s.forceRefresh
	s.forceRefresh = false
	return v
}

// advanceSubtitles implements spec section 4.5's subtitle advance: discard
// any subtitle whose display window has ended relative to vidclkPTS, or
// that is superseded by a newer one already due to start.
func (s *Scheduler) advanceSubtitles(vidclkPTS float64) {
	if s.subq == nil {
		return
	}
	for s.subq.NbRemaining() > 0 {
		sp := s.subq.Peek()
		expired := sp.PTS+sp.Payload.EndDisplay < vidclkPTS
		superseded := false
		if s.subq.NbRemaining() > 1 {
			next := s.subq.PeekNext()
			superseded = next.Serial == sp.Serial && next.PTS+next.Payload.StartDisplay < vidclkPTS
		}
		if !expired && !superseded {
			return
		}
		if sp.Uploaded && s.onSubtitleExpired != nil {
			s.onSubtitleExpired(0)
		}
		s.subq.Next()
	}
}

// CurrentPicture returns the picture that should currently be on screen:
// the most recently committed frame (frame_queue_peek_last in ffplay
// terms), valid whether or not Tick just advanced.
func (s *Scheduler) CurrentPicture() *queue.Entry[decode.VideoPayload] {
	if s.pictureq == nil {
		return nil
	}
	return s.pictureq.PeekLast()
}
