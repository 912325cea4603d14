// Package engine wires the packet/frame queues, clocks, decoder agents,
// reader agent, refresh scheduler and audio renderer into a single
// VideoState-equivalent object: the owner of a playback session's
// concurrency and control plane (seek, pause, volume, abort).
//
// Engine is deliberately free of any video-sink/audio-sink dependency
// (no ebiten import here): it hands the root package an io.Reader for the
// audio pull callback and a snapshot of the current video picture, the
// same separation of concerns internal/avsync already keeps between pure
// synchronization math and I/O.
package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erparts/reisen"
	"golang.org/x/sync/errgroup"

	"github.com/veltra/playengine/internal/audiorender"
	"github.com/veltra/playengine/internal/avsync"
	"github.com/veltra/playengine/internal/clock"
	"github.com/veltra/playengine/internal/decode"
	"github.com/veltra/playengine/internal/logging"
	"github.com/veltra/playengine/internal/queue"
	"github.com/veltra/playengine/internal/reader"
	"github.com/veltra/playengine/internal/refresh"
)

// Sentinel errors for initialization failures.
var (
	ErrNoVideo       = errors.New("engine: input has no video stream")
	ErrBadSampleRate = errors.New("engine: audio stream sample rate unsupported by the configured audio sink")
)

// State mirrors the engine's playback states.
type State uint8

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// Config bundles the CLI option table.
type Config struct {
	Sync         avsync.Preference
	StartTime    time.Duration
	PlayDuration time.Duration
	ByteSeek     int // -1 auto, 0 off, 1 on

	// Fast and GenPTS mirror the CLI's fast/genpts flags (spec section 6)
	// but have no effect yet: reisen opens a codec context internally and
	// exposes neither a "fast decode" knob nor a generate-missing-PTS
	// flag on Media/VideoStream/AudioStream, so there is nothing to wire
	// them to (see DESIGN.md). Carried on Config so the option table
	// stays complete and the fields are ready the day a decode backend
	// exposes either knob.
	Fast   bool
	GenPTS bool

	Framedrop      refresh.FramedropMode
	InfiniteBuffer bool
	Loop           int
	AutoExit       bool
	Volume         int // 0..100, CLI scale; converted to audiorender.MixMax internally

	// IgnoreAudio skips opening any audio stream even if the input has
	// one, matching NewPlayerWithoutAudio in the root package.
	IgnoreAudio bool

	// AdaptiveExternalClock configures whether the external clock's
	// speed self-adjusts based on queue fill level: ffplay only does
	// this for realtime sources; off by default for file playback.
	AdaptiveExternalClock bool

	// TargetSampleRate is the audio sink's negotiated sample rate. The
	// root package supplies this once it knows what the concrete sink
	// accepted.
	TargetSampleRate int
	// HWBufSize is the sink's hardware buffer size in bytes, used by the
	// audio render's clock backdating.
	HWBufSize int

	Log logging.Logger
}

// Engine is the playback engine, the VideoState-equivalent object.
type Engine struct {
	mu sync.Mutex

	media       *reisen.Media
	videoStream *reisen.VideoStream
	audioStream *reisen.AudioStream
	hasAudio    bool // mirrors audioStream != nil; kept as its own field so master-clock selection doesn't need a live reisen stream to test

	videoPktq, audioPktq *queue.PacketQueue
	pictureq             *decode.VideoFrameQueue
	sampleq              *decode.AudioFrameQueue
	subq                 *decode.SubtitleFrameQueue // always nil: no reisen-backed SubtitleSource, see DESIGN.md

	audclk, vidclk, extclk *clock.Clock

	videoDecoder *decode.VideoDecoder
	audioDecoder *decode.AudioDecoder

	reader        *reader.Reader
	scheduler     *refresh.Scheduler
	audioRenderer *audiorender.Renderer

	cfg Config
	log logging.Logger

	duration time.Duration

	state   State
	lastPos time.Duration

	group  *errgroup.Group
	cancel context.CancelFunc

	closed atomic.Bool
}

// New opens videoFilename, discovers its streams and wires the full
// engine.
// The engine does not start any goroutine until Play is called.
func New(videoFilename string, cfg Config) (*Engine, error) {
	if cfg.Log == nil {
		cfg.Log = logging.Default()
	}

	media, err := reisen.NewMedia(videoFilename)
	if err != nil {
		return nil, err
	}

	videoStreams := media.VideoStreams()
	audioStreams := media.AudioStreams()
	if len(videoStreams) == 0 {
		return nil, ErrNoVideo
	}
	if len(videoStreams) > 1 {
		cfg.Log.Printf("WARNING: multiple video streams; defaulting to the first")
	}
	videoStream := videoStreams[0]

	var audioStream *reisen.AudioStream
	if len(audioStreams) > 0 && !cfg.IgnoreAudio {
		if len(audioStreams) > 1 {
			cfg.Log.Printf("WARNING: multiple audio streams; defaulting to the first")
		}
		audioStream = audioStreams[0]
	}

	videoDuration, err := videoStream.Duration()
	if err != nil {
		return nil, err
	}
	duration := videoDuration
	if audioStream != nil {
		if ad, err := audioStream.Duration(); err == nil && ad > duration {
			duration = ad
		}
	}

	e := &Engine{
		media:       media,
		videoStream: videoStream,
		audioStream: audioStream,
		hasAudio:    audioStream != nil,
		cfg:         cfg,
		log:         cfg.Log,
		duration:    duration,
	}

	e.videoPktq = queue.NewPacketQueue()
	e.pictureq = queue.NewFrameQueue[decode.VideoPayload](e.videoPktq, 3, true)
	e.vidclk = clock.New(e.videoPktq.Serial)
	e.extclk = clock.New(nil)

	streams := make([]reader.StreamHandle, 0, 3)
	streams = append(streams, reader.StreamHandle{
		Index:           videoStream.Index(),
		Type:            reisen.StreamVideo,
		PacketQueue:     e.videoPktq,
		Finished:        func() int { return e.videoDecoder.Finished() },
		FrameQueueEmpty: func() bool { return e.pictureq.NbRemaining() == 0 },
		Rewind:          videoStream.Rewind,
		Open:            videoStream.Open,
		Close:           videoStream.Close,
	})

	if audioStream != nil {
		sampleRate := audioStream.SampleRate()
		tgtRate := cfg.TargetSampleRate
		if tgtRate == 0 {
			tgtRate = sampleRate
		}
		if sampleRate <= 0 {
			return nil, ErrBadSampleRate
		}

		e.audioPktq = queue.NewPacketQueue()
		e.sampleq = queue.NewFrameQueue[decode.AudioPayload](e.audioPktq, 9, false)
		e.audclk = clock.New(e.audioPktq.Serial)

		hwBuf := cfg.HWBufSize
		if hwBuf == 0 {
			hwBuf = tgtRate * 4 / 10 // ~100ms @ 16-bit stereo, a sane default absent a negotiated spec
		}
		bytesPerSec := tgtRate * 4

		e.audioRenderer = audiorender.New(e.sampleq, e.audioPktq.Serial, audiorender.Clocks{
			Audio:         e.audclk,
			External:      e.extclk,
			IsAudioMaster: func() bool { return e.masterPreference() == avsync.PreferAudio },
			MasterReading: func() float64 { return e.masterClockReading() },
		}, audiorender.Config{
			SrcSampleRate: sampleRate,
			TgtSampleRate: tgtRate,
			HWBufSize:     hwBuf,
			BytesPerSec:   bytesPerSec,
		})
		e.audioRenderer.SetVolume(cfg.Volume * audiorender.MixMax / 100)

		streams = append(streams, reader.StreamHandle{
			Index:           audioStream.Index(),
			Type:            reisen.StreamAudio,
			PacketQueue:     e.audioPktq,
			Finished:        func() int { return e.audioDecoder.Finished() },
			FrameQueueEmpty: func() bool { return e.sampleq.NbRemaining() == 0 },
			Rewind:          audioStream.Rewind,
			Open:            audioStream.Open,
			Close:           audioStream.Close,
		})
	}

	e.scheduler = refresh.New(e.pictureq, e.subq, refresh.Clocks{
		Video:         e.vidclk,
		External:      e.extclk,
		IsVideoMaster: func() bool { return e.masterPreference() == avsync.PreferVideo },
		MasterReading: func() float64 { return e.masterClockReading() },
	}, refresh.Config{
		Framedrop:        cfg.Framedrop,
		VideoQueueSerial: e.videoPktq.Serial,
	})

	e.reader = reader.New(media, streams, decode.NoAttachedPicture{}, reader.Config{
		InfiniteBuffer: cfg.InfiniteBuffer,
		Loop:           cfg.Loop,
		AutoExit:       cfg.AutoExit,
		StartTime:      cfg.StartTime,
		PlayDuration:   cfg.PlayDuration,
	}, reader.Callbacks{
		Position: func() time.Duration { return e.Position() },
		OnSeekCommitted: func(targetSeconds float64, byBytes bool) {
			e.onSeekCommitted(targetSeconds, byBytes)
		},
		Log: e.log,
	})

	return e, nil
}

// masterPreference resolves the configured sync preference against which
// streams are actually open.
func (e *Engine) masterPreference() avsync.Preference {
	return avsync.Master(e.cfg.Sync, true, e.hasAudio)
}

// masterClockReading returns the current reading of whichever clock is
// master.
func (e *Engine) masterClockReading() float64 {
	var audio avsync.ClockReader = e.extclk
	if e.audclk != nil {
		audio = e.audclk
	}
	reader := avsync.MasterClock(e.masterPreference(), audio, e.vidclk, e.extclk)
	return reader.Get()
}

// onSeekCommitted rebases the external clock after a seek commits: set
// the external clock to NaN (byte-seek) or target/1e6 seconds (time-seek).
func (e *Engine) onSeekCommitted(targetSeconds float64, byBytes bool) {
	if byBytes {
		e.extclk.SetAt(math.NaN(), e.videoPktq.Serial(), nowSeconds())
		return
	}
	e.extclk.SetAt(targetSeconds, e.videoPktq.Serial(), nowSeconds())
}

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// Play starts (or resumes) playback. On first Play it
// spawns the reader/decoder goroutines under an errgroup bound to a fresh
// cancellable context and unfreezes the clocks.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Playing {
		return nil
	}

	if e.state == Stopped {
		if err := e.media.OpenDecode(); err != nil {
			return err
		}
		if err := e.videoStream.Open(); err != nil {
			return err
		}
		if e.audioStream != nil {
			if err := e.audioStream.Open(); err != nil {
				return err
			}
		}
		// A restart after Stop, or a configured start offset, begins at
		// StartTime: the reader services this seek before reading.
		if e.videoDecoder != nil || e.cfg.StartTime > 0 {
			e.reader.RequestSeek(reader.SeekRequest{Pos: e.cfg.StartTime})
		}
		e.videoDecoder = decode.NewVideoDecoder(e.media, e.videoStream, e.videoPktq, e.pictureq, decode.ReorderDefault)
		if e.audioStream != nil {
			e.audioDecoder = decode.NewAudioDecoder(e.media, e.audioStream, e.audioPktq, e.sampleq)
		}
		e.videoPktq.Start()
		if e.audioPktq != nil {
			e.audioPktq.Start()
		}
		e.startGoroutines()
	}

	e.vidclk.SetPaused(false)
	e.extclk.SetPaused(false)
	if e.audclk != nil {
		e.audclk.SetPaused(false)
	}
	e.state = Playing
	return nil
}

func (e *Engine) startGoroutines() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	e.group = g

	g.Go(func() error { return e.videoDecoder.Run(gctx) })
	if e.audioDecoder != nil {
		g.Go(func() error { return e.audioDecoder.Run(gctx) })
	}
	g.Go(func() error {
		err := e.reader.Run(gctx)
		if errors.Is(err, reader.ErrEndOfStream) {
			return nil
		}
		return err
	})
	g.Go(func() error { return e.runRefreshLoop(gctx) })
}

// runRefreshLoop drives the video refresh scheduler at its ~100Hz cadence,
// entirely decoupled from whatever the video sink's own draw cadence is.
func (e *Engine) runRefreshLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if e.cfg.AdaptiveExternalClock {
			e.adjustExternalClockSpeed()
		}
		remaining, _ := e.scheduler.Tick(nowSeconds())
		if remaining <= 0 {
			remaining = refresh.RefreshRate
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(remaining * float64(time.Second))):
		}
	}
}

// adjustExternalClockSpeed implements spec section 4.3's external-clock
// adaptive speed step: only while the external clock is master (ffplay
// runs this unconditionally whenever external is master; spec section 9's
// open question makes that behavior configurable via
// Config.AdaptiveExternalClock instead) and not paused.
func (e *Engine) adjustExternalClockSpeed() {
	if e.masterPreference() != avsync.PreferExternal || e.extclk.Paused() {
		return
	}
	audioNbPackets := 0
	hasAudio := e.audioPktq != nil
	if hasAudio {
		audioNbPackets = e.audioPktq.NbPackets()
	}
	e.extclk.AdjustExternalClockSpeed(true, e.videoPktq.NbPackets(), hasAudio, audioNbPackets)
}

// Pause freezes every clock.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Playing {
		return nil
	}
	e.vidclk.SetPaused(true)
	e.extclk.SetPaused(true)
	if e.audclk != nil {
		e.audclk.SetPaused(true)
	}
	e.state = Paused
	return nil
}

// Stop halts playback and releases decode resources; Play() afterwards
// restarts from Config.StartTime (position 0 unless a start offset is set).
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}

func (e *Engine) stopLocked() error {
	if e.state == Stopped {
		return nil
	}
	e.abortLocked()
	e.state = Stopped
	e.lastPos = 0
	return nil
}

func (e *Engine) abortLocked() {
	if e.cancel != nil {
		e.cancel()
	}
	e.videoPktq.Abort()
	e.pictureq.Signal()
	if e.audioPktq != nil {
		e.audioPktq.Abort()
		e.sampleq.Signal()
	}
	if e.group != nil {
		_ = e.group.Wait()
		e.group = nil
	}
}

// Close permanently closes the engine and releases its decode resources.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.abortLocked()
	if e.videoStream != nil {
		_ = e.videoStream.Close()
	}
	if e.audioStream != nil {
		_ = e.audioStream.Close()
	}
	e.media.Close()
	return nil
}

// Seek requests a move to pos, relative to the current position if
// relative is true.
func (e *Engine) Seek(pos time.Duration, relative bool) {
	e.reader.RequestSeek(reader.SeekRequest{Pos: pos, Relative: relative})
}

// Position returns the current playback position.
func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Stopped {
		return e.lastPos
	}
	reading := e.masterClockReading()
	if math.IsNaN(reading) {
		return e.lastPos
	}
	if reading < 0 {
		reading = 0
	}
	e.lastPos = time.Duration(reading * float64(time.Second))
	return e.lastPos
}

// Duration returns the total playback duration.
func (e *Engine) Duration() time.Duration { return e.duration }

// State returns the current playback state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// HasAudio reports whether an audio stream was opened.
func (e *Engine) HasAudio() bool { return e.hasAudio }

// AudioReader returns the io.Reader the root package wires into its audio
// sink's pull callback, or nil if there is no audio.
func (e *Engine) AudioReader() *audiorender.Renderer { return e.audioRenderer }

// CurrentPicture returns the picture that should currently be on screen,
// and whether the stream has reached its natural end with nothing left to
// show.
func (e *Engine) CurrentPicture() (decode.VideoPayload, bool) {
	entry := e.scheduler.CurrentPicture()
	if entry == nil {
		return decode.VideoPayload{}, false
	}
	return entry.Payload, e.reachedEnd()
}

func (e *Engine) reachedEnd() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.videoDecoder == nil {
		return false
	}
	return e.videoDecoder.Finished() == e.videoPktq.Serial() && e.pictureq.NbRemaining() == 0
}

// SetVolume sets the software volume on a 0..100 scale.
func (e *Engine) SetVolume(v int) {
	if e.audioRenderer == nil {
		return
	}
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	e.audioRenderer.SetVolume(v * audiorender.MixMax / 100)
}

// Volume returns the current software volume on a 0..100 scale.
func (e *Engine) Volume() int {
	if e.audioRenderer == nil {
		return 0
	}
	return e.audioRenderer.Volume() * 100 / audiorender.MixMax
}

// SetMuted mutes/unmutes the audio output.
func (e *Engine) SetMuted(m bool) {
	if e.audioRenderer != nil {
		e.audioRenderer.SetMuted(m)
	}
}

// Muted reports whether audio is muted (true if there is no audio).
func (e *Engine) Muted() bool {
	if e.audioRenderer == nil {
		return true
	}
	return e.audioRenderer.Muted()
}

// FrameDropsLate returns the number of late video frames dropped so far.
func (e *Engine) FrameDropsLate() int { return e.scheduler.FrameDropsLate }
