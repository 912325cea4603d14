package playengine

import (
	"errors"
	"image/color"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"

	"github.com/veltra/playengine/internal/avsync"
	"github.com/veltra/playengine/internal/decode"
	"github.com/veltra/playengine/internal/engine"
)

// A collection of initialization errors defined by this package for [NewPlayer]().
// Other format-specific errors are also possible.
var (
	ErrNoVideo         = engine.ErrNoVideo
	ErrNilAudioContext = errors.New("file has audio stream but audio.Context is not initialized")
	ErrBadSampleRate   = engine.ErrBadSampleRate
	ErrTooManyChannels = errors.New("file audio streams with more than 2 channels are not supported")
)

// A [Player] represents a video player, typically also including audio.
//
// The player fronts [internal/engine.Engine]: a packet/frame-queue,
// three-clock playback engine that decodes, synchronizes and schedules
// video and audio independently of whatever cadence Ebitengine's own game
// loop runs at. This package's job is strictly the Ebitengine-facing
// surface: presenting the engine's current picture as an *ebiten.Image and
// wiring its audio renderer into an ebiten audio.Player.
//
// Usage is quite similar to Ebitengine audio players:
//   - Create a [NewPlayer]().
//   - Call [Player.Play()] to start the video.
//   - Audio will play automatically. Frames are obtained with [Player.CurrentFrame]().
//   - Use [Player.Pause]() and [Player.Stop]() to control the video.
type Player struct {
	engine *engine.Engine

	currentFrame *ebiten.Image
	onBlackFrame bool
	reachedEnd   bool

	audioPlayer *audio.Player
}

// Like [NewPlayer](), but ignoring audio streams.
func NewPlayerWithoutAudio(videoFilename string) (*Player, error) {
	cfg := engine.Config{Sync: avsync.PreferAudio, Log: pkgLogger, Volume: 100, Loop: 1, IgnoreAudio: true}
	return newPlayer(videoFilename, cfg)
}

// Creates a new video [Player].
func NewPlayer(videoFilename string) (*Player, error) {
	cfg := engine.Config{Sync: avsync.PreferAudio, Log: pkgLogger, Volume: 100, Loop: 1}
	return newPlayer(videoFilename, cfg)
}

// NewPlayerWithConfig creates a [Player] from a fully populated
// [engine.Config], letting callers such as cmd/playengine drive every
// option (sync preference, start/duration, byte-seek, framedrop,
// loop/autoexit, initial volume, ...) instead of the defaults [NewPlayer]
// assumes. Log defaults to the package logger if unset.
func NewPlayerWithConfig(videoFilename string, cfg engine.Config) (*Player, error) {
	if cfg.Log == nil {
		cfg.Log = pkgLogger
	}
	return newPlayer(videoFilename, cfg)
}

func newPlayer(videoFilename string, cfg engine.Config) (*Player, error) {
	if !cfg.IgnoreAudio {
		if ctx := audio.CurrentContext(); ctx != nil {
			cfg.TargetSampleRate = ctx.SampleRate()
		}
	}

	eng, err := engine.New(videoFilename, cfg)
	if err != nil {
		return nil, err
	}

	var audioPlayer *audio.Player
	if eng.HasAudio() {
		if audio.CurrentContext() == nil {
			return nil, ErrNilAudioContext
		}
		audioPlayer, err = audio.CurrentContext().NewPlayer(eng.AudioReader())
		if err != nil {
			return nil, err
		}
		audioPlayer.SetBufferSize(200 * time.Millisecond)
		audioPlayer.Play()
	}

	// 1x1 placeholder until the first real frame arrives; copyFrame resizes
	// currentFrame the moment a decoded picture's dimensions are known.
	img := ebiten.NewImage(1, 1)
	img.Fill(color.Black)

	p := &Player{
		engine:       eng,
		currentFrame: img,
		onBlackFrame: true,
		audioPlayer:  audioPlayer,
	}
	return p, nil
}

// --- frames and resolution ---

// Returns the image corresponding to the underlying video stream frame at
// the current [Player.Position](). This means that as long as the video is
// playing, calling this method at different times will return different
// frames.
//
// The returned image is reused, so calling this method again will overwrite
// its contents. This means you can use the image between calls, but you should
// not store it for later use expecting the image to remain the same.
func (p *Player) CurrentFrame() (*ebiten.Image, error) {
	pic, atEnd := p.engine.CurrentPicture()
	if atEnd {
		p.reachedEnd = true
	}
	if pic.Pixels == nil {
		if !p.reachedEnd {
			p.copyFrame(nil)
		}
		return p.currentFrame, nil
	}

	p.copyFrame(&pic)
	return p.currentFrame, nil
}

// NextVideoFrame is not implemented: calling it panics. Frame-by-frame
// stepping, forward or backward, is not available on this player.
func (p *Player) NextVideoFrame() (*ebiten.Image, error) {
	panic("unimplemented")
}

// Returns the width and height of the video.
func (p *Player) Resolution() (int, int) {
	bounds := p.currentFrame.Bounds()
	return bounds.Dx(), bounds.Dy()
}

// ---- video playback states ----

// Returns the current player's state, which can be [Stopped], [Playing] or
// [Paused]. Notice that even when playing, video frames need to be retrieved
// manually through [Player.CurrentFrame]().
func (p *Player) State() (PlaybackState, error) {
	switch p.engine.State() {
	case engine.Playing:
		return Playing, nil
	case engine.Paused:
		return Paused, nil
	default:
		return Stopped, nil
	}
}

// Play() activates the player's playback clock. If the player is already
// playing, it just keeps playing and nothing new happens.
//
// If the underlying stream contains any audio, the audio will also
// start or resume. Video frames need to be retrieved manually through
// [Player.CurrentFrame]() instead.
func (p *Player) Play() error {
	if p.reachedEnd {
		p.copyFrame(nil)
		p.reachedEnd = false
	}
	if p.audioPlayer != nil {
		p.audioPlayer.Play()
	}
	return p.engine.Play()
}

// Pauses the player's playback clock. If the player is already paused, it
// just stays paused and nothing new happens.
//
// If the underlying mpeg contains any audio, the audio will also be paused.
func (p *Player) Pause() error {
	if p.audioPlayer != nil {
		p.audioPlayer.Pause()
	}
	return p.engine.Pause()
}

// Stops the player. Using [Player.Play]() again will cause the video to
// restart from the beginning.
func (p *Player) Stop() error {
	p.copyFrame(nil)
	return p.engine.Stop()
}

// --- timing ---

// Returns the player's current playback position. If the video is
// [Stopped], the position can only be 0 (start) or [Player.Duration]().
// (if the video naturally reached the end).
func (p *Player) Position() (time.Duration, error) {
	return p.engine.Position(), nil
}

// Returns the video duration.
func (p *Player) Duration() time.Duration {
	return p.engine.Duration()
}

// FrameDropsLate returns the count of decoded video frames dropped for
// arriving behind the master clock.
func (p *Player) FrameDropsLate() int {
	return p.engine.FrameDropsLate()
}

// --- audio ---

// Returns whether the video has audio.
func (p *Player) HasAudio() bool { return p.engine.HasAudio() }

// Gets the video's volume, on a 0..1 scale. If the video has no audio, 0
// will be returned.
func (p *Player) GetVolume() float64 {
	return float64(p.engine.Volume()) / 100
}

// Sets the volume of the video, on a 0..1 scale. If the video has no audio,
// this method will have no effect.
func (p *Player) SetVolume(volume float64) {
	p.engine.SetVolume(int(volume*100 + 0.5))
}

// Returns whether the video is muted or not. If the video has no audio,
// true will be returned.
func (p *Player) GetMuted() bool { return p.engine.Muted() }

// Mutes or unmutes the video. If the video has no audio, this method will have no effect.
func (p *Player) SetMuted(muted bool) { p.engine.SetMuted(muted) }

// --- advanced operations ---

// Completely closes the video player, freeing associated resources. This
// makes the player unusable afterwards.
//
// Do not confuse with [Player.Stop]().
func (p *Player) Close() error {
	if p.audioPlayer != nil {
		_ = p.audioPlayer.Close()
	}
	return p.engine.Close()
}

// Moves the player's playback position to the given one, relative to the start
// of the video.
//
// The precision of the method is not well explored, and it might depend on the
// amount of inter-frames encoded in the video.
func (p *Player) Seek(position time.Duration) error {
	p.engine.Seek(position, false)
	return nil
}

// SeekRelative moves the playback position by delta (positive forward,
// negative backward) relative to wherever it currently is.
func (p *Player) SeekRelative(delta time.Duration) error {
	p.engine.Seek(delta, true)
	return nil
}

// --- internal ---

func (p *Player) copyFrame(payload *decode.VideoPayload) {
	if payload == nil || payload.Pixels == nil {
		if !p.onBlackFrame {
			p.currentFrame.Fill(color.Black)
			p.onBlackFrame = true
		}
		return
	}
	if payload.Width != p.currentFrame.Bounds().Dx() || payload.Height != p.currentFrame.Bounds().Dy() {
		p.currentFrame = ebiten.NewImage(payload.Width, payload.Height)
	}
	p.currentFrame.WritePixels(payload.Pixels)
	p.onBlackFrame = false
}
