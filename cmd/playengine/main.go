// Command playengine is a minimal ebitengine-based demo player: it parses
// its option table with pflag and drives a Player through an ebiten.Game
// loop.
package main

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/spf13/pflag"

	"github.com/veltra/playengine"
	"github.com/veltra/playengine/internal/avsync"
	"github.com/veltra/playengine/internal/engine"
	"github.com/veltra/playengine/internal/refresh"
)

const seekStep = 10 * time.Second

// standard exit codes.
const (
	exitOK        = 0
	exitSignal    = 123
	exitInitError = 1
)

type options struct {
	sync     string
	ss       float64
	t        float64
	bytes    int
	fast     bool
	genpts   bool
	drp      int
	infbuf   bool
	loop     int
	autoexit bool
	volume   int
}

func parseFlags() (*options, string) {
	opts := &options{}
	pflag.StringVar(&opts.sync, "sync", "audio", "master clock: audio|video|ext")
	pflag.Float64Var(&opts.ss, "ss", 0, "start offset in seconds")
	pflag.Float64Var(&opts.t, "t", 0, "play duration cap in seconds (accepted but not applied: playback is not cut short)")
	pflag.IntVar(&opts.bytes, "bytes", -1, "byte-seek mode: -1 auto, 0 off, 1 on")
	pflag.BoolVar(&opts.fast, "fast", false, "set codec fast flag")
	pflag.BoolVar(&opts.genpts, "genpts", false, "ask demuxer to generate PTS")
	pflag.IntVar(&opts.drp, "drp", -1, "framedrop: -1 auto, 0 off, >0 forced")
	pflag.IntVar(&opts.loop, "loop", 1, "replay n times (0 = forever)")
	pflag.BoolVar(&opts.autoexit, "autoexit", false, "exit on EOF")
	pflag.IntVar(&opts.volume, "volume", 100, "initial volume, 0..100")

	var infbuf int
	pflag.IntVar(&infbuf, "infbuf", 0, "disable packet-queue size cap: 0|1")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] path/to/video\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	opts.infbuf = infbuf != 0

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(exitInitError)
	}
	return opts, pflag.Arg(0)
}

// syncPreference maps the CLI's sync=audio|video|ext onto avsync.Preference.
func syncPreference(s string) avsync.Preference {
	switch s {
	case "video":
		return avsync.PreferVideo
	case "ext":
		return avsync.PreferExternal
	default:
		return avsync.PreferAudio
	}
}

// framedropMode maps the CLI's drp=-1|0|1 onto refresh.FramedropMode
// following ffplay's own flag semantics ("static int framedrop = -1;"
// default, used as "framedrop > 0 || (framedrop && master == video)"):
// negative is auto, zero is off, positive is forced.
func framedropMode(drp int) refresh.FramedropMode {
	switch {
	case drp < 0:
		return refresh.FramedropAuto
	case drp == 0:
		return refresh.FramedropOff
	default:
		return refresh.FramedropForced
	}
}

func main() {
	opts, arg := parseFlags()

	path, err := filepath.Abs(arg)
	if err != nil {
		fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "'%s' not found.\n", path)
			os.Exit(exitInitError)
		}
		fatal(err)
	}

	if err := playengine.CreateAudioContextForMedia(path); err != nil && !errors.Is(err, playengine.ErrNoAudio) {
		fatal(err)
	}

	cfg := engine.Config{
		Sync:           syncPreference(opts.sync),
		StartTime:      time.Duration(opts.ss * float64(time.Second)),
		PlayDuration:   time.Duration(opts.t * float64(time.Second)),
		ByteSeek:       opts.bytes,
		Fast:           opts.fast,
		GenPTS:         opts.genpts,
		Framedrop:      framedropMode(opts.drp),
		InfiniteBuffer: opts.infbuf,
		Loop:           opts.loop,
		AutoExit:       opts.autoexit,
		Volume:         opts.volume,
	}
	videoPlayer, err := playengine.NewPlayerWithConfig(path, cfg)
	if err != nil {
		fatal(err)
	}

	if err := videoPlayer.Play(); err != nil {
		fatal(err)
	}

	// 123 on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = videoPlayer.Close()
		os.Exit(exitSignal)
	}()

	ebiten.SetWindowTitle("playengine")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(1280, 720)

	game := &demo{
		videoPath:   path,
		videoPlayer: videoPlayer,
		duration:    videoPlayer.Duration(),
		autoexit:    opts.autoexit,
	}
	if err := ebiten.RunGame(game); err != nil {
		fatal(err)
	}
	os.Exit(exitOK)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "playengine: %v\n", err)
	os.Exit(exitInitError)
}

type demo struct {
	videoPath   string
	videoPlayer *playengine.Player
	videoFrame  *ebiten.Image

	lastPosition time.Duration
	duration     time.Duration
	autoexit     bool
}

func (d *demo) Layout(_, _ int) (int, int) {
	panic("Layout() should not be called when LayoutF() exists")
}

func (d *demo) LayoutF(w, h float64) (float64, float64) {
	scaleFactor := ebiten.Monitor().DeviceScaleFactor()
	return w * scaleFactor, h * scaleFactor
}

func (d *demo) Draw(canvas *ebiten.Image) {
	if d.videoFrame != nil {
		playengine.Draw(canvas, d.videoFrame)
	}
	d.drawGUI(canvas)
}

func (d *demo) Update() error {
	var err error
	d.videoFrame, err = d.videoPlayer.CurrentFrame()
	if err != nil {
		return err
	}

	d.lastPosition, err = d.videoPlayer.Position()
	if err != nil {
		return err
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyQ) {
		if err := d.videoPlayer.Close(); err != nil {
			return err
		}
		return ebiten.Termination
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyP) || inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		state, err := d.videoPlayer.State()
		if err != nil {
			return err
		}
		if state == playengine.Playing {
			if err := d.videoPlayer.Pause(); err != nil {
				return err
			}
		} else if err := d.videoPlayer.Play(); err != nil {
			return err
		}
	} else if inpututil.IsKeyJustPressed(ebiten.KeyS) {
		if err := d.videoPlayer.Stop(); err != nil {
			return err
		}
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyUp) {
		d.videoPlayer.SetVolume(clampVolume(d.videoPlayer.GetVolume() + 0.02))
	} else if inpututil.IsKeyJustPressed(ebiten.KeyDown) {
		d.videoPlayer.SetVolume(clampVolume(d.videoPlayer.GetVolume() - 0.02))
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyLeft) {
		_ = d.videoPlayer.SeekRelative(-seekStep)
	} else if inpututil.IsKeyJustPressed(ebiten.KeyRight) {
		_ = d.videoPlayer.SeekRelative(seekStep)
	}

	if d.autoexit && d.duration > 0 && d.lastPosition >= d.duration {
		if err := d.videoPlayer.Close(); err != nil {
			return err
		}
		return ebiten.Termination
	}

	return nil
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (d *demo) drawGUI(canvas *ebiten.Image) {
	bounds := canvas.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	playWidth := (w * 2) / 3
	playHeight := h / 48
	ox := (w - playWidth) / 2
	oy := h - playHeight*2
	playRect := image.Rect(ox, oy, ox+playWidth, oy+playHeight)
	canvas.SubImage(playRect).(*ebiten.Image).Fill(color.RGBA{255, 255, 255, 255})
	const borderThickness = 3
	playRect.Min.X += borderThickness
	playRect.Max.X -= borderThickness
	playRect.Min.Y += borderThickness
	playRect.Max.Y -= borderThickness
	canvas.SubImage(playRect).(*ebiten.Image).Fill(color.RGBA{0, 0, 0, 255})
	const innerMargin = 2
	playRect.Min.X += innerMargin
	playRect.Max.X -= innerMargin
	playRect.Min.Y += innerMargin
	playRect.Max.Y -= innerMargin
	if d.duration > 0 {
		t := float64(d.lastPosition) / float64(d.duration)
		playRect.Max.X = playRect.Min.X + int(float64(playRect.Dx())*t)
		canvas.SubImage(playRect).(*ebiten.Image).Fill(color.RGBA{255, 255, 255, 255})
	}

	positionStr := durationToMMSS(d.lastPosition)
	durationStr := durationToMMSS(d.duration)
	msg := fmt.Sprintf("%s / %s (SPACE play/pause, S stop, UP/DOWN volume, LEFT/RIGHT seek, drops=%d)",
		positionStr, durationStr, d.videoPlayer.FrameDropsLate())
	ebitenutil.DebugPrintAt(canvas, msg, ox, oy-16)
}

func durationToMMSS(duration time.Duration) string {
	millis := duration.Milliseconds()
	seconds := millis / 1000
	minutes := seconds / 60
	seconds = seconds % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
