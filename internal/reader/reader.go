// Package reader implements the single reader agent of spec section 4.7:
// it owns the demuxer cursor, routes packets to the right stream's
// PacketQueue, applies backpressure, drives seek, and detects end of
// stream / loop / autoexit.
package reader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/erparts/reisen"

	"github.com/veltra/playengine/internal/decode"
	"github.com/veltra/playengine/internal/logging"
	"github.com/veltra/playengine/internal/queue"
)

// Backpressure tunables from spec section 4.7 step 4.
const (
	MaxQueueSize   = 15 * 1024 * 1024 // 15 MiB
	MinFrames      = 25
	MinDuration    = time.Second
	BackoffOnWait  = 10 * time.Millisecond
	BackoffOnError = 10 * time.Millisecond
)

// ErrEndOfStream is returned by Run when playback reaches its natural end
// and autoexit is configured: end of stream is a first-class signal (spec
// section 7), not a fatal error.
var ErrEndOfStream = errors.New("reader: end of stream")

// ErrSeekByBytesUnsupported is returned when a byte-offset seek is
// requested. reisen only exposes Rewind(time.Duration); it has no
// byte-position seek, so this is a documented capability gap (see
// DESIGN.md) rather than an attempt to fake one.
var ErrSeekByBytesUnsupported = errors.New("reader: byte-offset seeking is not supported by the decode backend")

// StreamHandle is everything the reader needs to drive one opened stream
// without depending on whether it is video, audio or subtitle.
type StreamHandle struct {
	Index           int
	Type            reisen.StreamType
	PacketQueue     *queue.PacketQueue
	Finished        func() int  // decoder's Finished(); -1 if not finished
	FrameQueueEmpty func() bool // true if nothing left to present
	Rewind          func(time.Duration) error
	Close           func() error
	Open            func() error
	IsAttachedPic   bool
}

// SeekRequest mirrors spec section 4.8's stream_seek(pos, rel, by_bytes).
type SeekRequest struct {
	Pos      time.Duration
	Relative bool
	ByBytes  bool
}

// Config bundles the reader's tunables (CLI-derived; see spec section 6).
type Config struct {
	InfiniteBuffer bool
	Loop           int // 0 = forever, 1 = no loop, >1 = repeat n times total
	AutoExit       bool
	StartTime      time.Duration
	PlayDuration   time.Duration // carried but not read: packets are not filtered by play range
}

// Callbacks lets the reader talk to the rest of the engine without
// depending on its concrete types.
type Callbacks struct {
	Position        func() time.Duration // current playback position, for relative seeks
	OnSeekCommitted func(targetSeconds float64, byBytes bool)
	Log             logging.Logger
}

// Reader is the reader agent.
type Reader struct {
	media   *reisen.Media
	streams []StreamHandle
	attach  decode.AttachedPictureProvider
	cfg     Config
	cb      Callbacks

	loopsRemaining int
	eof            bool

	seekMu      sync.Mutex // guards pendingSeek against the control-plane goroutine
	pendingSeek *SeekRequest

	queueAttachmentsReq bool
}

// New creates a reader over an already-opened demuxer and its opened
// streams.
func New(media *reisen.Media, streams []StreamHandle, attach decode.AttachedPictureProvider, cfg Config, cb Callbacks) *Reader {
	if attach == nil {
		attach = decode.NoAttachedPicture{}
	}
	if cb.Log == nil {
		cb.Log = logging.Default()
	}
	loops := cfg.Loop
	if loops == 0 {
		loops = -1 // sentinel: forever
	}
	return &Reader{
		media:               media,
		streams:             streams,
		attach:              attach,
		cfg:                 cfg,
		cb:                  cb,
		loopsRemaining:      loops,
		queueAttachmentsReq: true,
	}
}

// RequestSeek coalesces a new seek request into the single pending slot
// (idempotent while a seek is already pending), per spec section 4.8.
func (r *Reader) RequestSeek(req SeekRequest) {
	r.seekMu.Lock()
	if r.pendingSeek == nil {
		r.pendingSeek = &req
	}
	r.seekMu.Unlock()
}

// takePendingSeek atomically snapshots and clears the pending seek slot,
// under the same lock RequestSeek uses: Run must never read or clear
// pendingSeek without it, or the control-plane writer and the reader
// goroutine race on the field.
func (r *Reader) takePendingSeek() (SeekRequest, bool) {
	r.seekMu.Lock()
	defer r.seekMu.Unlock()
	if r.pendingSeek == nil {
		return SeekRequest{}, false
	}
	req := *r.pendingSeek
	r.pendingSeek = nil
	return req, true
}

// Run is the reader loop. It blocks until ctx is cancelled or end of
// stream is reached with autoexit configured; aborting the packet queues
// alone does not end it.
func (r *Reader) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if req, ok := r.takePendingSeek(); ok {
			if err := r.serviceSeek(req); err != nil && !errors.Is(err, ErrSeekByBytesUnsupported) {
				r.cb.Log.Printf("reader: seek failed: %v", err)
			}
			continue
		}

		if r.queueAttachmentsReq {
			r.queueAttachmentsReq = false
			r.enqueueAttachedPicture()
		}

		if r.shouldApplyBackpressure() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(BackoffOnWait):
			}
			continue
		}

		if r.allStreamsFinished() {
			if r.loopsRemaining != 1 {
				if r.loopsRemaining > 1 {
					r.loopsRemaining--
				}
				if err := r.seekToStart(); err != nil {
					r.cb.Log.Printf("reader: loop seek failed: %v", err)
				}
				continue
			}
			if r.cfg.AutoExit {
				return ErrEndOfStream
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(BackoffOnWait):
			}
			continue
		}

		pkt, found, err := r.media.ReadPacket()
		if err != nil {
			r.cb.Log.Printf("reader: transient read error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(BackoffOnError):
			}
			continue
		}
		if !found {
			r.eof = true
			for _, s := range r.streams {
				s.PacketQueue.PutNull(s.Index)
			}
			continue
		}
		r.eof = false
		r.routePacket(pkt)
	}
}

func (r *Reader) routePacket(pkt *reisen.Packet) {
	for _, s := range r.streams {
		if s.Type == pkt.Type() && s.Index == pkt.StreamIndex() {
			s.PacketQueue.Put(queue.Packet{
				Kind:        queue.KindData,
				StreamIndex: s.Index,
				Pos:         -1,
			})
			return
		}
	}
}

// shouldApplyBackpressure implements spec section 4.7 step 4 / the Open
// Question in section 9: "enough packets AND (no duration info OR
// duration > 1s)", applied per opened, non-attached-picture stream, OR the
// aggregate queued byte size exceeding MaxQueueSize.
func (r *Reader) shouldApplyBackpressure() bool {
	if r.cfg.InfiniteBuffer {
		return false
	}

	total := 0
	for _, s := range r.streams {
		total += s.PacketQueue.Size()
	}
	if total > MaxQueueSize {
		return true
	}

	for _, s := range r.streams {
		if s.IsAttachedPic {
			continue
		}
		nb := s.PacketQueue.NbPackets()
		dur := s.PacketQueue.Duration()
		enough := nb > MinFrames && (dur == 0 || dur > MinDuration)
		if !enough {
			return false
		}
	}
	return true
}

func (r *Reader) allStreamsFinished() bool {
	for _, s := range r.streams {
		finished := s.Finished()
		if finished != s.PacketQueue.Serial() {
			return false
		}
		if !s.FrameQueueEmpty() {
			return false
		}
	}
	return len(r.streams) > 0
}

func (r *Reader) seekToStart() error {
	return r.serviceSeek(SeekRequest{Pos: r.cfg.StartTime, Relative: false})
}

// serviceSeek implements spec section 4.8/4.7 step 2: compute the target,
// ask every opened stream to Rewind to it, flush+restart each packet queue
// (bumping serial so stale frames are rejected downstream), and report the
// new external-clock basis through the callback.
func (r *Reader) serviceSeek(req SeekRequest) error {
	if req.ByBytes {
		return ErrSeekByBytesUnsupported
	}

	target := req.Pos
	if req.Relative {
		base := time.Duration(0)
		if r.cb.Position != nil {
			base = r.cb.Position()
		}
		target = base + req.Pos
	}
	if target < 0 {
		target = 0
	}

	for _, s := range r.streams {
		if s.IsAttachedPic {
			continue
		}
		if err := s.Rewind(target); err != nil {
			return err
		}
	}
	for _, s := range r.streams {
		s.PacketQueue.Flush()
		s.PacketQueue.Start()
	}
	r.eof = false
	r.queueAttachmentsReq = true

	if r.cb.OnSeekCommitted != nil {
		r.cb.OnSeekCommitted(target.Seconds(), false)
	}
	return nil
}

func (r *Reader) enqueueAttachedPicture() {
	payload, ok := r.attach.AttachedPicture()
	if !ok {
		return
	}
	for _, s := range r.streams {
		if s.Type != reisen.StreamVideo {
			continue
		}
		s.PacketQueue.Put(queue.Packet{Kind: queue.KindData, StreamIndex: s.Index, Pos: -1})
		_ = payload // the payload is not passed on: the token carries no
		// picture bytes, and the video decoder reads its next frame from
		// its own reisen stream as it does for any data token. Only the
		// token-then-null-packet sequence is enqueued.
		s.PacketQueue.PutNull(s.Index)
		return
	}
}

// Eof reports whether the demuxer has reached end of input on the most
// recent read.
func (r *Reader) Eof() bool { return r.eof }
