package decode

import (
	"context"
	"math"

	"github.com/erparts/reisen"

	"github.com/veltra/playengine/internal/queue"
)

// ReorderPolicy controls whether a video decoder trusts the codec's
// reordered PTS or substitutes the packet DTS for it: if the configured
// reorder policy disables output reordering, substitute the packet DTS
// for PTS. reisen's VideoFrame only exposes a single
// presentation offset (already reordered by the underlying codec), so
// ReorderFromDTS has no DTS of its own to fall back to; it is preserved as
// a configuration knob and documented as a no-op under reisen in DESIGN.md.
type ReorderPolicy uint8

const (
	ReorderDefault ReorderPolicy = iota
	ReorderFromDTS
)

// VideoDecoder is the decoder agent for the video stream. It owns the
// packet-serial/finished bookkeeping and pushes decoded pictures into a
// FrameQueue.
type VideoDecoder struct {
	stream *reisen.VideoStream
	media  *reisen.Media
	pktq   *queue.PacketQueue
	frameq *VideoFrameQueue

	reorder ReorderPolicy

	pktSerial int
	finished  int // serial at which EOF was reported, -1 if not finished
}

// NewVideoDecoder wires a reisen video stream to a packet/frame queue pair.
func NewVideoDecoder(media *reisen.Media, stream *reisen.VideoStream, pktq *queue.PacketQueue, frameq *VideoFrameQueue, reorder ReorderPolicy) *VideoDecoder {
	return &VideoDecoder{
		stream:   stream,
		media:    media,
		pktq:     pktq,
		frameq:   frameq,
		reorder:  reorder,
		finished: -1,
	}
}

// Finished reports the packet-queue serial at which this decoder last
// drained to EOF, or -1 if it hasn't.
func (d *VideoDecoder) Finished() int { return d.finished }

// Run pulls packet tokens until ctx is cancelled or the queue is aborted.
// Between a flush marker and the first real frame it must not push
// anything, which falls out naturally here: a flush token only resets
// bookkeeping, it never reaches the decode branch.
func (d *VideoDecoder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pkt, res := d.pktq.Get(true)
		if res == queue.GetAborted {
			return nil
		}
		if res == queue.GetEmpty {
			continue
		}

		switch pkt.Kind {
		case queue.KindFlush:
			d.pktSerial = pkt.Serial
			d.finished = -1
			continue
		case queue.KindEOS:
			d.finished = pkt.Serial
			continue
		}

		d.pktSerial = pkt.Serial
		frame, found, err := d.stream.ReadVideoFrame()
		if err != nil || !found || frame == nil {
			// Transient decode error or "packet consumed, no frame yet":
			// decoders swallow per-packet errors and continue.
			continue
		}

		if d.pktSerial != d.pktq.Serial() {
			// Stale: a flush raced this decode. Drop without pushing.
			continue
		}

		pts, err := frame.PresentationOffset()
		ptsSeconds := math.NaN()
		if err == nil {
			ptsSeconds = pts.Seconds()
		}

		slot, ok := d.frameq.PeekWritable()
		if !ok {
			return nil // aborted while waiting for a free slot
		}
		slot.Serial = d.pktSerial
		slot.PTS = ptsSeconds
		slot.Duration = 0 // derived by the refresh scheduler from consecutive PTS
		slot.Pos = -1
		slot.Uploaded = false
		slot.Payload = VideoPayload{
			Pixels: frame.Data(),
			Width:  d.stream.Width(),
			Height: d.stream.Height(),
		}
		d.frameq.Push()
	}
}
