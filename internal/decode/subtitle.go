package decode

import (
	"context"
	"math"

	"github.com/veltra/playengine/internal/queue"
)

// SubtitleSource is the minimal decode surface a subtitle stream needs to
// expose. No concrete reisen-backed implementation exists in this
// repository: reisen's public API (as used throughout internal/decode and
// the teacher package) exposes only VideoStreams()/AudioStreams(), with no
// subtitle stream type. This interface exists so the packet/frame queue
// plumbing and the refresh scheduler's overlay-timing logic are fully
// implemented and tested against a fake, ready to be wired to a real
// subtitle decoder if one becomes available. See DESIGN.md.
type SubtitleSource interface {
	// ReadEvent returns the next decoded subtitle event, or ok=false if
	// none is ready yet for the packet just consumed (mirroring reisen's
	// ReadVideoFrame/ReadAudioFrame "found but nil" shape).
	ReadEvent() (pts float64, payload SubtitlePayload, ok bool, err error)
}

// SubtitleDecoder is the decoder agent for the subtitle stream. Structurally
// identical to VideoDecoder/AudioDecoder; see their Run for the flush/EOS/
// stale-frame handling shared by all three media types.
type SubtitleDecoder struct {
	source SubtitleSource
	pktq   *queue.PacketQueue
	frameq *SubtitleFrameQueue

	pktSerial int
	finished  int
}

// NewSubtitleDecoder wires a SubtitleSource to a packet/frame queue pair.
func NewSubtitleDecoder(source SubtitleSource, pktq *queue.PacketQueue, frameq *SubtitleFrameQueue) *SubtitleDecoder {
	return &SubtitleDecoder{source: source, pktq: pktq, frameq: frameq, finished: -1}
}

// Finished reports the packet-queue serial at which this decoder last
// drained to EOF, or -1 if it hasn't.
func (d *SubtitleDecoder) Finished() int { return d.finished }

func (d *SubtitleDecoder) Run(ctx context.Context) error {
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
		pts, payload, ok, err := d.source.ReadEvent()
		if err != nil || !ok {
			continue
		}
		if d.pktSerial != d.pktq.Serial() {
			continue
		}

		slot, ok := d.frameq.PeekWritable()
		if !ok {
			return nil
		}
		slot.Serial = d.pktSerial
		slot.PTS = pts
		slot.Duration = math.NaN()
		slot.Pos = -1
		slot.Payload = payload
		d.frameq.Push()
	}
}
