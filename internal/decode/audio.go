package decode

import (
	"context"
	"math"

	"github.com/erparts/reisen"

	"github.com/veltra/playengine/internal/queue"
)

// AudioDecoder is the decoder agent for the audio stream. When a decoded
// frame carries no usable PTS, it synthesizes one from
// nextPTS bookkeeping, advanced by the frame's sample count, the
// same fallback ffplay uses for audio.
type AudioDecoder struct {
	stream *reisen.AudioStream
	media  *reisen.Media
	pktq   *queue.PacketQueue
	frameq *AudioFrameQueue

	pktSerial int
	finished  int

	nextPTS float64 // seconds
}

// NewAudioDecoder wires a reisen audio stream to a packet/frame queue pair.
func NewAudioDecoder(media *reisen.Media, stream *reisen.AudioStream, pktq *queue.PacketQueue, frameq *AudioFrameQueue) *AudioDecoder {
	return &AudioDecoder{
		stream:   stream,
		media:    media,
		pktq:     pktq,
		frameq:   frameq,
		finished: -1,
		nextPTS:  math.NaN(),
	}
}

// Finished reports the packet-queue serial at which this decoder last
// drained to EOF, or -1 if it hasn't.
func (d *AudioDecoder) Finished() int { return d.finished }

// Run mirrors VideoDecoder.Run; see its comments for the flush/EOS/stale
// handling, which is identical across media types.
func (d *AudioDecoder) Run(ctx context.Context) error {
	sampleRate := d.stream.SampleRate()

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
			d.nextPTS = math.NaN()
			continue
		case queue.KindEOS:
			d.finished = pkt.Serial
			continue
		}

		d.pktSerial = pkt.Serial
		frame, found, err := d.stream.ReadAudioFrame()
		if err != nil || !found || frame == nil {
			continue
		}
		if d.pktSerial != d.pktq.Serial() {
			continue
		}

		data := frame.Data()
		nbSamples := sampleCount(len(data), sampleRate)

		ptsSeconds, err := d.frameOrSyntheticPTS(frame)
		if err != nil {
			ptsSeconds = math.NaN()
		}
		if !math.IsNaN(ptsSeconds) && nbSamples > 0 {
			d.nextPTS = ptsSeconds + float64(nbSamples)/float64(sampleRate)
		}

		slot, ok := d.frameq.PeekWritable()
		if !ok {
			return nil
		}
		slot.Serial = d.pktSerial
		slot.PTS = ptsSeconds
		slot.Duration = float64(nbSamples) / float64(sampleRate)
		slot.Pos = -1
		slot.Payload = AudioPayload{
			Samples:    data,
			SampleRate: sampleRate,
			Channels:   2, // reisen does not expose stream channel count; stereo is the only configuration exercised by this engine
		}
		d.frameq.Push()
	}
}

// frameOrSyntheticPTS returns the frame's own presentation offset, or, if
// unavailable and nextPTS is already primed, the synthesized timestamp:
// "assign pts = next_pts; advance next_pts += nb_samples".
func (d *AudioDecoder) frameOrSyntheticPTS(frame *reisen.AudioFrame) (float64, error) {
	pts, err := frame.PresentationOffset()
	if err == nil {
		return pts.Seconds(), nil
	}
	if !math.IsNaN(d.nextPTS) {
		return d.nextPTS, nil
	}
	return math.NaN(), err
}

// sampleCount estimates the number of PCM samples in data for a 16-bit
// stereo stream, the format this engine's resampler targets (see
// internal/audiorender).
func sampleCount(bytesLen, sampleRate int) int {
	const bytesPerSampleStereo16 = 4
	if bytesLen <= 0 {
		return 0
	}
	return bytesLen / bytesPerSampleStereo16
}
