// Package decode implements the per-media-type decoder agents of spec
// section 4.4. Each agent pulls packet tokens from its queue.PacketQueue,
// decodes via reisen, and pushes the resulting frames into a
// queue.FrameQueue. Video and audio are backed directly by
// github.com/erparts/reisen, the same decode library the teacher repository
// wraps; subtitle decoding and attached-picture metadata are modeled behind
// small interfaces because reisen's public surface (VideoStreams/
// AudioStreams only) does not expose either — see DESIGN.md.
package decode

import "github.com/veltra/playengine/internal/queue"

// VideoPayload is the FrameQueue payload for decoded video pictures.
type VideoPayload struct {
	Pixels        []byte
	Width, Height int
}

// AudioPayload is the FrameQueue payload for decoded audio samples.
type AudioPayload struct {
	Samples    []byte
	SampleRate int
	Channels   int
}

// SubtitleRegion is one rectangular, timed subtitle overlay.
type SubtitleRegion struct {
	X, Y, W, H int
	Bitmap     []byte
}

// SubtitlePayload is the FrameQueue payload for a decoded subtitle event.
// StartDisplay/EndDisplay are offsets in seconds relative to the frame's
// PTS, matching ffplay's start_display_time/end_display_time.
type SubtitlePayload struct {
	Regions                  []SubtitleRegion
	StartDisplay, EndDisplay float64
}

// VideoFrameQueue and friends are just named instantiations of the generic
// queue.FrameQueue for readability at call sites.
type (
	VideoFrameQueue    = queue.FrameQueue[VideoPayload]
	AudioFrameQueue    = queue.FrameQueue[AudioPayload]
	SubtitleFrameQueue = queue.FrameQueue[SubtitlePayload]
)
