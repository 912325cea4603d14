package decode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltra/playengine/internal/queue"
)

type fakeSubtitleSource struct {
	events []struct {
		pts     float64
		payload SubtitlePayload
	}
	i int
}

func (f *fakeSubtitleSource) ReadEvent() (float64, SubtitlePayload, bool, error) {
	if f.i >= len(f.events) {
		return 0, SubtitlePayload{}, false, nil
	}
	e := f.events[f.i]
	f.i++
	return e.pts, e.payload, true, nil
}

func TestSubtitleDecoder_PushesDecodedEvents(t *testing.T) {
	pktq := queue.NewPacketQueue()
	frameq := queue.NewFrameQueue[SubtitlePayload](pktq, 16, true)

	src := &fakeSubtitleSource{}
	src.events = append(src.events, struct {
		pts     float64
		payload SubtitlePayload
	}{pts: 1.5, payload: SubtitlePayload{StartDisplay: 0, EndDisplay: 2}})

	dec := NewSubtitleDecoder(src, pktq, frameq)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dec.Run(ctx) }()

	require.True(t, pktq.Put(queue.Packet{Kind: queue.KindData}))

	deadline := time.After(time.Second)
	for frameq.NbRemaining() == 0 {
		select {
		case <-deadline:
			t.Fatal("subtitle frame never appeared")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	slot, ok := frameq.PeekReadable()
	require.True(t, ok)
	assert.InDelta(t, 1.5, slot.PTS, 1e-9)
	assert.Equal(t, 2.0, slot.Payload.EndDisplay)

	cancel()
	pktq.Abort()
	<-done
}

func TestAttachedPicture_NoneByDefault(t *testing.T) {
	var p AttachedPictureProvider = NoAttachedPicture{}
	_, ok := p.AttachedPicture()
	assert.False(t, ok)
}

type fakeAttachedPicture struct{ payload VideoPayload }

func (f fakeAttachedPicture) AttachedPicture() (VideoPayload, bool) { return f.payload, true }

func TestAttachedPicture_PresentWhenProvided(t *testing.T) {
	want := VideoPayload{Width: 4, Height: 4, Pixels: make([]byte, 64)}
	p := fakeAttachedPicture{payload: want}
	got, ok := p.AttachedPicture()
	assert.True(t, ok)
	assert.Equal(t, want, got)
}
