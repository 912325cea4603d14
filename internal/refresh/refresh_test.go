package refresh

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltra/playengine/internal/clock"
	"github.com/veltra/playengine/internal/decode"
	"github.com/veltra/playengine/internal/queue"
)

func pushPicture(t *testing.T, fq *decode.VideoFrameQueue, pts, dur float64, serial int) {
	t.Helper()
	slot, ok := fq.PeekWritable()
	require.True(t, ok)
	slot.PTS = pts
	slot.Duration = dur
	slot.Serial = serial
	fq.Push()
}

func newTestScheduler(t *testing.T, pktq *queue.PacketQueue) (*Scheduler, *decode.VideoFrameQueue, *clock.Clock, *clock.Clock) {
	t.Helper()
	pictureq := queue.NewFrameQueue[decode.VideoPayload](pktq, 3, true)
	vidclk := clock.New(func() int { return pktq.Serial() })
	extclk := clock.New(nil)
	sched := New(pictureq, nil, Clocks{
		Video:         vidclk,
		External:      extclk,
		IsVideoMaster: func() bool { return true },
		MasterReading: func() float64 { return extclk.Get() },
	}, Config{VideoQueueSerial: pktq.Serial})
	return sched, pictureq, vidclk, extclk
}

func TestScheduler_PresentsFirstFrameImmediatelyOnDiscontinuity(t *testing.T) {
	pktq := queue.NewPacketQueue()
	sched, pictureq, vidclk, _ := newTestScheduler(t, pktq)
	vidclk.SetPaused(true) // Tick's time is not wall time; a frozen clock reads exactly the committed pts

	pushPicture(t, pictureq, 0.0, 0.04, 0)

	_, refreshed := sched.Tick(1000.0)
	assert.True(t, refreshed)
	assert.Equal(t, 0.0, vidclk.Get())
	assert.Equal(t, 0, pictureq.NbRemaining())
}

func TestScheduler_WaitsForFrameTimerBeforeAdvancing(t *testing.T) {
	pktq := queue.NewPacketQueue()
	sched, pictureq, _, _ := newTestScheduler(t, pktq)

	pushPicture(t, pictureq, 0.0, 0.04, 0)
	sched.Tick(1000.0) // commits first frame, frameTimer = 1000.0

	pushPicture(t, pictureq, 0.04, 0.04, 0)
	remaining, refreshed := sched.Tick(1000.0) // no time elapsed yet
	assert.False(t, refreshed)
	assert.Greater(t, remaining, 0.0)
	assert.LessOrEqual(t, remaining, RefreshRate)
}

func TestScheduler_DiscardsStaleSerial(t *testing.T) {
	pktq := queue.NewPacketQueue()
	sched, pictureq, vidclk, _ := newTestScheduler(t, pktq)

	pktq.Put(queue.Packet{Kind: queue.KindFlush}) // bumps serial to 1
	pushPicture(t, pictureq, 0.0, 0.04, 0)         // stale: inherited the pre-flush serial

	sched.Tick(1000.0)
	assert.Equal(t, 0, pictureq.NbRemaining(), "stale serial-0 frame must be discarded without presenting")
	assert.True(t, math.IsNaN(vidclk.Get()), "video clock must not commit to a stale frame")
}

func TestScheduler_SubtitleExpiresAgainstVideoClock(t *testing.T) {
	pktq := queue.NewPacketQueue()
	subq := queue.NewFrameQueue[decode.SubtitlePayload](pktq, 16, true)
	pictureq := queue.NewFrameQueue[decode.VideoPayload](pktq, 3, true)
	vidclk := clock.New(func() int { return pktq.Serial() })
	extclk := clock.New(nil)

	var expiredCalls int
	sched := New(pictureq, subq, Clocks{
		Video:         vidclk,
		External:      extclk,
		IsVideoMaster: func() bool { return true },
		MasterReading: func() float64 { return extclk.Get() },
	}, Config{OnSubtitleExpired: func(int) { expiredCalls++ }, VideoQueueSerial: pktq.Serial})

	slot, ok := subq.PeekWritable()
	require.True(t, ok)
	slot.PTS = 0.0
	slot.Serial = 0
	slot.Uploaded = true
	slot.Payload = decode.SubtitlePayload{EndDisplay: 1.0}
	subq.Push()

	pushPicture(t, pictureq, 5.0, 0.04, 0)
	sched.Tick(1000.0)

	assert.Equal(t, 0, subq.NbRemaining(), "subtitle past its end-display time must be discarded")
	assert.Equal(t, 1, expiredCalls)
}

func TestScheduler_CurrentPictureNilWhenNoVideo(t *testing.T) {
	sched := New(nil, nil, Clocks{}, Config{})
	assert.Nil(t, sched.CurrentPicture())
	_, refreshed := sched.Tick(0)
	assert.False(t, refreshed)
}

func TestScheduler_CascadingFrameDropsWhenBehind(t *testing.T) {
	pktq := queue.NewPacketQueue()
	pictureq := queue.NewFrameQueue[decode.VideoPayload](pktq, 3, true)
	vidclk := clock.New(func() int { return pktq.Serial() })
	extclk := clock.New(nil)

	sched := New(pictureq, nil, Clocks{
		Video:         vidclk,
		External:      extclk,
		IsVideoMaster: func() bool { return false }, // video is slave, audio/ext leads far ahead
		MasterReading: func() float64 { return 100.0 },
	}, Config{Framedrop: FramedropForced, VideoQueueSerial: pktq.Serial})

	pushPicture(t, pictureq, 0.0, 0.04, 0)
	pushPicture(t, pictureq, 0.04, 0.04, 0)
	pushPicture(t, pictureq, 0.08, 0.04, 0)

	sched.Tick(1000.0) // commit first frame
	_, refreshed := sched.Tick(1000.1)
	assert.True(t, refreshed)
	assert.Greater(t, sched.FrameDropsLate, 0, "far-behind video slave should drop frames catching up")
}

func TestFrameDurationFallsBackBeyondMax(t *testing.T) {
	a := &queue.Entry[int]{FrameMeta: queue.FrameMeta{PTS: 0, Duration: 0.5, Serial: 1}}
	b := &queue.Entry[int]{FrameMeta: queue.FrameMeta{PTS: 20, Serial: 1}}
	assert.Equal(t, 0.5, frameDuration(a, b, 10.0))

	b.PTS = math.NaN()
	assert.Equal(t, 0.5, frameDuration(a, b, 10.0))
}
