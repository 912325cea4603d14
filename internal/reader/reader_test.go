package reader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/veltra/playengine/internal/queue"
)

func TestShouldApplyBackpressure_EmptyQueuesNeverBackpressure(t *testing.T) {
	pktq := queue.NewPacketQueue()
	r := &Reader{
		streams: []StreamHandle{{Index: 0, PacketQueue: pktq}},
	}
	assert.False(t, r.shouldApplyBackpressure())
}

func TestShouldApplyBackpressure_EnoughPacketsAndDuration(t *testing.T) {
	pktq := queue.NewPacketQueue()
	for i := 0; i < MinFrames+1; i++ {
		pktq.Put(queue.Packet{Kind: queue.KindData, Duration: 100 * time.Millisecond})
	}
	r := &Reader{
		streams: []StreamHandle{{Index: 0, PacketQueue: pktq}},
	}
	assert.True(t, r.shouldApplyBackpressure())
}

func TestShouldApplyBackpressure_InfiniteBufferNeverBlocks(t *testing.T) {
	pktq := queue.NewPacketQueue()
	for i := 0; i < 10_000; i++ {
		pktq.Put(queue.Packet{Kind: queue.KindData, Bytes: 4096, Duration: time.Second})
	}
	r := &Reader{
		cfg:     Config{InfiniteBuffer: true},
		streams: []StreamHandle{{Index: 0, PacketQueue: pktq}},
	}
	assert.False(t, r.shouldApplyBackpressure())
}

func TestShouldApplyBackpressure_TotalSizeExceedsMax(t *testing.T) {
	pktq := queue.NewPacketQueue()
	pktq.Put(queue.Packet{Kind: queue.KindData, Bytes: MaxQueueSize + 1})
	r := &Reader{
		streams: []StreamHandle{{Index: 0, PacketQueue: pktq}},
	}
	assert.True(t, r.shouldApplyBackpressure())
}

func TestAllStreamsFinished_RequiresFinishedAndDrainedQueues(t *testing.T) {
	pktq := queue.NewPacketQueue()
	pktq.Put(queue.Packet{Kind: queue.KindEOS})
	serial := pktq.Serial()

	r := &Reader{
		streams: []StreamHandle{{
			Index:           0,
			PacketQueue:     pktq,
			Finished:        func() int { return serial },
			FrameQueueEmpty: func() bool { return true },
		}},
	}
	assert.True(t, r.allStreamsFinished())
}

func TestAllStreamsFinished_FalseWhenFrameQueueStillHasData(t *testing.T) {
	pktq := queue.NewPacketQueue()
	serial := pktq.Serial()

	r := &Reader{
		streams: []StreamHandle{{
			Index:           0,
			PacketQueue:     pktq,
			Finished:        func() int { return serial },
			FrameQueueEmpty: func() bool { return false },
		}},
	}
	assert.False(t, r.allStreamsFinished())
}

func TestServiceSeek_ByBytesReturnsUnsupported(t *testing.T) {
	r := &Reader{}
	err := r.serviceSeek(SeekRequest{ByBytes: true})
	assert.ErrorIs(t, err, ErrSeekByBytesUnsupported)
}

func TestServiceSeek_RelativeAddsToPosition(t *testing.T) {
	pktq := queue.NewPacketQueue()
	var rewoundTo time.Duration
	var committed float64
	r := &Reader{
		streams: []StreamHandle{{
			Index:       0,
			PacketQueue: pktq,
			Rewind: func(d time.Duration) error {
				rewoundTo = d
				return nil
			},
		}},
		cb: Callbacks{
			Position:        func() time.Duration { return 5 * time.Second },
			OnSeekCommitted: func(secs float64, byBytes bool) { committed = secs },
		},
	}
	err := r.serviceSeek(SeekRequest{Pos: 2 * time.Second, Relative: true})
	assert.NoError(t, err)
	assert.Equal(t, 7*time.Second, rewoundTo)
	assert.InDelta(t, 7.0, committed, 1e-9)
}

func TestServiceSeek_NegativeClampedToZero(t *testing.T) {
	pktq := queue.NewPacketQueue()
	var rewoundTo time.Duration = -1
	r := &Reader{
		streams: []StreamHandle{{
			Index:       0,
			PacketQueue: pktq,
			Rewind: func(d time.Duration) error {
				rewoundTo = d
				return nil
			},
		}},
		cb: Callbacks{Position: func() time.Duration { return time.Second }},
	}
	err := r.serviceSeek(SeekRequest{Pos: -5 * time.Second, Relative: true})
	assert.NoError(t, err)
	assert.Equal(t, time.Duration(0), rewoundTo)
}

func TestServiceSeek_BumpsPacketQueueSerial(t *testing.T) {
	pktq := queue.NewPacketQueue()
	before := pktq.Serial()
	r := &Reader{
		streams: []StreamHandle{{
			Index:       0,
			PacketQueue: pktq,
			Rewind:      func(time.Duration) error { return nil },
		}},
	}
	assert.NoError(t, r.serviceSeek(SeekRequest{Pos: 0}))
	assert.Greater(t, pktq.Serial(), before)
}

func TestRequestSeek_KeepsPendingUntilServiced(t *testing.T) {
	r := &Reader{}
	r.RequestSeek(SeekRequest{Pos: time.Second})
	r.RequestSeek(SeekRequest{Pos: 2 * time.Second})
	assert.Equal(t, time.Second, r.pendingSeek.Pos)
}
