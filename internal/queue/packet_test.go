package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPacketQueue_PutGet_FIFO(t *testing.T) {
	q := NewPacketQueue()
	require.True(t, q.Put(Packet{Kind: KindData, StreamIndex: 0, Bytes: 10}))
	require.True(t, q.Put(Packet{Kind: KindData, StreamIndex: 0, Bytes: 20}))

	p1, res := q.Get(false)
	require.Equal(t, GetOK, res)
	assert.Equal(t, 10, p1.Bytes)

	p2, res := q.Get(false)
	require.Equal(t, GetOK, res)
	assert.Equal(t, 20, p2.Bytes)

	_, res = q.Get(false)
	assert.Equal(t, GetEmpty, res)
}

func TestPacketQueue_FlushBumpsSerialOnlyViaMarker(t *testing.T) {
	q := NewPacketQueue()
	require.True(t, q.Put(Packet{Kind: KindData}))
	assert.Equal(t, 0, q.Serial())

	q.Flush()
	assert.Equal(t, 0, q.Serial(), "Flush alone must not bump the serial")
	assert.Equal(t, 0, q.NbPackets())
	assert.Equal(t, 0, q.Size())

	q.Start()
	assert.Equal(t, 1, q.Serial(), "Start enqueues a flush marker, bumping serial")

	pkt, res := q.Get(false)
	require.Equal(t, GetOK, res)
	assert.Equal(t, KindFlush, pkt.Kind)
	assert.Equal(t, 1, pkt.Serial)
}

func TestPacketQueue_AbortWakesBlockedGet(t *testing.T) {
	q := NewPacketQueue()
	done := make(chan GetResult, 1)
	go func() {
		_, res := q.Get(true)
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	q.Abort()

	select {
	case res := <-done:
		assert.Equal(t, GetAborted, res)
	case <-time.After(time.Second):
		t.Fatal("Get did not return within 1s of Abort")
	}
}

func TestPacketQueue_SizeAccounting(t *testing.T) {
	q := NewPacketQueue()
	require.True(t, q.Put(Packet{Kind: KindData, Bytes: 100}))
	require.True(t, q.Put(Packet{Kind: KindData, Bytes: 200}))
	assert.Equal(t, 2, q.NbPackets())
	assert.Equal(t, 100+200+2*perPacketOverhead, q.Size())

	q.Flush()
	assert.Equal(t, 0, q.NbPackets())
	assert.Equal(t, 0, q.Size())
}

// TestPacketQueue_SerialMonotonic checks that serial
// is non-decreasing and increments exactly once per enqueued flush marker.
func TestPacketQueue_SerialMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := NewPacketQueue()
		flushes := rapid.IntRange(0, 50).Draw(t, "flushes")
		prevSerial := 0
		for i := 0; i < flushes; i++ {
			nData := rapid.IntRange(0, 5).Draw(t, "nData")
			for j := 0; j < nData; j++ {
				q.Put(Packet{Kind: KindData})
			}
			q.Put(Packet{Kind: KindFlush})
			cur := q.Serial()
			if cur != prevSerial+1 {
				t.Fatalf("serial did not increment exactly once per flush: prev=%d cur=%d", prevSerial, cur)
			}
			prevSerial = cur
		}
	})
}

// TestPacketQueue_SizeInvariant is property 3: size/nb_packets accounting
// stays consistent and returns to 0 after Flush.
func TestPacketQueue_SizeInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := NewPacketQueue()
		n := rapid.IntRange(0, 30).Draw(t, "n")
		want := 0
		for i := 0; i < n; i++ {
			b := rapid.IntRange(0, 1000).Draw(t, "bytes")
			q.Put(Packet{Kind: KindData, Bytes: b})
			want += b + perPacketOverhead
		}
		if q.Size() != want {
			t.Fatalf("size mismatch: got %d want %d", q.Size(), want)
		}
		if q.NbPackets() != n {
			t.Fatalf("nb_packets mismatch: got %d want %d", q.NbPackets(), n)
		}
		q.Flush()
		if q.Size() != 0 || q.NbPackets() != 0 {
			t.Fatalf("flush did not reset accounting: size=%d nb=%d", q.Size(), q.NbPackets())
		}
	})
}
