// Package queue implements the bounded, serial-aware queues that sit between
// the reader, the per-stream decoders and the presentation side of the
// engine: a FIFO of demuxed packets per stream, and a small ring buffer of
// decoded frames per stream.
package queue

import (
	"sync"
	"time"
)

// Kind distinguishes a regular data entry from the two special markers a
// PacketQueue can carry: a flush marker (bumps the generation serial so
// stale downstream frames can be recognized) and an end-of-stream marker
// (tells the decoder to drain and report EOF for this stream).
type Kind uint8

const (
	KindData Kind = iota
	KindFlush
	KindEOS
)

// perPacketOverhead approximates the fixed bookkeeping cost ffplay adds per
// queued AVPacket (sizeof(AVPacket)) when accounting PacketQueue.size. reisen
// doesn't expose the raw packet byte length (see doc comment on Packet), so
// this is the only contribution to Size for most entries.
const perPacketOverhead = 64

// Packet is one entry of a PacketQueue.
//
// Unlike ffplay's AVPacket, this does not carry raw payload bytes: the
// decode library this engine is built on (reisen) demuxes and feeds a
// packet to its target stream's codec context in the same call that reads
// it, so by the time a Packet would be constructed the bytes have already
// been consumed. A Packet is therefore a decode *token*: it tells the
// decoder for StreamIndex that one more packet has been fed and it may try
// to pull a frame. Bytes is left available for future decode backends that
// can supply it and is zero-length under reisen.
type Packet struct {
	Kind        Kind
	StreamIndex int
	Bytes       int // declared size, for queue accounting; see perPacketOverhead
	PTS, DTS    time.Duration
	Duration    time.Duration
	Pos         int64 // source byte offset, or -1 if unknown
	Serial      int   // stamped by PacketQueue.Put
}

// GetResult is the outcome of a non-blocking or aborted PacketQueue.Get.
type GetResult uint8

const (
	GetOK GetResult = iota
	GetEmpty
	GetAborted
)

// PacketQueue is a FIFO of Packet entries shared by one reader producer and
// one decoder consumer. It tracks a generation Serial, bumped whenever a
// flush marker is enqueued, so that consumers can recognize packets (and,
// transitively, frames) that predate the most recent flush.
type PacketQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items []Packet
	size  int // bytes + overhead, see perPacketOverhead
	dur   time.Duration

	serial       int
	abortRequest bool
}

// NewPacketQueue creates an empty, non-aborted queue.
func NewPacketQueue() *PacketQueue {
	q := &PacketQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends pkt, stamping it with the queue's current serial. If pkt.Kind
// is KindFlush, the serial is incremented first, so pkt itself (and
// everything after it) carries the new generation. Put fails only when the
// queue has been aborted.
func (q *PacketQueue) Put(pkt Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.abortRequest {
		return false
	}
	return q.putLocked(pkt)
}

func (q *PacketQueue) putLocked(pkt Packet) bool {
	if pkt.Kind == KindFlush {
		q.serial++
	}
	pkt.Serial = q.serial
	q.items = append(q.items, pkt)
	q.size += pkt.Bytes + perPacketOverhead
	q.dur += pkt.Duration
	q.cond.Signal()
	return true
}

// PutNull enqueues an end-of-stream sentinel for streamIndex: the decoder
// interprets it as "drain whatever is buffered and report EOF".
func (q *PacketQueue) PutNull(streamIndex int) bool {
	return q.Put(Packet{Kind: KindEOS, StreamIndex: streamIndex, Pos: -1})
}

// Get pops the head of the queue. If the queue is empty and block is true,
// it waits until a Put or an Abort occurs. If block is false and the queue
// is empty, it returns GetEmpty immediately.
func (q *PacketQueue) Get(block bool) (Packet, GetResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.abortRequest {
			return Packet{}, GetAborted
		}
		if len(q.items) > 0 {
			pkt := q.items[0]
			q.items = q.items[1:]
			q.size -= pkt.Bytes + perPacketOverhead
			q.dur -= pkt.Duration
			return pkt, GetOK
		}
		if !block {
			return Packet{}, GetEmpty
		}
		q.cond.Wait()
	}
}

// Flush discards all entries and resets size/duration/count accounting. It
// does not change Serial: callers that want downstream frames invalidated
// must also enqueue a flush marker (see Start).
func (q *PacketQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.size = 0
	q.dur = 0
}

// Start clears AbortRequest and enqueues a flush marker, bumping Serial so
// that any consumer blocked in Get wakes up and resynchronizes against the
// new generation.
func (q *PacketQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.abortRequest = false
	q.putLocked(Packet{Kind: KindFlush, Pos: -1})
}

// Abort sets AbortRequest and wakes every blocked producer/consumer.
func (q *PacketQueue) Abort() {
	q.mu.Lock()
	q.abortRequest = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Aborted reports whether Abort has been called.
func (q *PacketQueue) Aborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.abortRequest
}

// Serial returns the queue's current generation counter.
func (q *PacketQueue) Serial() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.serial
}

// NbPackets returns the number of queued entries.
func (q *PacketQueue) NbPackets() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Size returns the accounted byte size (payload + per-entry overhead) of
// everything currently queued.
func (q *PacketQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Duration returns the sum of queued entries' Duration fields.
func (q *PacketQueue) Duration() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dur
}
