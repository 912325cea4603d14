package queue

import (
	"sync"
)

// FrameMeta is the metadata every decoded frame carries, independent of its
// payload type (video pixels, audio samples, subtitle regions).
type FrameMeta struct {
	Serial   int
	PTS      float64 // seconds, math.NaN() if unknown
	Duration float64 // seconds, estimated
	Pos      int64   // source byte offset, -1 if unknown
	Uploaded bool
}

// Entry is one slot of a FrameQueue: metadata plus the type-specific
// payload T (e.g. decoded image planes, PCM samples, subtitle regions).
type Entry[T any] struct {
	FrameMeta
	Payload T
}

// FrameQueue is a fixed-capacity ring buffer of decoded frames, generic over
// the payload type so the same implementation backs the video, audio and
// subtitle pipelines. It mirrors ffplay's frame_queue: a slot can be held
// "shown but not yet freed" (RindexShown) so that PeekLast keeps working
// for one extra frame after a consumer advances, which is what "keepLast"
// enables for the video and subtitle queues (but not audio).
type FrameQueue[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	items       []Entry[T]
	rindex      int
	windex      int
	size        int
	maxSize     int
	rindexShown int
	keepLast    bool

	pktq *PacketQueue // back-reference, for abort propagation only
}

// NewFrameQueue creates a queue with maxSize slots, backed by pktq for
// abort propagation. keepLast enables the "peek last" semantics used by the
// picture and subtitle queues (maxSize 3 and 16 respectively in this
// engine); the audio queue (maxSize 9) passes keepLast=false.
func NewFrameQueue[T any](pktq *PacketQueue, maxSize int, keepLast bool) *FrameQueue[T] {
	q := &FrameQueue[T]{
		items:    make([]Entry[T], maxSize),
		maxSize:  maxSize,
		keepLast: keepLast,
		pktq:     pktq,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// aborted reports whether the backing packet queue has been aborted. Must
// be called with q.mu held.
func (q *FrameQueue[T]) aborted() bool {
	return q.pktq.Aborted()
}

// PeekWritable blocks while the queue is full and the backing packet queue
// is not aborted, then returns a pointer to the next slot to fill. ok is
// false if the wait ended due to abort.
func (q *FrameQueue[T]) PeekWritable() (slot *Entry[T], ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size >= q.maxSize && !q.aborted() {
		q.cond.Wait()
	}
	if q.aborted() {
		return nil, false
	}
	return &q.items[q.windex], true
}

// Push commits the slot last returned by PeekWritable: advances windex
// cyclically, increments size, and wakes one blocked reader.
func (q *FrameQueue[T]) Push() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.windex = (q.windex + 1) % q.maxSize
	q.size++
	q.cond.Signal()
}

// PeekReadable blocks while there is nothing new to read (size-rindexShown
// <= 0) and the backing packet queue is not aborted, then returns the next
// readable slot. ok is false if the wait ended due to abort.
func (q *FrameQueue[T]) PeekReadable() (slot *Entry[T], ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size-q.rindexShown <= 0 && !q.aborted() {
		q.cond.Wait()
	}
	if q.aborted() {
		return nil, false
	}
	idx := (q.rindex + q.rindexShown) % q.maxSize
	return &q.items[idx], true
}

// TryPeekReadable is the non-blocking counterpart of PeekReadable: it never
// waits, returning ok=false immediately if nothing is ready yet. This is
// what the audio render callback uses.
func (q *FrameQueue[T]) TryPeekReadable() (slot *Entry[T], ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size-q.rindexShown <= 0 {
		return nil, false
	}
	idx := (q.rindex + q.rindexShown) % q.maxSize
	return &q.items[idx], true
}

// Peek returns, without blocking or removing, the slot a reader would get
// from PeekReadable.
func (q *FrameQueue[T]) Peek() *Entry[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := (q.rindex + q.rindexShown) % q.maxSize
	return &q.items[idx]
}

// PeekNext returns the slot after Peek(). Its contents are unspecified if
// fewer than two frames remain.
func (q *FrameQueue[T]) PeekNext() *Entry[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := (q.rindex + q.rindexShown + 1) % q.maxSize
	return &q.items[idx]
}

// PeekLast returns the slot at rindex: the most recently shown frame. Only
// meaningful when the queue was constructed with keepLast=true.
func (q *FrameQueue[T]) PeekLast() *Entry[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return &q.items[q.rindex]
}

// Next advances the read position. If keepLast is enabled and the current
// head has not yet been marked shown, it is marked shown in place (so
// PeekLast keeps returning it) instead of being freed. Otherwise the frame
// at rindex is released, rindex advances cyclically, size decrements, and
// one blocked writer is woken.
func (q *FrameQueue[T]) Next() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.keepLast && q.rindexShown == 0 {
		q.rindexShown = 1
		return
	}
	q.items[q.rindex] = Entry[T]{}
	q.rindex = (q.rindex + 1) % q.maxSize
	q.size--
	q.cond.Signal()
}

// NbRemaining returns size - rindexShown: how many frames are available to
// a reader beyond the one potentially pinned by keepLast.
func (q *FrameQueue[T]) NbRemaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size - q.rindexShown
}

// Signal wakes every blocked PeekWritable/PeekReadable caller; used when the
// backing packet queue is aborted.
func (q *FrameQueue[T]) Signal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cond.Broadcast()
}
