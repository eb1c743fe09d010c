package services

import (
	"sync"
	"sync/atomic"

	"vidrelay/internal/core/domain"
)

// FrameQueue is the hand-off between the capture task and the encode task.
// Push never blocks. With a non-zero limit the oldest queued frame is
// dropped (and released) to make room, so memory stays bounded when the
// encoder falls behind.
type FrameQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames []*domain.Frame
	head   int
	quit   bool
	limit  int

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewFrameQueue creates a queue. limit <= 0 means unbounded.
func NewFrameQueue(limit int) *FrameQueue {
	q := &FrameQueue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a frame and wakes one waiter. After WakeAndQuit the frame is
// released immediately.
func (q *FrameQueue) Push(frame *domain.Frame) {
	q.mu.Lock()
	if q.quit {
		q.mu.Unlock()
		frame.Release()
		return
	}

	var evicted *domain.Frame
	if q.limit > 0 && q.lenLocked() >= q.limit {
		evicted = q.frames[q.head]
		q.frames[q.head] = nil
		q.head++
		q.dropped.Add(1)
	}
	q.frames = append(q.frames, frame)
	q.compactLocked()
	q.pushed.Add(1)
	q.cond.Signal()
	q.mu.Unlock()

	evicted.Release()
}

// Pop blocks until a frame is available or the queue is told to quit. It
// returns false once quit has been signalled, even if frames remain.
func (q *FrameQueue) Pop() (*domain.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.lenLocked() == 0 && !q.quit {
		q.cond.Wait()
	}
	if q.quit {
		return nil, false
	}

	frame := q.frames[q.head]
	q.frames[q.head] = nil
	q.head++
	q.compactLocked()
	return frame, true
}

// WakeAndQuit closes the queue for good and wakes every waiter. Frames still
// queued are released. Calling it again has no further effect.
func (q *FrameQueue) WakeAndQuit() {
	q.mu.Lock()
	if q.quit {
		q.mu.Unlock()
		return
	}
	q.quit = true
	pending := q.frames[q.head:]
	q.frames = nil
	q.head = 0
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, f := range pending {
		f.Release()
	}
}

func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *FrameQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.quit
}

func (q *FrameQueue) Pushed() uint64  { return q.pushed.Load() }
func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }

func (q *FrameQueue) lenLocked() int { return len(q.frames) - q.head }

// compactLocked reclaims the consumed prefix once it dominates the slice.
func (q *FrameQueue) compactLocked() {
	if q.head == 0 {
		return
	}
	if q.head == len(q.frames) {
		q.frames = q.frames[:0]
		q.head = 0
		return
	}
	if q.head >= 64 && q.head*2 >= len(q.frames) {
		n := copy(q.frames, q.frames[q.head:])
		clear(q.frames[n:])
		q.frames = q.frames[:n]
		q.head = 0
	}
}
