package audio

import (
	"sync/atomic"
	"time"
)

// DefaultPollTimeout is how long [Queue.Pop] waits for a chunk before
// returning so the consumer can re-check its stop signal.
const DefaultPollTimeout = 200 * time.Millisecond

// Queue is a fixed-capacity FIFO of [Chunk] values connecting one capture
// goroutine (producer) to one recognition goroutine (consumer).
//
// Push never blocks: when the queue is full the incoming (newest) chunk is
// dropped. Capture continuity takes priority over decoding every chunk.
type Queue struct {
	ch      chan Chunk
	pushed  atomic.Int64
	dropped atomic.Int64
}

// NewQueue returns a queue holding at most capacity chunks. A capacity below
// one is raised to one.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan Chunk, capacity)}
}

// Push enqueues c without blocking. It reports false when the queue was full
// and c was dropped.
func (q *Queue) Push(c Chunk) bool {
	select {
	case q.ch <- c:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop waits up to timeout for the oldest chunk. ok is false when the timeout
// elapsed with the queue empty. A non-positive timeout polls once.
func (q *Queue) Pop(timeout time.Duration) (c Chunk, ok bool) {
	select {
	case c = <-q.ch:
		return c, true
	default:
	}
	if timeout <= 0 {
		return Chunk{}, false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c = <-q.ch:
		return c, true
	case <-timer.C:
		return Chunk{}, false
	}
}

// Len returns the number of chunks currently queued.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Pushed returns the number of chunks accepted since creation.
func (q *Queue) Pushed() int64 { return q.pushed.Load() }

// Dropped returns the number of chunks discarded because the queue was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }
