package buffer

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/biofeedback/pkg/frame"
)

// defaultHighWater is the queue depth at which a backlog warning is logged.
const defaultHighWater = 300

// FrameQueue is an unbounded FIFO of owned frame handles. Pop transfers
// ownership to the caller; Drain releases everything still queued.
//
// The queue has no capacity bound: if the consumer stalls while capture
// keeps pushing, it grows without limit. A warning is logged each time the
// depth crosses the high-water mark.
//
// FrameQueue is safe for concurrent use.
type FrameQueue struct {
	mu        sync.Mutex
	frames    []*frame.Frame
	highWater int
	warned    bool
	name      string
}

// NewFrameQueue creates an empty queue. name labels log messages.
func NewFrameQueue(name string) *FrameQueue {
	return &FrameQueue{name: name, highWater: defaultHighWater}
}

// Push appends f to the tail. The queue takes ownership of f.
func (q *FrameQueue) Push(f *frame.Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, f)
	depth := len(q.frames)
	warn := depth >= q.highWater && !q.warned
	if warn {
		q.warned = true
	}
	q.mu.Unlock()

	if warn {
		slog.Warn("frame queue backlog: consumer is falling behind capture",
			"queue", q.name, "depth", depth)
	}
}

// Pop removes and returns the head frame, transferring ownership to the
// caller. It never blocks; ok is false when the queue is empty.
func (q *FrameQueue) Pop() (f *frame.Frame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return nil, false
	}
	f = q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	if len(q.frames) == 0 {
		// Let the backing array go instead of creeping forward forever.
		q.frames = nil
	}
	if len(q.frames) < q.highWater/2 {
		q.warned = false
	}
	return f, true
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Drain releases every queued frame and empties the queue. It returns the
// number of frames released. Safe to call on an empty queue.
func (q *FrameQueue) Drain() int {
	q.mu.Lock()
	frames := q.frames
	q.frames = nil
	q.warned = false
	q.mu.Unlock()

	n := 0
	for _, f := range frames {
		if f.Release() {
			n++
		}
	}
	return n
}
