package tracking

import (
	"fmt"
	"sync"
)

// FrameQueue is a synchronized double queue of frames.
//
// The active queue is the one frames are dequeued from during a replay. The
// shadow queue only collects: it holds every frame seen since the last Start,
// so that a restarted replay can rebase onto the complete history of the
// current cycle even when the active queue was partially drained by an
// earlier one.
type FrameQueue struct {
	mu     sync.Mutex
	active []Frame
	shadow []Frame
}

// NewFrameQueue creates an empty, not yet started queue
func NewFrameQueue() *FrameQueue {
	return &FrameQueue{}
}

// Start begins a new cycle: the shadow queue is reset to frame, and frame is
// also pushed onto the active queue so that a replay still draining it keeps
// running into the new cycle.
func (q *FrameQueue) Start(frame Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.shadow = []Frame{frame}
	q.active = append(q.active, frame)

	debugMsgVerbose("QUEUE", fmt.Sprintf("Started with frame #%d (active=%d)", frame.Seq, len(q.active)))
}

// Enqueue adds frame to both queues. When the active queue is empty (never
// started, or fully drained by a replay) the frame is discarded.
func (q *FrameQueue) Enqueue(frame Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.active) == 0 {
		return
	}
	q.active = append(q.active, frame)
	q.shadow = append(q.shadow, frame)
}

// Rebase replaces the active queue with a copy of the shadow queue
func (q *FrameQueue) Rebase() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.active = append(make([]Frame, 0, len(q.shadow)), q.shadow...)
}

// Dequeue removes and returns the front of the active queue. ok is false when
// the active queue is empty.
func (q *FrameQueue) Dequeue() (frame Frame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.active) == 0 {
		return Frame{}, false
	}
	frame = q.active[0]
	q.active[0] = Frame{}
	q.active = q.active[1:]
	return frame, true
}

// PeekFirst returns the frame that started the current cycle
func (q *FrameQueue) PeekFirst() (frame Frame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.shadow) == 0 {
		return Frame{}, false
	}
	return q.shadow[0], true
}

// Len returns the sizes of the active and shadow queues
func (q *FrameQueue) Len() (active, shadow int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.active), len(q.shadow)
}
