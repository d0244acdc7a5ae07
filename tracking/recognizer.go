package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"labelcam/observe"
)

// Recognizer runs the slow Matcher on a background goroutine, one request at a time
type Recognizer struct {
	mu      sync.Mutex
	matcher Matcher
	current *task
	metrics *observe.Metrics
}

// NewRecognizer creates a recognizer around matcher. A nil matcher is allowed:
// every recognition then reports a miss until SetMatcher is called.
func NewRecognizer(matcher Matcher, metrics *observe.Metrics) *Recognizer {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Recognizer{
		matcher: matcher,
		metrics: metrics,
	}
}

// SetMatcher swaps the matcher used by subsequent recognitions. A recognition
// already running keeps the matcher it started with.
func (r *Recognizer) SetMatcher(m Matcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matcher = m
}

// IsRunning reports whether a recognition is in flight
func (r *Recognizer) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningLocked()
}

func (r *Recognizer) runningLocked() bool {
	return r.current != nil && r.current.Running()
}

// Start launches a recognition of frame. It returns false, and does nothing,
// when another recognition is still running. onDone receives the result on
// the background goroutine before the recognizer reports itself idle again.
func (r *Recognizer) Start(frame Frame, cycle uuid.UUID, onDone func(RecognitionResult)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runningLocked() {
		debugMsgVerbose("RECOGNIZER", fmt.Sprintf("Busy, dropping request for frame #%d", frame.Seq), cycle.String())
		return false
	}

	matcher := r.matcher
	r.current = startTask(func(ctx context.Context, _ *task) {
		start := time.Now()
		result := runMatch(matcher, frame, cycle)
		elapsed := time.Since(start)

		status := observe.StatusFound
		switch {
		case result.Err != nil:
			status = observe.StatusFailed
			debugMsg("RECOGNIZER", fmt.Sprintf("Match on frame #%d failed: %v", frame.Seq, result.Err), cycle.String())
		case result.Empty():
			status = observe.StatusMiss
			debugMsg("RECOGNIZER", fmt.Sprintf("Nothing found on frame #%d (%v)", frame.Seq, elapsed), cycle.String())
		default:
			debugMsg("RECOGNIZER", fmt.Sprintf("Found %d labels on frame #%d (%v)", result.Object.Len(), frame.Seq, elapsed), cycle.String())
		}
		r.metrics.RecognitionDuration.Record(ctx, elapsed.Seconds())
		r.metrics.RecordRecognition(ctx, status)

		if onDone != nil {
			onDone(result)
		}
	})
	return true
}

// runMatch calls the matcher, turning errors and panics into an empty result
func runMatch(matcher Matcher, frame Frame, cycle uuid.UUID) (result RecognitionResult) {
	result = RecognitionResult{Frame: frame, Cycle: cycle}
	if matcher == nil {
		result.Err = fmt.Errorf("no matcher configured")
		return result
	}

	defer func() {
		if p := recover(); p != nil {
			result.Object = Object{}
			result.Err = fmt.Errorf("matcher panic: %v", p)
		}
	}()

	obj, err := matcher.Match(frame)
	if err != nil {
		result.Err = err
		return result
	}
	result.Object = obj.Clone()
	return result
}

// Join waits for the running recognition, if any, to finish
func (r *Recognizer) Join() {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()

	if cur != nil {
		cur.Join()
	}
}
