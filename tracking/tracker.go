package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"labelcam/observe"
)

// Tracker owns the authoritative object estimate.
//
// Update advances the estimate on every frame. When a recognition result
// arrives late, Actualize replays the frames buffered since its cycle began
// on a background goroutine and commits the caught-up state atomically.
type Tracker struct {
	cfg          Config
	flow         FeatureTracker
	queue        *FrameQueue
	metrics      *observe.Metrics
	onActualized func(ActualizationFinished)

	mu    sync.RWMutex
	state TrackerState
	gen   uint64 // bumped on every commit
	phase Phase
	cycle uuid.UUID
	act   *task // in-flight replay

	// serialises Actualize; always taken before mu
	actualizeMu sync.Mutex
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithQueue makes the tracker buffer into q instead of a private queue
func WithQueue(q *FrameQueue) TrackerOption {
	return func(t *Tracker) {
		t.queue = q
	}
}

// WithMetrics sets the metrics instance (default: observe.DefaultMetrics)
func WithMetrics(m *observe.Metrics) TrackerOption {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithActualizedHook registers fn to be called after each committed replay
func WithActualizedHook(fn func(ActualizationFinished)) TrackerOption {
	return func(t *Tracker) {
		t.onActualized = fn
	}
}

// NewTracker creates an idle tracker with an empty object
func NewTracker(flow FeatureTracker, cfg Config, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		cfg:  cfg.withDefaults(),
		flow: flow,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.queue == nil {
		t.queue = NewFrameQueue()
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// Update advances the committed state to frame and returns the new object.
// While a cycle is open the frame is also buffered for a later replay.
func (t *Tracker) Update(frame Frame) Object {
	start := time.Now()
	ctx := context.Background()

	t.queue.Enqueue(frame)

	for {
		t.mu.RLock()
		snap := t.state
		gen := t.gen
		t.mu.RUnlock()

		res := step(t.flow, t.cfg, snap.Object, snap.Frame, snap.Features, frame)

		t.mu.Lock()
		if t.gen != gen {
			// a replay committed while we were stepping: redo against it
			t.mu.Unlock()
			debugMsgVerbose("TRACKER", fmt.Sprintf("State moved during update of #%d, retrying", frame.Seq))
			continue
		}
		t.state = TrackerState{Object: res.object, Frame: frame, Features: res.features}
		t.gen++
		out := res.object.Clone()
		cycle := t.cycle
		t.mu.Unlock()

		for _, name := range res.lost {
			debugMsg("TRACKER", fmt.Sprintf("Lost label %s on frame #%d", name, frame.Seq), cycle.String())
		}
		t.metrics.LabelsLost.Add(ctx, int64(len(res.lost)))
		t.metrics.TrackedLabels.Record(ctx, int64(out.Len()))
		_, depth := t.queue.Len()
		t.metrics.QueueDepth.Record(ctx, int64(depth))
		t.metrics.UpdateDuration.Record(ctx, time.Since(start).Seconds())
		return out
	}
}

// BeginBuffering opens a new cycle starting at frame. A replay still running
// is cancelled but not waited for: it can no longer commit.
func (t *Tracker) BeginBuffering(frame Frame, cycle uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.act != nil {
		t.act.Cancel()
		t.act = nil
		debugMsg("TRACKER", "New cycle supersedes running actualization", cycle.String())
	}
	t.phase = PhaseBuffering
	t.cycle = cycle
	// under mu so that a cancelled replay cannot dequeue from the new cycle
	t.queue.Start(frame)

	debugMsgVerbose("TRACKER", fmt.Sprintf("Buffering from frame #%d", frame.Seq), cycle.String())
}

// Actualize reconciles a recognition result computed on an earlier frame with
// everything buffered since, in the background. A replay already running is
// cancelled and joined first, then the queue is rebased so the new replay
// covers the full history of the current cycle.
func (t *Tracker) Actualize(result RecognitionResult) {
	t.actualizeMu.Lock()
	defer t.actualizeMu.Unlock()

	t.mu.Lock()
	prev := t.act
	t.act = nil
	if prev != nil {
		prev.Cancel()
	}
	t.mu.Unlock()
	if prev != nil {
		prev.Join()
	}

	t.queue.Rebase()
	baseline, ok := t.queue.PeekFirst()
	if !ok {
		t.commitDirect(result)
		return
	}
	if baseline.Seq != result.Frame.Seq {
		debugMsg("TRACKER", fmt.Sprintf("Result computed on frame #%d, cycle began at #%d", result.Frame.Seq, baseline.Seq), result.Cycle.String())
	}

	t.mu.Lock()
	t.phase = PhaseActualizing
	t.act = startTask(func(ctx context.Context, self *task) {
		t.replay(ctx, self, result, baseline)
	})
	t.mu.Unlock()
}

// commitDirect installs result as is when there is no history to replay
func (t *Tracker) commitDirect(result RecognitionResult) {
	features := detect(t.flow, result.Frame)
	obj := result.Object.Clone()

	t.mu.Lock()
	t.state = TrackerState{Object: obj, Frame: result.Frame, Features: features}
	t.gen++
	t.phase = PhaseIdle
	t.mu.Unlock()

	debugMsg("TRACKER", fmt.Sprintf("Committed %d labels without replay", obj.Len()), result.Cycle.String())
	t.notifyActualized(ActualizationFinished{Cycle: result.Cycle, Object: obj.Clone()})
}

// replay steps result through the buffered frames and commits the outcome
// unless cancelled first
func (t *Tracker) replay(ctx context.Context, self *task, result RecognitionResult, baseline Frame) {
	start := time.Now()
	cycle := result.Cycle.String()

	object := result.Object.Clone()
	frame := baseline
	features := detect(t.flow, baseline)
	steps := 0
	var lost []string

	for first := true; ; first = false {
		next, ok, cancelled := t.nextReplayFrame(ctx)
		if cancelled {
			t.abortReplay(result, steps)
			return
		}
		if !ok {
			break
		}
		if first && next.Seq == baseline.Seq {
			// the cycle's own frame is the starting point, not a step
			continue
		}
		res := step(t.flow, t.cfg, object, frame, features, next)
		object, features, frame = res.object, res.features, next
		lost = append(lost, res.lost...)
		steps++
	}

	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		t.abortReplay(result, steps)
		return
	}
	t.state = TrackerState{Object: object, Frame: frame, Features: features}
	t.gen++
	if t.act == self {
		t.act = nil
		t.phase = PhaseIdle
	}
	t.mu.Unlock()

	elapsed := time.Since(start)
	for _, name := range lost {
		debugMsg("TRACKER", fmt.Sprintf("Lost label %s during replay", name), cycle)
	}
	debugMsg("TRACKER", fmt.Sprintf("Actualized %d labels over %d frames in %v", object.Len(), steps, elapsed), cycle)

	bg := context.Background()
	t.metrics.ReplayedFrames.Add(bg, int64(steps))
	t.metrics.LabelsLost.Add(bg, int64(len(lost)))
	t.metrics.ActualizationDuration.Record(bg, elapsed.Seconds())
	t.metrics.TrackedLabels.Record(bg, int64(object.Len()))

	t.notifyActualized(ActualizationFinished{
		Cycle:    result.Cycle,
		Object:   object.Clone(),
		Replayed: steps,
		Duration: elapsed,
	})
}

// nextReplayFrame dequeues the next buffered frame. The cancellation check and
// the dequeue happen under the state lock, which BeginBuffering holds while it
// cancels and restarts the queue.
func (t *Tracker) nextReplayFrame(ctx context.Context) (frame Frame, ok, cancelled bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if ctx.Err() != nil {
		return Frame{}, false, true
	}
	frame, ok = t.queue.Dequeue()
	return frame, ok, false
}

func (t *Tracker) abortReplay(result RecognitionResult, steps int) {
	debugMsg("TRACKER", fmt.Sprintf("Actualization cancelled after %d frames", steps), result.Cycle.String())
	t.metrics.ActualizationsCancelled.Add(context.Background(), 1)
}

func (t *Tracker) notifyActualized(msg ActualizationFinished) {
	if t.onActualized != nil {
		t.onActualized(msg)
	}
}

// GetObject returns a copy of the committed object
func (t *Tracker) GetObject() Object {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Object.Clone()
}

// State returns a copy of the committed state
func (t *Tracker) State() TrackerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Clone()
}

// Phase returns the current phase
func (t *Tracker) Phase() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase
}

// Queue returns the frame queue the tracker buffers into
func (t *Tracker) Queue() *FrameQueue {
	return t.queue
}

// Join waits for the in-flight replay, if any
func (t *Tracker) Join() {
	t.mu.RLock()
	act := t.act
	t.mu.RUnlock()

	if act != nil {
		act.Join()
	}
}

// Close cancels the in-flight replay and waits for it to exit
func (t *Tracker) Close() {
	t.actualizeMu.Lock()
	defer t.actualizeMu.Unlock()

	t.mu.Lock()
	act := t.act
	t.act = nil
	if act != nil {
		act.Cancel()
	}
	t.mu.Unlock()

	if act != nil {
		act.Join()
	}
}
