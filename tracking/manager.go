package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"labelcam/observe"
)

// DefaultRecognitionPeriod is the number of frames between recognition triggers
const DefaultRecognitionPeriod = 50

// ManagerConfig configures a Manager
type ManagerConfig struct {
	// RecognitionPeriod is the minimum number of frames between two recognitions
	RecognitionPeriod int
	// Tracking tunes the per-frame update
	Tracking Config
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithObserver registers fn to receive every message the manager dispatches.
// fn runs on the goroutine that produced the message and must not block.
func WithObserver(fn func(Message)) ManagerOption {
	return func(m *Manager) {
		m.observers = append(m.observers, fn)
	}
}

// WithPainter sets the painter used by PaintObject
func WithPainter(p Painter) ManagerOption {
	return func(m *Manager) {
		m.painter = p
	}
}

// WithManagerMetrics sets the metrics shared by the manager and its components
func WithManagerMetrics(met *observe.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = met
	}
}

// Manager feeds frames to the Tracker, triggers the Recognizer every
// RecognitionPeriod frames and routes recognition results back to the Tracker.
type Manager struct {
	cfg        ManagerConfig
	tracker    *Tracker
	recognizer *Recognizer
	painter    Painter
	metrics    *observe.Metrics
	observers  []func(Message)

	mu                     sync.Mutex
	framesSinceRecognition int
	dropReported           bool
}

// NewManager creates a manager tracking with flow and recognizing with matcher.
// matcher may be nil until SetDatabase is called.
func NewManager(flow FeatureTracker, matcher Matcher, cfg ManagerConfig, opts ...ManagerOption) *Manager {
	if cfg.RecognitionPeriod <= 0 {
		cfg.RecognitionPeriod = DefaultRecognitionPeriod
	}
	m := &Manager{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}

	m.tracker = NewTracker(flow, cfg.Tracking,
		WithMetrics(m.metrics),
		WithActualizedHook(func(msg ActualizationFinished) { m.dispatch(msg) }),
	)
	m.recognizer = NewRecognizer(matcher, m.metrics)
	return m
}

// ElaborateFrame advances the tracked object to frame and, when due and the
// recognizer is idle, starts a recognition cycle on it. It never waits for
// recognition or actualization.
func (m *Manager) ElaborateFrame(frame Frame) Object {
	obj := m.tracker.Update(frame)

	var trigger, dropped bool
	m.mu.Lock()
	m.framesSinceRecognition++
	if m.framesSinceRecognition >= m.cfg.RecognitionPeriod {
		switch {
		case !m.recognizer.IsRunning():
			m.framesSinceRecognition = 0
			m.dropReported = false
			trigger = true
		case !m.dropReported:
			m.dropReported = true
			dropped = true
		}
	}
	m.mu.Unlock()

	if trigger {
		m.dispatch(RecognitionStarted{Frame: frame, Cycle: uuid.New()})
	}
	if dropped {
		m.dispatch(RecognitionDropped{Frame: frame})
	}
	return obj
}

// dispatch notifies observers, then routes msg to the component that handles it
func (m *Manager) dispatch(msg Message) {
	for _, fn := range m.observers {
		fn(msg)
	}

	switch msg := msg.(type) {
	case RecognitionStarted:
		debugMsg("MANAGER", fmt.Sprintf("Recognition triggered on frame #%d", msg.Frame.Seq), msg.Cycle.String())
		m.tracker.BeginBuffering(msg.Frame, msg.Cycle)
		started := m.recognizer.Start(msg.Frame, msg.Cycle, func(r RecognitionResult) {
			m.dispatch(RecognitionFinished{Result: r})
		})
		if !started {
			m.dispatch(RecognitionDropped{Frame: msg.Frame})
			return
		}
		m.metrics.RecordRecognition(context.Background(), observe.StatusStarted)
	case RecognitionFinished:
		m.tracker.Actualize(msg.Result)
	case RecognitionDropped:
		debugMsgVerbose("MANAGER", fmt.Sprintf("Recognizer busy at frame #%d", msg.Frame.Seq))
		m.metrics.RecordRecognition(context.Background(), observe.StatusDropped)
	case ActualizationFinished:
		debugMsgVerbose("MANAGER", fmt.Sprintf("Object now has %d labels", msg.Object.Len()), msg.Cycle.String())
	}
}

// GetObject returns a copy of the current object
func (m *Manager) GetObject() Object {
	return m.tracker.GetObject()
}

// Phase returns the tracker phase
func (m *Manager) Phase() Phase {
	return m.tracker.Phase()
}

// PaintObject renders the current object onto a copy of frame. With nothing
// tracked, or no painter configured, frame is returned unchanged.
func (m *Manager) PaintObject(frame Frame) (Frame, error) {
	obj := m.GetObject()
	if obj.Empty() || m.painter == nil {
		return frame, nil
	}
	return m.painter.Paint(frame, obj)
}

// SetDatabase swaps the matcher and makes the next frame trigger a recognition
func (m *Manager) SetDatabase(matcher Matcher) error {
	if matcher == nil {
		return errors.New("tracking: nil matcher")
	}
	m.recognizer.SetMatcher(matcher)

	m.mu.Lock()
	m.framesSinceRecognition = m.cfg.RecognitionPeriod
	m.mu.Unlock()

	debugMsg("MANAGER", "Database changed, recognition forced on next frame")
	return nil
}

// Close waits for the running recognition and stops the running actualization
func (m *Manager) Close() {
	m.recognizer.Join()
	m.tracker.Close()
}
