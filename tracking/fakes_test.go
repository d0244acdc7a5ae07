package tracking

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"labelcam/observe"
)

// shiftFlow is a FeatureTracker over a synthetic scene that translates by
// offset(seq) at frame seq. Features are a fixed pattern moved by that offset.
type shiftFlow struct {
	offset  func(seq uint64) Point
	pattern FeatureSet

	mu      sync.Mutex
	gate    chan struct{} // when set, AdvanceFeatures waits for it to be closed
	entered chan struct{} // receives once per gated AdvanceFeatures call

	computeCalls atomic.Int64
	advanceCalls atomic.Int64
	failAdvance  atomic.Bool
}

func newShiftFlow(offset func(seq uint64) Point) *shiftFlow {
	var pattern FeatureSet
	for _, c := range []Point{{X: 100, Y: 100}, {X: 300, Y: 200}} {
		for dx := -10.0; dx <= 10; dx += 5 {
			for dy := -10.0; dy <= 10; dy += 5 {
				pattern = append(pattern, c.Add(dx, dy))
			}
		}
	}
	return &shiftFlow{offset: offset, pattern: pattern}
}

// linearOffset moves the scene by (2, 1) pixels per frame
func linearOffset(seq uint64) Point {
	return Point{X: 2 * float64(seq), Y: float64(seq)}
}

func (f *shiftFlow) block() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 64)
}

func (f *shiftFlow) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
	}
}

func (f *shiftFlow) ComputeFeatures(frame Frame) (FeatureSet, error) {
	f.computeCalls.Add(1)
	o := f.offset(frame.Seq)
	out := make(FeatureSet, len(f.pattern))
	for i, p := range f.pattern {
		out[i] = p.Add(o.X, o.Y)
	}
	return out, nil
}

func (f *shiftFlow) AdvanceFeatures(oldFrame, newFrame Frame, old FeatureSet) (FeatureSet, []bool, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	f.advanceCalls.Add(1)
	if f.failAdvance.Load() {
		return nil, nil, errors.New("flow failed")
	}
	a, b := f.offset(oldFrame.Seq), f.offset(newFrame.Seq)
	next := make(FeatureSet, len(old))
	valid := make([]bool, len(old))
	for i, p := range old {
		next[i] = p.Add(b.X-a.X, b.Y-a.Y)
		valid[i] = true
	}
	return next, valid, nil
}

// scriptedMatcher returns a fixed object, optionally waiting for release first
type scriptedMatcher struct {
	object Object
	err    error
	panics bool

	gate    chan struct{}
	entered chan Frame
	calls   atomic.Int64
}

func (m *scriptedMatcher) Match(frame Frame) (Object, error) {
	m.calls.Add(1)
	if m.entered != nil {
		m.entered <- frame
	}
	if m.gate != nil {
		<-m.gate
	}
	if m.panics {
		panic("matcher exploded")
	}
	return m.object.Clone(), m.err
}

func newBlockingMatcher(obj Object) *scriptedMatcher {
	return &scriptedMatcher{
		object:  obj,
		gate:    make(chan struct{}),
		entered: make(chan Frame, 8),
	}
}

// recordingPainter counts calls and tags the returned frame
type recordingPainter struct {
	calls atomic.Int64
}

func (p *recordingPainter) Paint(frame Frame, obj Object) (Frame, error) {
	p.calls.Add(1)
	out := frame.Clone()
	out.Data = append(out.Data, byte(obj.Len()))
	return out, nil
}

// messageLog collects dispatched messages
type messageLog struct {
	mu   sync.Mutex
	msgs []Message
}

func (l *messageLog) observe(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *messageLog) started() []RecognitionStarted {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []RecognitionStarted
	for _, m := range l.msgs {
		if s, ok := m.(RecognitionStarted); ok {
			out = append(out, s)
		}
	}
	return out
}

func (l *messageLog) actualized() []ActualizationFinished {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ActualizationFinished
	for _, m := range l.msgs {
		if a, ok := m.(ActualizationFinished); ok {
			out = append(out, a)
		}
	}
	return out
}

func (l *messageLog) dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.msgs {
		if _, ok := m.(RecognitionDropped); ok {
			n++
		}
	}
	return n
}

func testFrame(seq uint64) Frame {
	return Frame{Data: []byte{byte(seq)}, Width: 1, Height: 1, Channels: 1, Seq: seq}
}

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}
