package tracking

import (
	"image/color"
	"math"
	"time"

	"github.com/google/uuid"
)

// Phase represents the current phase of a Tracker
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseBuffering
	PhaseActualizing
)

// String returns the phase name used in logs and the status overlay
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseBuffering:
		return "BUFFERING"
	case PhaseActualizing:
		return "ACTUALIZING"
	default:
		return "UNKNOWN"
	}
}

// Frame is an immutable image snapshot.
//
// Data is shared between every component holding the frame and MUST NOT be
// modified once the frame has been handed to the Manager. Use Clone when an
// independent, writable copy is needed.
type Frame struct {
	Data      []byte    // Raw pixel rows, Width*Height*Channels bytes (BGR order for 3 channels)
	Width     int       // Width in pixels
	Height    int       // Height in pixels
	Channels  int       // 1 (grey), 3 (BGR) or 4 (BGRA)
	Seq       uint64    // Capture sequence number
	Timestamp time.Time // Capture time
}

// Empty reports whether the frame carries no pixels
func (f Frame) Empty() bool {
	return len(f.Data) == 0 || f.Width <= 0 || f.Height <= 0
}

// Clone returns a deep copy of the frame
func (f Frame) Clone() Frame {
	c := f
	if f.Data != nil {
		c.Data = make([]byte, len(f.Data))
		copy(c.Data, f.Data)
	}
	return c
}

// Point is a sub-pixel image position
type Point struct {
	X float64
	Y float64
}

// Add returns p translated by (dx, dy)
func (p Point) Add(dx, dy float64) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// Dist returns the euclidean distance between p and q
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// FeatureSet is the list of trackable points detected on a single frame
type FeatureSet []Point

// Clone returns an independent copy of the feature set
func (fs FeatureSet) Clone() FeatureSet {
	if fs == nil {
		return nil
	}
	c := make(FeatureSet, len(fs))
	copy(c, fs)
	return c
}

// Label is a named, coloured position belonging to an Object. Identity is Name.
type Label struct {
	Name     string
	Position Point
	Color    color.RGBA
}

// Object is an ordered collection of labels with unique names.
// The zero value is an empty object ready to use.
type Object struct {
	labels []Label
}

// NewObject creates an object from the given labels; later duplicates replace earlier ones
func NewObject(labels ...Label) Object {
	var o Object
	for _, l := range labels {
		o.SetLabel(l)
	}
	return o
}

// SetLabel replaces the label with the same name or appends it
func (o *Object) SetLabel(l Label) {
	for i := range o.labels {
		if o.labels[i].Name == l.Name {
			o.labels[i] = l
			return
		}
	}
	o.labels = append(o.labels, l)
}

// RemoveLabel removes the named label, reporting whether it was present
func (o *Object) RemoveLabel(name string) bool {
	for i := range o.labels {
		if o.labels[i].Name == name {
			o.labels = append(o.labels[:i:i], o.labels[i+1:]...)
			return true
		}
	}
	return false
}

// Label returns the named label
func (o Object) Label(name string) (Label, bool) {
	for _, l := range o.labels {
		if l.Name == name {
			return l, true
		}
	}
	return Label{}, false
}

// Labels returns a copy of the labels in insertion order
func (o Object) Labels() []Label {
	if len(o.labels) == 0 {
		return nil
	}
	c := make([]Label, len(o.labels))
	copy(c, o.labels)
	return c
}

// Names returns the label names in insertion order
func (o Object) Names() []string {
	names := make([]string, 0, len(o.labels))
	for _, l := range o.labels {
		names = append(names, l.Name)
	}
	return names
}

// Len returns the number of labels
func (o Object) Len() int {
	return len(o.labels)
}

// Empty reports whether the object has no labels
func (o Object) Empty() bool {
	return len(o.labels) == 0
}

// Clone returns a copy that shares no storage with o
func (o Object) Clone() Object {
	return Object{labels: o.Labels()}
}

// RecognitionResult is an object found by the matcher together with the frame it was computed against.
// An empty Object means nothing was recognized; Err records a matcher failure that was converted into a miss.
type RecognitionResult struct {
	Object Object
	Frame  Frame
	Cycle  uuid.UUID
	Err    error
}

// Empty reports whether the recognition found nothing
func (r RecognitionResult) Empty() bool {
	return r.Object.Empty()
}

// TrackerState is the tracker's authoritative estimate. Features were always computed against Frame.
type TrackerState struct {
	Object   Object
	Frame    Frame
	Features FeatureSet
}

// Clone returns a copy of the state that shares no mutable storage
func (s TrackerState) Clone() TrackerState {
	return TrackerState{
		Object:   s.Object.Clone(),
		Frame:    s.Frame,
		Features: s.Features.Clone(),
	}
}

// Matcher recognizes the object in a frame. It may be slow. Finding nothing is not an error:
// it returns an empty Object.
type Matcher interface {
	Match(frame Frame) (Object, error)
}

// FeatureTracker is the point-detection and optical-flow primitive used by every incremental update.
type FeatureTracker interface {
	// ComputeFeatures detects trackable points in frame
	ComputeFeatures(frame Frame) (FeatureSet, error)
	// AdvanceFeatures follows old from oldFrame to newFrame. valid[i] is false when
	// next[i] could not be tracked; such entries must be dropped from both sets.
	AdvanceFeatures(oldFrame, newFrame Frame, old FeatureSet) (next FeatureSet, valid []bool, err error)
}

// Painter renders an object onto a copy of a frame
type Painter interface {
	Paint(frame Frame, object Object) (Frame, error)
}
