package overlay

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"labelcam/detection"
	"labelcam/tracking"
)

// debugMsgFunc is a function that will be set by main package to use unified logging
var debugMsgFunc func(component, message string, cycle ...string)

// debugMsgVerboseFunc is a function that will be set by main package for verbose logging only
var debugMsgVerboseFunc func(component, message string, cycle ...string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string, cycle ...string)) {
	debugMsgFunc = fn
}

// SetDebugVerboseFunction allows main package to provide the verbose debug logger
func SetDebugVerboseFunction(fn func(component, message string, cycle ...string)) {
	debugMsgVerboseFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string, cycle ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, cycle...)
	}
}

// debugMsgVerbose is a wrapper that handles nil checks
func debugMsgVerbose(component, message string, cycle ...string) {
	if debugMsgVerboseFunc != nil {
		debugMsgVerboseFunc(component, message, cycle...)
	}
}

// Status is the information shown by the status overlay
type Status struct {
	Time   time.Time
	Frame  uint64
	FPS    float64
	Phase  tracking.Phase
	Labels int
}

// Lines returns the status overlay text, one entry per line
func (s Status) Lines() []string {
	return []string{
		fmt.Sprintf("Time: %s", s.Time.Format("Mon Jan 2 15:04:05 MST 2006")),
		fmt.Sprintf("Frame: %d", s.Frame),
		fmt.Sprintf("FPS: %.1f", s.FPS),
		fmt.Sprintf("Phase: %s", s.Phase),
		fmt.Sprintf("Labels: %d", s.Labels),
	}
}

// Style controls label marker geometry
type Style struct {
	DotRadius  int     // Filled centre dot
	RingRadius int     // Outer ring
	Thickness  int     // Ring and text stroke
	FontScale  float64 // Label name text scale
}

// DefaultStyle returns the marker geometry used when none is given
func DefaultStyle() Style {
	return Style{
		DotRadius:  5,
		RingRadius: 14,
		Thickness:  2,
		FontScale:  0.5,
	}
}

// Renderer paints tracked labels onto frames
type Renderer struct {
	style Style
}

// NewRenderer creates a renderer; zero fields of style take their defaults
func NewRenderer(style Style) *Renderer {
	d := DefaultStyle()
	if style.DotRadius <= 0 {
		style.DotRadius = d.DotRadius
	}
	if style.RingRadius <= style.DotRadius {
		style.RingRadius = style.DotRadius + d.RingRadius - d.DotRadius
	}
	if style.Thickness <= 0 {
		style.Thickness = d.Thickness
	}
	if style.FontScale <= 0 {
		style.FontScale = d.FontScale
	}
	debugMsg("OVERLAY", fmt.Sprintf("Renderer ready (dot %d, ring %d, thickness %d)", style.DotRadius, style.RingRadius, style.Thickness))
	return &Renderer{style: style}
}

// Paint returns a copy of frame with every label of object drawn on it.
// The input frame is left untouched.
func (r *Renderer) Paint(frame tracking.Frame, object tracking.Object) (tracking.Frame, error) {
	img, err := detection.MatFromFrame(frame)
	if err != nil {
		img.Close()
		return tracking.Frame{}, fmt.Errorf("overlay: %w", err)
	}
	defer img.Close()

	for _, l := range object.Labels() {
		r.DrawLabel(&img, l)
	}
	debugMsgVerbose("OVERLAY", fmt.Sprintf("Painted %d labels on frame #%d", object.Len(), frame.Seq))

	return detection.FrameFromMat(img, frame.Seq, frame.Timestamp)
}

// DrawLabel draws one label marker: centre dot, ring and name
func (r *Renderer) DrawLabel(img *gocv.Mat, l tracking.Label) {
	center := image.Pt(int(l.Position.X+0.5), int(l.Position.Y+0.5))
	c := l.Color
	if c.A == 0 {
		c.A = 255
	}

	gocv.Circle(img, center, r.style.DotRadius, c, -1)
	gocv.Circle(img, center, r.style.RingRadius, c, r.style.Thickness)

	textPos := image.Pt(center.X+r.style.RingRadius+4, center.Y+r.style.RingRadius/2)
	gocv.PutText(img, l.Name, textPos, gocv.FontHersheySimplex, r.style.FontScale, c, r.style.Thickness/2+1)
}

// DrawStatus draws the status lines on a dark box in the lower-left corner of img
func (r *Renderer) DrawStatus(img *gocv.Mat, status Status) {
	if img.Empty() {
		return
	}
	lines := status.Lines()
	const lineHeight = 18

	boxHeight := len(lines)*lineHeight + 12
	top := img.Rows() - boxHeight - 10
	if top < 0 {
		top = 0
	}
	box := image.Rect(10, top, 300, top+boxHeight)
	gocv.Rectangle(img, box, color.RGBA{0, 0, 0, 200}, -1)

	for i, line := range lines {
		textPoint := image.Pt(20, top+20+i*lineHeight)
		gocv.PutText(img, line, textPoint, gocv.FontHersheySimplex, 0.5, color.RGBA{255, 255, 255, 255}, 1)
	}
}

// PaintStatus returns a copy of frame with the status overlay drawn on it
func (r *Renderer) PaintStatus(frame tracking.Frame, status Status) (tracking.Frame, error) {
	img, err := detection.MatFromFrame(frame)
	if err != nil {
		img.Close()
		return tracking.Frame{}, fmt.Errorf("overlay: %w", err)
	}
	defer img.Close()

	r.DrawStatus(&img, status)
	return detection.FrameFromMat(img, frame.Seq, frame.Timestamp)
}
