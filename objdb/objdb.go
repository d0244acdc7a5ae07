// Package objdb holds the descriptor database the recognizer matches frames
// against, and its persistence.
package objdb

import (
	"fmt"
	"hash/fnv"
	"image/color"

	"labelcam/tracking"
)

// Keypoint is a detected keypoint of a sample image
type Keypoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Size     float64 `json:"size"`
	Angle    float64 `json:"angle"`
	Response float64 `json:"response"`
	Octave   int     `json:"octave"`
	ClassID  int     `json:"class_id"`
}

// Descriptor is a row-major descriptor matrix, one row per keypoint
type Descriptor struct {
	Rows int
	Cols int
	Type int // OpenCV element type (CV_8U for binary, CV_32F for float descriptors)
	Data []byte
}

// Empty reports whether the matrix has no rows
func (d Descriptor) Empty() bool {
	return d.Rows == 0 || len(d.Data) == 0
}

// Entry is one sample image of the object, associated with a label
type Entry struct {
	Label       string
	Color       color.RGBA
	Width       int              // Sample width after normalisation
	Height      int              // Sample height after normalisation
	Corners     []tracking.Point // Sample corners, clockwise from top-left
	Keypoints   []Keypoint
	Descriptors Descriptor
}

// Database is a named set of entries
type Database struct {
	Name    string
	Entries []Entry
}

// LabelName returns the label of the n-th sample of database dbName
func LabelName(dbName string, n int) string {
	return fmt.Sprintf("%sLabel%d", dbName, n)
}

// LabelColor derives a stable, saturated display colour from a label name
func LabelColor(label string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(label))
	sum := h.Sum32()

	// one channel high, one low, one hashed: avoids dark or washed-out colours
	v := uint8(sum >> 8)
	switch sum % 6 {
	case 0:
		return color.RGBA{R: 255, G: v, B: 0, A: 255}
	case 1:
		return color.RGBA{R: v, G: 255, B: 0, A: 255}
	case 2:
		return color.RGBA{R: 0, G: 255, B: v, A: 255}
	case 3:
		return color.RGBA{R: 0, G: v, B: 255, A: 255}
	case 4:
		return color.RGBA{R: v, G: 0, B: 255, A: 255}
	default:
		return color.RGBA{R: 255, G: 0, B: v, A: 255}
	}
}

// SampleCorners returns the corners of a w x h sample, clockwise from top-left
func SampleCorners(w, h int) []tracking.Point {
	return []tracking.Point{
		{X: 0, Y: 0},
		{X: float64(w), Y: 0},
		{X: float64(w), Y: float64(h)},
		{X: 0, Y: float64(h)},
	}
}

// CreationError reports a database that could not be built
type CreationError struct {
	Name string
	Err  error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("objdb: create %q: %v", e.Name, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// LoadError reports a stored database that could not be read back
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("objdb: load %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SaveError reports a database that could not be persisted
type SaveError struct {
	Name string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("objdb: save %q: %v", e.Name, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// Global debug function for objdb package
var debugMsgFunc func(string, string, ...string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(string, string, ...string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string, name ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, name...)
	}
}
