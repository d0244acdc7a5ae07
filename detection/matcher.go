package detection

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"labelcam/objdb"
	"labelcam/tracking"
)

// MatcherConfig tunes descriptor matching
type MatcherConfig struct {
	Ratio      float64 // Nearest/second-nearest distance ratio a match must stay under
	MinMatches int     // Good matches (and homography inliers) needed to accept an entry
}

// DefaultMatcherConfig returns the matching tuning used when none is given
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		Ratio:      0.85,
		MinMatches: 10,
	}
}

// ErrDescriptorMismatch is returned by NewMatcher for a database built with a
// different kind of keypoint provider
var ErrDescriptorMismatch = errors.New("detection: descriptors do not match the keypoint provider")

// descriptorDepth returns the Mat depth of descriptors compared with norm
func descriptorDepth(norm gocv.NormType) gocv.MatType {
	if norm == gocv.NormHamming {
		return gocv.MatTypeCV8U
	}
	return gocv.MatTypeCV32F
}

type matcherEntry struct {
	template  tracking.Label // Name and colour of the label this entry produces
	corners   []tracking.Point
	keypoints []objdb.Keypoint
	desc      gocv.Mat
}

// Matcher recognizes the samples of a descriptor database in frames
type Matcher struct {
	cfg      MatcherConfig
	name     string
	provider KeypointProvider
	bf       gocv.BFMatcher
	entries  []matcherEntry

	mu sync.Mutex
}

// NewMatcher prepares db for matching with descriptors from provider. A
// database built with a provider of another kind yields ErrDescriptorMismatch.
func NewMatcher(db *objdb.Database, provider KeypointProvider, cfg MatcherConfig) (*Matcher, error) {
	if db == nil || len(db.Entries) == 0 {
		return nil, errors.New("detection: empty database")
	}
	d := DefaultMatcherConfig()
	if cfg.Ratio <= 0 || cfg.Ratio >= 1 {
		cfg.Ratio = d.Ratio
	}
	switch {
	case cfg.MinMatches <= 0:
		cfg.MinMatches = d.MinMatches
	case cfg.MinMatches < 4:
		// a homography needs four correspondences
		cfg.MinMatches = 4
	}

	want := descriptorDepth(provider.Norm())
	for _, e := range db.Entries {
		if e.Descriptors.Empty() {
			continue
		}
		// depth is the low three bits of the type
		if depth := gocv.MatType(e.Descriptors.Type) & 7; depth != want {
			return nil, fmt.Errorf("%w: %s has type %d, %s needs depth %d",
				ErrDescriptorMismatch, e.Label, e.Descriptors.Type, provider.GetProviderInfo().Type, want)
		}
	}

	m := &Matcher{
		cfg:      cfg,
		name:     db.Name,
		provider: provider,
		bf:       gocv.NewBFMatcherWithParams(provider.Norm(), false),
	}
	for _, e := range db.Entries {
		if e.Descriptors.Empty() {
			continue
		}
		desc, err := gocv.NewMatFromBytes(e.Descriptors.Rows, e.Descriptors.Cols, gocv.MatType(e.Descriptors.Type), e.Descriptors.Data)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("detection: descriptors of %s: %w", e.Label, err)
		}
		owned := desc.Clone()
		desc.Close()

		m.entries = append(m.entries, matcherEntry{
			template:  tracking.Label{Name: e.Label, Color: e.Color},
			corners:   e.Corners,
			keypoints: e.Keypoints,
			desc:      owned,
		})
	}
	if len(m.entries) == 0 {
		m.Close()
		return nil, fmt.Errorf("detection: database %q has no descriptors", db.Name)
	}

	debugMsg("MATCHER", fmt.Sprintf("Prepared %d entries (ratio %.2f, min matches %d)", len(m.entries), cfg.Ratio, cfg.MinMatches), db.Name)
	return m, nil
}

// Match finds the database samples visible in frame. Each recognised sample
// contributes one label at the centre of its projected outline. Finding
// nothing is not an error.
func (m *Matcher) Match(frame tracking.Frame) (tracking.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gray, err := grayFromFrame(frame)
	if err != nil {
		return tracking.Object{}, err
	}
	defer gray.Close()

	kps, desc, err := m.provider.DetectAndCompute(gray)
	if err != nil {
		return tracking.Object{}, err
	}
	defer desc.Close()

	var obj tracking.Object
	if desc.Empty() || len(kps) < m.cfg.MinMatches {
		debugMsgVerbose("MATCHER", fmt.Sprintf("Only %d keypoints on frame #%d", len(kps), frame.Seq), m.name)
		return obj, nil
	}

	for _, e := range m.entries {
		pos, ok := m.locate(e, kps, desc, frame)
		if !ok {
			continue
		}
		l := e.template
		l.Position = pos
		obj.SetLabel(l)
	}
	debugMsgVerbose("MATCHER", fmt.Sprintf("Frame #%d: %d/%d entries recognised", frame.Seq, obj.Len(), len(m.entries)), m.name)
	return obj, nil
}

// locate matches one entry against the frame descriptors and projects its
// corners with the fitted homography
func (m *Matcher) locate(e matcherEntry, kps []gocv.KeyPoint, desc gocv.Mat, frame tracking.Frame) (tracking.Point, bool) {
	knn := m.bf.KnnMatch(e.desc, desc, 2)

	var src, dst []tracking.Point
	for _, pair := range knn {
		if len(pair) < 2 {
			continue
		}
		best, second := pair[0], pair[1]
		if best.Distance >= m.cfg.Ratio*second.Distance {
			continue
		}
		if best.QueryIdx >= len(e.keypoints) || best.TrainIdx >= len(kps) {
			continue
		}
		q, t := e.keypoints[best.QueryIdx], kps[best.TrainIdx]
		src = append(src, tracking.Point{X: q.X, Y: q.Y})
		dst = append(dst, tracking.Point{X: t.X, Y: t.Y})
	}
	if len(src) < m.cfg.MinMatches {
		return tracking.Point{}, false
	}

	srcMat := matFromPoints(src)
	defer srcMat.Close()
	dstMat := matFromPoints(dst)
	defer dstMat.Close()
	inliers := gocv.NewMat()
	defer inliers.Close()

	h := gocv.FindHomography(srcMat, &dstMat, gocv.HomographyMethodRANSAC, 3, &inliers, 2000, 0.995)
	defer h.Close()
	if h.Empty() || gocv.CountNonZero(inliers) < m.cfg.MinMatches {
		return tracking.Point{}, false
	}

	projected := make([]tracking.Point, 0, len(e.corners))
	for _, c := range e.corners {
		p, ok := applyHomography(h, c)
		if !ok {
			return tracking.Point{}, false
		}
		projected = append(projected, p)
	}
	center := centroid(projected)

	if center.X < 0 || center.Y < 0 || center.X >= float64(frame.Width) || center.Y >= float64(frame.Height) {
		return tracking.Point{}, false
	}
	return center, true
}

// applyHomography maps p through the 3x3 CV_64F matrix h
func applyHomography(h gocv.Mat, p tracking.Point) (tracking.Point, bool) {
	x := h.GetDoubleAt(0, 0)*p.X + h.GetDoubleAt(0, 1)*p.Y + h.GetDoubleAt(0, 2)
	y := h.GetDoubleAt(1, 0)*p.X + h.GetDoubleAt(1, 1)*p.Y + h.GetDoubleAt(1, 2)
	w := h.GetDoubleAt(2, 0)*p.X + h.GetDoubleAt(2, 1)*p.Y + h.GetDoubleAt(2, 2)
	if math.Abs(w) < 1e-9 {
		return tracking.Point{}, false
	}
	out := tracking.Point{X: x / w, Y: y / w}
	if math.IsNaN(out.X) || math.IsNaN(out.Y) || math.IsInf(out.X, 0) || math.IsInf(out.Y, 0) {
		return tracking.Point{}, false
	}
	return out, true
}

func centroid(points []tracking.Point) tracking.Point {
	var c tracking.Point
	if len(points) == 0 {
		return c
	}
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(points))
	return tracking.Point{X: c.X / n, Y: c.Y / n}
}

// Close releases the matcher's descriptor matrices
func (m *Matcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		e.desc.Close()
	}
	m.entries = nil
	return m.bf.Close()
}
