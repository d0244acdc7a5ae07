package detection

import (
	"fmt"

	"gocv.io/x/gocv"

	"labelcam/tracking"
)

// FlowConfig tunes feature detection and optical flow
type FlowConfig struct {
	MaxFeatures int     // Corners kept by GoodFeaturesToTrack
	Quality     float64 // Minimal accepted corner quality, relative to the best corner
	MinDistance float64 // Minimal distance between corners in pixels
}

// DefaultFlowConfig returns the flow tuning used when none is given
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		MaxFeatures: 200,
		Quality:     0.01,
		MinDistance: 10,
	}
}

// FlowTracker detects corners and follows them with pyramidal Lucas-Kanade flow
type FlowTracker struct {
	cfg FlowConfig
}

// NewFlowTracker creates a flow tracker; zero fields of cfg take their defaults
func NewFlowTracker(cfg FlowConfig) *FlowTracker {
	d := DefaultFlowConfig()
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = d.MaxFeatures
	}
	if cfg.Quality <= 0 {
		cfg.Quality = d.Quality
	}
	if cfg.MinDistance <= 0 {
		cfg.MinDistance = d.MinDistance
	}
	return &FlowTracker{cfg: cfg}
}

// ComputeFeatures finds strong corners in frame
func (ft *FlowTracker) ComputeFeatures(frame tracking.Frame) (tracking.FeatureSet, error) {
	gray, err := grayFromFrame(frame)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	corners := gocv.NewMat()
	defer corners.Close()
	gocv.GoodFeaturesToTrack(gray, &corners, ft.cfg.MaxFeatures, ft.cfg.Quality, ft.cfg.MinDistance)

	features := pointsFromMat(corners)
	debugMsgVerbose("FLOW", fmt.Sprintf("Detected %d features on frame #%d", len(features), frame.Seq))
	return features, nil
}

// AdvanceFeatures follows old from oldFrame to newFrame
func (ft *FlowTracker) AdvanceFeatures(oldFrame, newFrame tracking.Frame, old tracking.FeatureSet) (tracking.FeatureSet, []bool, error) {
	if len(old) == 0 {
		return nil, nil, nil
	}

	prevGray, err := grayFromFrame(oldFrame)
	if err != nil {
		return nil, nil, err
	}
	defer prevGray.Close()
	nextGray, err := grayFromFrame(newFrame)
	if err != nil {
		return nil, nil, err
	}
	defer nextGray.Close()

	prevPts := matFromPoints(old)
	defer prevPts.Close()
	nextPts := gocv.NewMat()
	defer nextPts.Close()
	status := gocv.NewMat()
	defer status.Close()
	errMat := gocv.NewMat()
	defer errMat.Close()

	gocv.CalcOpticalFlowPyrLK(prevGray, nextGray, prevPts, nextPts, &status, &errMat)

	next := pointsFromMat(nextPts)
	if len(next) != len(old) || status.Rows() != len(old) {
		return nil, nil, fmt.Errorf("optical flow returned %d points and %d statuses for %d features", len(next), status.Rows(), len(old))
	}

	valid := make([]bool, len(old))
	for i := range valid {
		valid[i] = status.GetUCharAt(i, 0) == 1
	}
	return next, valid, nil
}

// matFromPoints builds an Nx2 CV_32F point matrix
func matFromPoints(points tracking.FeatureSet) gocv.Mat {
	m := gocv.NewMatWithSize(len(points), 2, gocv.MatTypeCV32F)
	for i, p := range points {
		m.SetFloatAt(i, 0, float32(p.X))
		m.SetFloatAt(i, 1, float32(p.Y))
	}
	return m
}

// pointsFromMat reads an Nx1 two-channel or Nx2 single-channel point matrix
func pointsFromMat(m gocv.Mat) tracking.FeatureSet {
	if m.Empty() {
		return nil
	}
	points := make(tracking.FeatureSet, 0, m.Rows())
	for i := 0; i < m.Rows(); i++ {
		if m.Channels() == 2 {
			v := m.GetVecfAt(i, 0)
			points = append(points, tracking.Point{X: float64(v[0]), Y: float64(v[1])})
		} else {
			points = append(points, tracking.Point{X: float64(m.GetFloatAt(i, 0)), Y: float64(m.GetFloatAt(i, 1))})
		}
	}
	return points
}
