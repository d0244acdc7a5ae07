package detection

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"labelcam/tracking"
)

// matType returns the 8-bit Mat type for a channel count
func matType(channels int) (gocv.MatType, error) {
	switch channels {
	case 1:
		return gocv.MatTypeCV8UC1, nil
	case 3:
		return gocv.MatTypeCV8UC3, nil
	case 4:
		return gocv.MatTypeCV8UC4, nil
	default:
		return 0, fmt.Errorf("unsupported channel count %d", channels)
	}
}

// MatFromFrame copies a frame into a new Mat. The caller closes it.
func MatFromFrame(f tracking.Frame) (gocv.Mat, error) {
	if f.Empty() {
		return gocv.NewMat(), fmt.Errorf("frame #%d is empty", f.Seq)
	}
	mt, err := matType(f.Channels)
	if err != nil {
		return gocv.NewMat(), err
	}
	if len(f.Data) != f.Width*f.Height*f.Channels {
		return gocv.NewMat(), fmt.Errorf("frame #%d: %d bytes for %dx%dx%d", f.Seq, len(f.Data), f.Width, f.Height, f.Channels)
	}

	// the view references f.Data; clone so the Mat owns its pixels
	view, err := gocv.NewMatFromBytes(f.Height, f.Width, mt, f.Data)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer view.Close()
	return view.Clone(), nil
}

// FrameFromMat snapshots a Mat into an immutable frame
func FrameFromMat(m gocv.Mat, seq uint64, ts time.Time) (tracking.Frame, error) {
	if m.Empty() {
		return tracking.Frame{}, fmt.Errorf("empty mat")
	}
	if _, err := matType(m.Channels()); err != nil {
		return tracking.Frame{}, err
	}
	return tracking.Frame{
		Data:      m.ToBytes(),
		Width:     m.Cols(),
		Height:    m.Rows(),
		Channels:  m.Channels(),
		Seq:       seq,
		Timestamp: ts,
	}, nil
}

// grayFromFrame returns a greyscale Mat of f. The caller closes it.
func grayFromFrame(f tracking.Frame) (gocv.Mat, error) {
	mat, err := MatFromFrame(f)
	if err != nil {
		return mat, err
	}
	return toGray(mat), nil
}

// toGray converts src to greyscale, closing src
func toGray(src gocv.Mat) gocv.Mat {
	switch src.Channels() {
	case 3:
		defer src.Close()
		gray := gocv.NewMat()
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
		return gray
	case 4:
		defer src.Close()
		gray := gocv.NewMat()
		gocv.CvtColor(src, &gray, gocv.ColorBGRAToGray)
		return gray
	default:
		return src
	}
}
