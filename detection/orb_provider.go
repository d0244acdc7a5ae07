package detection

import (
	"sync"

	"gocv.io/x/gocv"
)

// ORBProvider computes binary ORB descriptors
type ORBProvider struct {
	orb         gocv.ORB
	maxFeatures int
	mu          sync.Mutex
}

// NewORBProvider creates an ORB provider keeping at most maxFeatures keypoints (500 if <= 0)
func NewORBProvider(maxFeatures int) (*ORBProvider, error) {
	if maxFeatures <= 0 {
		maxFeatures = 500
	}
	orb := gocv.NewORBWithParams(maxFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
	return &ORBProvider{orb: orb, maxFeatures: maxFeatures}, nil
}

// DetectAndCompute detects ORB keypoints on a greyscale image
func (op *ORBProvider) DetectAndCompute(gray gocv.Mat) ([]gocv.KeyPoint, gocv.Mat, error) {
	op.mu.Lock()
	defer op.mu.Unlock()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := op.orb.DetectAndCompute(gray, mask)
	return kps, desc, nil
}

// Norm returns the Hamming norm used for binary descriptors
func (op *ORBProvider) Norm() gocv.NormType {
	return gocv.NormHamming
}

// Close releases resources used by the ORB provider
func (op *ORBProvider) Close() error {
	return op.orb.Close()
}

// GetProviderInfo returns information about the ORB provider
func (op *ORBProvider) GetProviderInfo() ProviderInfo {
	return ProviderInfo{
		Type:        "ORB",
		Descriptors: "binary",
		MaxFeatures: op.maxFeatures,
	}
}
