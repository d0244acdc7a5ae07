package detection

import (
	"sort"
	"sync"

	"gocv.io/x/gocv"
)

// SIFTProvider computes float SIFT descriptors
type SIFTProvider struct {
	sift        gocv.SIFT
	maxFeatures int
	mu          sync.Mutex
}

// NewSIFTProvider creates a SIFT provider. maxFeatures <= 0 keeps every keypoint.
func NewSIFTProvider(maxFeatures int) (*SIFTProvider, error) {
	return &SIFTProvider{sift: gocv.NewSIFT(), maxFeatures: maxFeatures}, nil
}

// DetectAndCompute detects SIFT keypoints on a greyscale image. When more
// than maxFeatures are found, only the strongest responses are kept.
func (sp *SIFTProvider) DetectAndCompute(gray gocv.Mat) ([]gocv.KeyPoint, gocv.Mat, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := sp.sift.DetectAndCompute(gray, mask)
	if sp.maxFeatures <= 0 || len(kps) <= sp.maxFeatures || desc.Rows() != len(kps) {
		return kps, desc, nil
	}
	defer desc.Close()
	return strongest(kps, desc, sp.maxFeatures)
}

// strongest keeps the n keypoints with the highest response and their descriptor rows
func strongest(kps []gocv.KeyPoint, desc gocv.Mat, n int) ([]gocv.KeyPoint, gocv.Mat, error) {
	order := make([]int, len(kps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return kps[order[a]].Response > kps[order[b]].Response })
	order = order[:n]

	data := desc.ToBytes()
	rowBytes := len(data) / desc.Rows()
	keptKps := make([]gocv.KeyPoint, 0, n)
	keptData := make([]byte, 0, n*rowBytes)
	for _, i := range order {
		keptKps = append(keptKps, kps[i])
		keptData = append(keptData, data[i*rowBytes:(i+1)*rowBytes]...)
	}

	out, err := gocv.NewMatFromBytes(n, desc.Cols(), desc.Type(), keptData)
	if err != nil {
		return nil, gocv.NewMat(), err
	}
	defer out.Close()
	return keptKps, out.Clone(), nil
}

// Norm returns the L2 norm used for float descriptors
func (sp *SIFTProvider) Norm() gocv.NormType {
	return gocv.NormL2
}

// Close releases resources used by the SIFT provider
func (sp *SIFTProvider) Close() error {
	return sp.sift.Close()
}

// GetProviderInfo returns information about the SIFT provider
func (sp *SIFTProvider) GetProviderInfo() ProviderInfo {
	return ProviderInfo{
		Type:        "SIFT",
		Descriptors: "float",
		MaxFeatures: sp.maxFeatures,
	}
}
