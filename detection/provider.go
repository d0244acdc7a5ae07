package detection

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"gocv.io/x/gocv"
)

// Global debug function for detection package
var debugMsgFunc func(string, string, ...string)

// Global verbose debug function for per-frame messages
var debugMsgVerboseFunc func(string, string, ...string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(string, string, ...string)) {
	debugMsgFunc = fn
}

// SetDebugVerboseFunction allows main package to provide verbose debug function
func SetDebugVerboseFunction(fn func(string, string, ...string)) {
	debugMsgVerboseFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string, id ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, id...)
	}
}

// debugMsgVerbose is a wrapper that handles nil checks
func debugMsgVerbose(component, message string, id ...string) {
	if debugMsgVerboseFunc != nil {
		debugMsgVerboseFunc(component, message, id...)
	}
}

// KeypointProvider detects keypoints and computes their descriptors
type KeypointProvider interface {
	// DetectAndCompute runs on a greyscale image. The caller closes the returned Mat.
	DetectAndCompute(gray gocv.Mat) ([]gocv.KeyPoint, gocv.Mat, error)
	// Norm is the distance used to compare the descriptors
	Norm() gocv.NormType
	Close() error
	GetProviderInfo() ProviderInfo
}

// ProviderInfo contains information about a keypoint provider
type ProviderInfo struct {
	Type        string        // "ORB" or "SIFT"
	Descriptors string        // "binary" or "float"
	MaxFeatures int           // Keypoint cap, 0 for unlimited
	InitTime    time.Duration // Time taken to initialize
}

// ProviderManager selects the configured provider and falls back to ORB
type ProviderManager struct {
	currentProvider KeypointProvider
	providerInfo    ProviderInfo
}

// NewProviderManager creates a new provider manager
func NewProviderManager() *ProviderManager {
	return &ProviderManager{}
}

// Initialize sets up the preferred provider ("sift" or "orb"). SIFT falls back
// to ORB when it cannot be created or fails a test detection.
func (pm *ProviderManager) Initialize(preferred string, maxFeatures int) error {
	preferred = strings.ToLower(strings.TrimSpace(preferred))
	debugMsg("PROVIDER", fmt.Sprintf("Initializing %q keypoint provider", preferred))

	switch preferred {
	case "sift":
		startTime := time.Now()
		sift, err := NewSIFTProvider(maxFeatures)
		if err == nil {
			if testProvider(sift) {
				pm.use(sift, startTime)
				return nil
			}
			debugMsg("PROVIDER", "SIFT test detection failed, falling back to ORB")
			sift.Close()
		} else {
			debugMsg("PROVIDER", fmt.Sprintf("SIFT initialization failed: %v, falling back to ORB", err))
		}
	case "orb", "":
	default:
		return fmt.Errorf("unknown keypoint provider %q", preferred)
	}

	startTime := time.Now()
	orb, err := NewORBProvider(maxFeatures)
	if err != nil {
		return fmt.Errorf("ORB provider failed: %w", err)
	}
	pm.use(orb, startTime)
	return nil
}

func (pm *ProviderManager) use(p KeypointProvider, startTime time.Time) {
	pm.currentProvider = p
	pm.providerInfo = p.GetProviderInfo()
	pm.providerInfo.InitTime = time.Since(startTime)
	debugMsg("PROVIDER", fmt.Sprintf("%s provider initialized (%v)", pm.providerInfo.Type, pm.providerInfo.InitTime))
}

// GetProvider returns the current active provider
func (pm *ProviderManager) GetProvider() KeypointProvider {
	return pm.currentProvider
}

// GetProviderInfo returns information about the current provider
func (pm *ProviderManager) GetProviderInfo() ProviderInfo {
	return pm.providerInfo
}

// Close closes the current provider
func (pm *ProviderManager) Close() error {
	if pm.currentProvider != nil {
		return pm.currentProvider.Close()
	}
	return nil
}

// testProvider performs a quick detection to verify the provider works
func testProvider(provider KeypointProvider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			debugMsg("PROVIDER", fmt.Sprintf("Test detection panicked: %v", r))
			ok = false
		}
	}()

	// Create a small test frame with some structure to describe
	testFrame := gocv.NewMatWithSize(128, 128, gocv.MatTypeCV8UC1)
	defer testFrame.Close()
	gocv.Rectangle(&testFrame, image.Rect(32, 32, 96, 96), color.RGBA{255, 255, 255, 0}, -1)

	_, desc, err := provider.DetectAndCompute(testFrame)
	if err != nil {
		return false
	}
	desc.Close()
	return true
}
