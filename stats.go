package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"labelcam/detection"
	"labelcam/tracking"
)

// PipelineStats tracks performance metrics for different parts of the pipeline
type PipelineStats struct {
	mu             sync.Mutex
	captureCount   int64
	dropCount      int64
	processCount   int64
	lastReportTime time.Time
	lastFPSUpdate  time.Time
	fpsCount       int64
	lastFPS        float64

	// Timing measurements
	readTimeTotal   time.Duration
	updateTimeTotal time.Duration
	paintTimeTotal  time.Duration
	readCount       int64
	updateCount     int64
	paintCount      int64

	now func() time.Time
}

// StatsSnapshot is one reporting window of PipelineStats
type StatsSnapshot struct {
	CaptureFPS float64
	ProcessFPS float64
	Dropped    int64
	AvgRead    time.Duration
	AvgUpdate  time.Duration
	AvgPaint   time.Duration
}

// String formats the snapshot for the PERF log line
func (s StatsSnapshot) String() string {
	return fmt.Sprintf("capture %.1f fps | process %.1f fps | dropped %d | read %v | update %v | paint %v",
		s.CaptureFPS, s.ProcessFPS, s.Dropped,
		s.AvgRead.Round(time.Microsecond), s.AvgUpdate.Round(time.Microsecond), s.AvgPaint.Round(time.Microsecond))
}

// NewPipelineStats creates a new pipeline statistics tracker
func NewPipelineStats() *PipelineStats {
	return newPipelineStats(time.Now)
}

func newPipelineStats(now func() time.Time) *PipelineStats {
	t := now()
	return &PipelineStats{
		lastReportTime: t,
		lastFPSUpdate:  t,
		now:            now,
	}
}

// GetStats returns current statistics and resets counters
func (ps *PipelineStats) GetStats() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.now()
	timeWindow := now.Sub(ps.lastReportTime).Seconds()
	if timeWindow <= 0 {
		timeWindow = 1.0 // Prevent division by zero
	}

	s := StatsSnapshot{
		CaptureFPS: float64(ps.captureCount) / timeWindow,
		ProcessFPS: float64(ps.processCount) / timeWindow,
		Dropped:    ps.dropCount,
	}
	if ps.readCount > 0 {
		s.AvgRead = ps.readTimeTotal / time.Duration(ps.readCount)
	}
	if ps.updateCount > 0 {
		s.AvgUpdate = ps.updateTimeTotal / time.Duration(ps.updateCount)
	}
	if ps.paintCount > 0 {
		s.AvgPaint = ps.paintTimeTotal / time.Duration(ps.paintCount)
	}

	// Reset counters but keep timestamps
	ps.captureCount = 0
	ps.dropCount = 0
	ps.processCount = 0
	ps.readTimeTotal = 0
	ps.updateTimeTotal = 0
	ps.paintTimeTotal = 0
	ps.readCount = 0
	ps.updateCount = 0
	ps.paintCount = 0
	ps.lastReportTime = now

	return s
}

// UpdateCapture updates capture statistics
func (ps *PipelineStats) UpdateCapture(duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.captureCount++
	ps.readTimeTotal += duration
	ps.readCount++
}

// UpdateDrop counts a captured frame dropped because processing fell behind
func (ps *PipelineStats) UpdateDrop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.dropCount++
}

// UpdateTracking updates per-frame tracking statistics
func (ps *PipelineStats) UpdateTracking(duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.processCount++
	ps.updateTimeTotal += duration
	ps.updateCount++
}

// UpdatePaint updates overlay statistics
func (ps *PipelineStats) UpdatePaint(duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.paintTimeTotal += duration
	ps.paintCount++
}

// UpdateFPS counts a processed frame and returns the frame rate over the
// current one second window
func (ps *PipelineStats) UpdateFPS() float64 {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.now()
	ps.fpsCount++

	elapsed := now.Sub(ps.lastFPSUpdate)
	if elapsed >= time.Second {
		ps.lastFPS = float64(ps.fpsCount) / elapsed.Seconds()
		ps.fpsCount = 0
		ps.lastFPSUpdate = now
	}
	return ps.lastFPS
}

// snapshotPath returns where a painted frame taken at now is written:
// <directory>/<2006-01-02_03PM>/<timestamp>_labels_<n>.jpg
func snapshotPath(directory string, now time.Time, labelCount int) string {
	subdirName := now.Format("2006-01-02_03PM")
	timestamp := now.Format("20060102_150405.000")
	filename := fmt.Sprintf("%s_labels_%d.jpg", timestamp, labelCount)
	return filepath.Join(directory, subdirName, filename)
}

// saveJpegFrame writes frame as a JPEG snapshot under directory
func saveJpegFrame(frame tracking.Frame, directory string, labelCount int) error {
	if directory == "" {
		return nil
	}

	path := snapshotPath(directory, time.Now(), labelCount)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	img, err := detection.MatFromFrame(frame)
	if err != nil {
		img.Close()
		return err
	}
	defer img.Close()

	if !gocv.IMWrite(path, img) {
		return fmt.Errorf("failed to write %s", path)
	}
	return nil
}
