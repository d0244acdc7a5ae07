package main

import (
	"bytes"
	"flag"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"labelcam/config"
	"labelcam/detection"
	"labelcam/objdb"
)

func TestApplyFlags_OnlySetFlagsOverride(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("labelcam", flag.ContinueOnError)
	opts := registerFlags(fs)
	require.NoError(t, fs.Parse([]string{"-input", "clip.mp4", "-period", "20", "-status-overlay", "-debug"}))

	cfg := config.Default()
	cfg.Database.Name = "box"
	applyFlags(fs, opts, cfg)

	assert.Equal(t, "clip.mp4", cfg.Input)
	assert.Equal(t, 20, cfg.Recognition.Period)
	assert.True(t, cfg.Output.StatusOverlay)
	assert.Equal(t, config.LogDebug, cfg.LogLevel)
	assert.Equal(t, "box", cfg.Database.Name, "unset flag must keep the configured value")
	assert.Equal(t, config.Default().Database.Images, cfg.Database.Images)
}

func TestApplyFlags_ZeroPeriodKeepsConfig(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("labelcam", flag.ContinueOnError)
	opts := registerFlags(fs)
	require.NoError(t, fs.Parse([]string{"-period", "0", "-database", "box", "-folder", "samples"}))

	cfg := config.Default()
	applyFlags(fs, opts, cfg)
	assert.Equal(t, config.Default().Recognition.Period, cfg.Recognition.Period)
	assert.Equal(t, "box", cfg.Database.Name)
	assert.Equal(t, "samples", cfg.Database.Images)
}

func TestDebugHook(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	debugHook(logger, slog.LevelInfo)("TRACKER", "replay committed", "cycle-1")
	debugHook(logger, slog.LevelDebug)("QUEUE", "hidden")

	out := buf.String()
	assert.Contains(t, out, "component=TRACKER")
	assert.Contains(t, out, "id=cycle-1")
	assert.Contains(t, out, `msg="replay committed"`)
	assert.NotContains(t, out, "hidden")
}

func TestPipelineStats(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ps := newPipelineStats(func() time.Time { return now })

	ps.UpdateCapture(2 * time.Millisecond)
	ps.UpdateCapture(4 * time.Millisecond)
	ps.UpdateDrop()
	ps.UpdateTracking(10 * time.Millisecond)
	ps.UpdatePaint(time.Millisecond)

	now = now.Add(2 * time.Second)
	s := ps.GetStats()
	assert.InDelta(t, 1.0, s.CaptureFPS, 1e-9)
	assert.InDelta(t, 0.5, s.ProcessFPS, 1e-9)
	assert.Equal(t, int64(1), s.Dropped)
	assert.Equal(t, 3*time.Millisecond, s.AvgRead)
	assert.Equal(t, 10*time.Millisecond, s.AvgUpdate)
	assert.Equal(t, time.Millisecond, s.AvgPaint)
	assert.Contains(t, s.String(), "dropped 1")

	// counters reset after a report
	now = now.Add(time.Second)
	assert.Equal(t, StatsSnapshot{}, ps.GetStats())
}

func TestPipelineStats_UpdateFPS(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ps := newPipelineStats(func() time.Time { return now })

	for i := 0; i < 9; i++ {
		now = now.Add(100 * time.Millisecond)
		assert.Zero(t, ps.UpdateFPS(), "no full window yet")
	}
	now = now.Add(100 * time.Millisecond)
	assert.InDelta(t, 10.0, ps.UpdateFPS(), 1e-9)

	now = now.Add(100 * time.Millisecond)
	assert.InDelta(t, 10.0, ps.UpdateFPS(), 1e-9, "keeps the last full window")
}

func TestSnapshotPath(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 1, 1, 15, 4, 5, 123_000_000, time.UTC)
	got := snapshotPath("/tmp/frames", at, 2)
	assert.Equal(t, filepath.Join("/tmp/frames", "2025-01-01_03PM", "20250101_150405.123_labels_2.jpg"), got)
}

func TestLoadDatabase_FromStore(t *testing.T) {
	t.Parallel()

	store, err := objdb.OpenStore(filepath.Join(t.TempDir(), "objects.db"))
	require.NoError(t, err)
	defer store.Close()

	want := &objdb.Database{Name: "box", Entries: []objdb.Entry{{
		Label:       objdb.LabelName("box", 0),
		Color:       objdb.LabelColor(objdb.LabelName("box", 0)),
		Descriptors: objdb.Descriptor{Rows: 1, Cols: 2, Data: []byte{1, 2}},
	}}}
	require.NoError(t, store.Save(want))

	// a stored database never touches the provider or the images folder
	got, err := loadDatabase(store, config.DatabaseConfig{Name: "box", Images: "/nonexistent"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "box", got.Name)
	assert.Len(t, got.Entries, 1)
}

func TestLoadDatabase_BuildFailure(t *testing.T) {
	t.Parallel()

	store, err := objdb.OpenStore(filepath.Join(t.TempDir(), "objects.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = loadDatabase(store, config.DatabaseConfig{Name: "box", Images: filepath.Join(t.TempDir(), "missing"), TargetHeight: 480}, nil)
	var createErr *objdb.CreationError
	require.ErrorAs(t, err, &createErr)

	ok, err := store.Exists("box")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenMatcher_RebuildsForeignDatabase(t *testing.T) {
	t.Parallel()

	store, err := objdb.OpenStore(filepath.Join(t.TempDir(), "objects.db"))
	require.NoError(t, err)
	defer store.Close()

	label := objdb.LabelName("box", 0)
	siftBuilt := &objdb.Database{Name: "box", Entries: []objdb.Entry{{
		Label:       label,
		Color:       objdb.LabelColor(label),
		Corners:     objdb.SampleCorners(64, 64),
		Keypoints:   []objdb.Keypoint{{X: 10, Y: 10}},
		Descriptors: objdb.Descriptor{Rows: 1, Cols: 128, Type: int(gocv.MatTypeCV32FC1), Data: make([]byte, 128*4)},
	}}}
	require.NoError(t, store.Save(siftBuilt))

	orb, err := detection.NewORBProvider(0)
	require.NoError(t, err)
	defer orb.Close()

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	cfg := config.DatabaseConfig{Name: "box", Images: filepath.Join(t.TempDir(), "missing"), TargetHeight: 480}

	// the mismatch forces a rebuild, which fails without sample images
	m, err := openMatcher(logger, store, cfg, orb, detection.DefaultMatcherConfig())
	assert.Nil(t, m)
	var createErr *objdb.CreationError
	require.ErrorAs(t, err, &createErr)
	assert.NotErrorIs(t, err, detection.ErrDescriptorMismatch)

	// a failed rebuild leaves the stored database in place
	kept, err := store.Load("box")
	require.NoError(t, err)
	require.Len(t, kept.Entries, 1)
	assert.Equal(t, int(gocv.MatTypeCV32FC1), kept.Entries[0].Descriptors.Type)
}
