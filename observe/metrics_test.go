package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestHistogramObservation(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"labelcam.recognition.duration", m.RecognitionDuration},
		{"labelcam.actualization.duration", m.ActualizationDuration},
		{"labelcam.update.duration", m.UpdateDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.004)
		tc.h.Record(ctx, 0.3)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			found := findMetric(rm, tc.name)
			require.NotNil(t, found)
			hist, ok := found.Data.(metricdata.Histogram[float64])
			require.True(t, ok, "unexpected data type %T", found.Data)
			require.Len(t, hist.DataPoints, 1)
			assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
			assert.Equal(t, "s", found.Unit)
		})
	}
}

func TestRecordRecognition(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecognition(ctx, StatusStarted)
	m.RecordRecognition(ctx, StatusStarted)
	m.RecordRecognition(ctx, StatusDropped)
	m.RecordRecognition(ctx, StatusFound)

	found := findMetric(collect(t, reader), "labelcam.recognition.requests")
	require.NotNil(t, found)
	sum, ok := found.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	byStatus := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		v, ok := dp.Attributes.Value(attribute.Key("status"))
		require.True(t, ok)
		byStatus[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{StatusStarted: 2, StatusDropped: 1, StatusFound: 1}, byStatus)
}

func TestCountersAndGauges(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ReplayedFrames.Add(ctx, 5)
	m.ActualizationsCancelled.Add(ctx, 1)
	m.LabelsLost.Add(ctx, 2)
	m.TrackedLabels.Record(ctx, 3)
	m.QueueDepth.Record(ctx, 7)
	m.QueueDepth.Record(ctx, 0)

	rm := collect(t, reader)
	counters := map[string]int64{
		"labelcam.actualization.replayed_frames": 5,
		"labelcam.actualization.cancelled":       1,
		"labelcam.tracking.labels_lost":          2,
	}
	for name, want := range counters {
		found := findMetric(rm, name)
		require.NotNil(t, found, name)
		sum, ok := found.Data.(metricdata.Sum[int64])
		require.True(t, ok, name)
		require.Len(t, sum.DataPoints, 1)
		assert.Equal(t, want, sum.DataPoints[0].Value, name)
	}

	gauges := map[string]int64{
		"labelcam.tracking.labels": 3,
		"labelcam.queue.depth":     0,
	}
	for name, want := range gauges {
		found := findMetric(rm, name)
		require.NotNil(t, found, name)
		g, ok := found.Data.(metricdata.Gauge[int64])
		require.True(t, ok, name)
		require.Len(t, g.DataPoints, 1)
		assert.Equal(t, want, g.DataPoints[0].Value, name)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	t.Parallel()

	a := DefaultMetrics()
	require.NotNil(t, a)
	assert.Same(t, a, DefaultMetrics())
}

func TestInitProvider_ExportsToPrometheus(t *testing.T) {
	ctx := context.Background()

	shutdown, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	m, err := NewMetrics(otel.GetMeterProvider())
	require.NoError(t, err)
	m.RecordRecognition(ctx, StatusFound)

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "labelcam_recognition_requests")
	assert.Contains(t, rec.Body.String(), `service_name="labelcam"`)
}
