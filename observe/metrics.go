// Package observe provides the OpenTelemetry metrics of the recognition and
// tracking pipeline.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that they can be scraped
// from /metrics. A package-level default [Metrics] instance ([DefaultMetrics])
// is used by components that were not given one; tests should use
// [NewMetrics] with a custom [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all labelcam metrics.
const meterName = "labelcam"

// Recognition request outcomes recorded on RecognitionRequests.
const (
	StatusStarted = "started"
	StatusDropped = "dropped"
	StatusFound   = "found"
	StatusMiss    = "miss"
	StatusFailed  = "failed"
)

// Metrics holds all OpenTelemetry instruments of the pipeline. All fields are
// safe for concurrent use.
type Metrics struct {
	// RecognitionDuration tracks the latency of one background match.
	RecognitionDuration metric.Float64Histogram

	// ActualizationDuration tracks the latency of a completed replay.
	ActualizationDuration metric.Float64Histogram

	// UpdateDuration tracks the fast per-frame update.
	UpdateDuration metric.Float64Histogram

	// RecognitionRequests counts recognition triggers and outcomes. Use with
	// attribute.String("status", ...).
	RecognitionRequests metric.Int64Counter

	// ReplayedFrames counts frames re-applied by committed replays.
	ReplayedFrames metric.Int64Counter

	// ActualizationsCancelled counts replays aborted before committing.
	ActualizationsCancelled metric.Int64Counter

	// LabelsLost counts labels dropped because their feature support vanished.
	LabelsLost metric.Int64Counter

	// TrackedLabels is the number of labels in the committed object.
	TrackedLabels metric.Int64Gauge

	// QueueDepth is the number of frames buffered for the current cycle.
	QueueDepth metric.Int64Gauge
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning a
// fast update (a few ms) up to a slow match or a long replay.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RecognitionDuration, err = m.Float64Histogram("labelcam.recognition.duration",
		metric.WithDescription("Latency of one background recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActualizationDuration, err = m.Float64Histogram("labelcam.actualization.duration",
		metric.WithDescription("Latency of a committed actualization replay."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UpdateDuration, err = m.Float64Histogram("labelcam.update.duration",
		metric.WithDescription("Latency of the per-frame tracking update."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.RecognitionRequests, err = m.Int64Counter("labelcam.recognition.requests",
		metric.WithDescription("Recognition triggers and outcomes by status."),
	); err != nil {
		return nil, err
	}
	if met.ReplayedFrames, err = m.Int64Counter("labelcam.actualization.replayed_frames",
		metric.WithDescription("Frames re-applied by committed actualizations."),
	); err != nil {
		return nil, err
	}
	if met.ActualizationsCancelled, err = m.Int64Counter("labelcam.actualization.cancelled",
		metric.WithDescription("Actualizations aborted before committing."),
	); err != nil {
		return nil, err
	}
	if met.LabelsLost, err = m.Int64Counter("labelcam.tracking.labels_lost",
		metric.WithDescription("Labels dropped after losing all feature support."),
	); err != nil {
		return nil, err
	}

	if met.TrackedLabels, err = m.Int64Gauge("labelcam.tracking.labels",
		metric.WithDescription("Number of labels in the committed object."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64Gauge("labelcam.queue.depth",
		metric.WithDescription("Frames buffered since the current recognition cycle began."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordRecognition is a convenience method that counts a recognition
// request with the given status.
func (m *Metrics) RecordRecognition(ctx context.Context, status string) {
	m.RecognitionRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
