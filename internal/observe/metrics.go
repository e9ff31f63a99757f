// Package observe provides application-wide observability primitives for
// the biofeedback service: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/biofeedback"

// Stage labels used with the "stage" attribute.
const (
	StagePulse  = "pulse"
	StageFacial = "facial"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// InferenceDuration tracks the latency of one waveform inference batch.
	InferenceDuration metric.Float64Histogram

	// FacialDuration tracks per-frame facial metric extraction latency.
	FacialDuration metric.Float64Histogram

	// BackendDuration tracks compute-backend call latency. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("op", ...)
	BackendDuration metric.Float64Histogram

	// --- Counters ---

	// FramesIngested counts frames accepted from capture.
	FramesIngested metric.Int64Counter

	// FramesProcessed counts frames consumed by a stage. Use with attribute:
	//   attribute.String("stage", ...)
	FramesProcessed metric.Int64Counter

	// FramesReleased counts frame handles released on session reset.
	FramesReleased metric.Int64Counter

	// InferenceErrors counts inference batches that produced no output.
	InferenceErrors metric.Int64Counter

	// BackendCalls counts compute-backend calls. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("op", ...), attribute.String("status", ...)
	BackendCalls metric.Int64Counter

	// BreakerTransitions counts compute-backend circuit breaker state
	// changes. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// QueueDepth is the frame-queue depth observed by the pulse loop.
	QueueDepth metric.Int64Gauge

	// HeartRate is the most recent heart-rate estimate in bpm.
	HeartRate metric.Float64Gauge

	// RMSSD is the most recent RMSSD in ms.
	RMSSD metric.Float64Gauge

	// RespiratoryRate is the most recent respiratory rate in breaths/min.
	RespiratoryRate metric.Float64Gauge

	// ActiveSessions tracks the number of live processing sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-frame and per-batch work.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.InferenceDuration, err = m.Float64Histogram("biofeedback.inference.duration",
		metric.WithDescription("Latency of one waveform inference batch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FacialDuration, err = m.Float64Histogram("biofeedback.facial.duration",
		metric.WithDescription("Latency of per-frame facial metric extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendDuration, err = m.Float64Histogram("biofeedback.backend.duration",
		metric.WithDescription("Latency of compute backend calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesIngested, err = m.Int64Counter("biofeedback.frames.ingested",
		metric.WithDescription("Total frames accepted from capture."),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("biofeedback.frames.processed",
		metric.WithDescription("Total frames consumed by stage."),
	); err != nil {
		return nil, err
	}
	if met.FramesReleased, err = m.Int64Counter("biofeedback.frames.released_on_reset",
		metric.WithDescription("Total queued frames released by a session reset."),
	); err != nil {
		return nil, err
	}
	if met.InferenceErrors, err = m.Int64Counter("biofeedback.inference.errors",
		metric.WithDescription("Total inference batches that produced no output."),
	); err != nil {
		return nil, err
	}
	if met.BackendCalls, err = m.Int64Counter("biofeedback.backend.calls",
		metric.WithDescription("Total compute backend calls by backend, op, and status."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("biofeedback.compute.breaker_transitions",
		metric.WithDescription("Circuit breaker state changes per compute backend."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.QueueDepth, err = m.Int64Gauge("biofeedback.frames.queue_depth",
		metric.WithDescription("Frames waiting in the signal buffer."),
	); err != nil {
		return nil, err
	}
	if met.HeartRate, err = m.Float64Gauge("biofeedback.heart_rate",
		metric.WithDescription("Most recent heart-rate estimate."),
		metric.WithUnit("{beat}/min"),
	); err != nil {
		return nil, err
	}
	if met.RMSSD, err = m.Float64Gauge("biofeedback.hrv.rmssd",
		metric.WithDescription("Most recent RMSSD."),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if met.RespiratoryRate, err = m.Float64Gauge("biofeedback.respiratory_rate",
		metric.WithDescription("Most recent respiratory-rate estimate."),
		metric.WithUnit("{breath}/min"),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("biofeedback.active_sessions",
		metric.WithDescription("Number of live processing sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("biofeedback.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameProcessed records one frame consumed by stage.
func (m *Metrics) RecordFrameProcessed(ctx context.Context, stage string) {
	m.FramesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordBackendCall records a compute-backend call with the standard
// attribute set.
func (m *Metrics) RecordBackendCall(ctx context.Context, backend, op, status string) {
	m.BackendCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}
