// Package observe provides application-wide observability primitives for
// wakegate: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all wakegate metrics.
const meterName = "github.com/MrWong99/wakegate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// RecognizerDuration tracks the time spent inside one AcceptWaveform call.
	RecognizerDuration metric.Float64Histogram

	// RunDuration tracks the wall-clock length of a detector run. Use with
	// attribute:
	//   attribute.String("outcome", ...)
	RunDuration metric.Float64Histogram

	// --- Utterance statistics ---

	// UtteranceRMS records the running-maximum RMS of every evaluated
	// utterance.
	UtteranceRMS metric.Float64Histogram

	// UtteranceConfidence records word confidences of evaluated utterances.
	// Use with attribute:
	//   attribute.String("stat", "min"|"mean")
	UtteranceConfidence metric.Float64Histogram

	// --- Counters ---

	// Triggers counts accepted wake phrases. Use with attribute:
	//   attribute.String("phrase", ...)
	Triggers metric.Int64Counter

	// Rejections counts rejected utterances. Use with attribute:
	//   attribute.String("reason", ...)
	Rejections metric.Int64Counter

	// CapturedChunks counts chunks accepted by the audio queue.
	CapturedChunks metric.Int64Counter

	// DroppedChunks counts chunks discarded because the audio queue was full.
	DroppedChunks metric.Int64Counter

	// --- Error counters ---

	// CaptureFailures counts capture sources that ended unexpectedly.
	CaptureFailures metric.Int64Counter

	// RecognizerErrors counts recognizer failures. Use with attribute:
	//   attribute.String("engine", ...)
	RecognizerErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveRuns tracks the number of detector runs in progress.
	ActiveRuns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// per-chunk recognizer latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// runBuckets covers detector runs from a quick trigger to long unattended
// waits.
var runBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 30, 60, 300, 900, 3600,
}

// rmsBuckets spans int16 RMS levels from near silence to full scale.
var rmsBuckets = []float64{
	50, 100, 200, 350, 500, 1000, 2000, 4000, 8000, 16000, 32768,
}

var confidenceBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognizerDuration, err = m.Float64Histogram("wakegate.recognizer.duration",
		metric.WithDescription("Latency of feeding one chunk to the recognizer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RunDuration, err = m.Float64Histogram("wakegate.run.duration",
		metric.WithDescription("Wall-clock duration of detector runs by outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(runBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceRMS, err = m.Float64Histogram("wakegate.utterance.rms",
		metric.WithDescription("Running-maximum int16 RMS of evaluated utterances."),
		metric.WithExplicitBucketBoundaries(rmsBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceConfidence, err = m.Float64Histogram("wakegate.utterance.confidence",
		metric.WithDescription("Word confidence statistics of evaluated utterances."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Triggers, err = m.Int64Counter("wakegate.triggers",
		metric.WithDescription("Total accepted wake phrases by phrase."),
	); err != nil {
		return nil, err
	}
	if met.Rejections, err = m.Int64Counter("wakegate.rejections",
		metric.WithDescription("Total rejected utterances by reason."),
	); err != nil {
		return nil, err
	}
	if met.CapturedChunks, err = m.Int64Counter("wakegate.capture.chunks",
		metric.WithDescription("Total audio chunks accepted by the queue."),
	); err != nil {
		return nil, err
	}
	if met.DroppedChunks, err = m.Int64Counter("wakegate.capture.dropped_chunks",
		metric.WithDescription("Total audio chunks dropped because the queue was full."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.CaptureFailures, err = m.Int64Counter("wakegate.capture.failures",
		metric.WithDescription("Total unexpected capture stream ends."),
	); err != nil {
		return nil, err
	}
	if met.RecognizerErrors, err = m.Int64Counter("wakegate.recognizer.errors",
		metric.WithDescription("Total recognizer errors by engine."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRuns, err = m.Int64UpDownCounter("wakegate.active_runs",
		metric.WithDescription("Number of detector runs in progress."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("wakegate.http.request.duration",
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

// RecordTrigger records an accepted wake phrase together with its utterance
// statistics.
func (m *Metrics) RecordTrigger(ctx context.Context, phrase string, rms, minConf, meanConf float64) {
	m.Triggers.Add(ctx, 1, metric.WithAttributes(attribute.String("phrase", phrase)))
	m.recordUtterance(ctx, rms, minConf, meanConf)
}

// RecordRejection records a rejected utterance. Statistics are only recorded
// when withStats is true; cooldown and empty rejections carry none.
func (m *Metrics) RecordRejection(ctx context.Context, reason string, withStats bool, rms, minConf, meanConf float64) {
	m.Rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	if withStats {
		m.recordUtterance(ctx, rms, minConf, meanConf)
	}
}

func (m *Metrics) recordUtterance(ctx context.Context, rms, minConf, meanConf float64) {
	m.UtteranceRMS.Record(ctx, rms)
	m.UtteranceConfidence.Record(ctx, minConf, metric.WithAttributes(attribute.String("stat", "min")))
	m.UtteranceConfidence.Record(ctx, meanConf, metric.WithAttributes(attribute.String("stat", "mean")))
}

// RecordRun records the duration of a finished detector run.
func (m *Metrics) RecordRun(ctx context.Context, outcome string, d time.Duration) {
	m.RunDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRecognizerError records a recognizer failure for engine.
func (m *Metrics) RecordRecognizerError(ctx context.Context, engine string) {
	m.RecognizerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", engine)))
}
