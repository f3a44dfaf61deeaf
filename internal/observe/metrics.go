// Package observe provides application-wide observability primitives for
// voxrip: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all voxrip metrics.
const meterName = "github.com/voxrip/voxrip"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// RecognitionDuration tracks end-to-end utterance recognition latency.
	RecognitionDuration metric.Float64Histogram

	// CatalogFetchDuration tracks set-cards fetch latency.
	CatalogFetchDuration metric.Float64Histogram

	// PersistDuration tracks learning-store persist latency.
	PersistDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts recognized utterances. Use with attribute:
	//   attribute.String("status", "matched"|"below_threshold"|"no_candidates")
	Utterances metric.Int64Counter

	// Candidates counts emitted candidates across all utterances.
	Candidates metric.Int64Counter

	// TrainingSessions counts training flows. Use with attribute:
	//   attribute.String("outcome", "trained"|"cancelled"|"error")
	TrainingSessions metric.Int64Counter

	// CatalogRequests counts catalog API calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	CatalogRequests metric.Int64Counter

	// --- Error counters ---

	// CatalogErrors counts catalog client errors. Use with attributes:
	//   attribute.String("op", ...), attribute.String("kind", ...)
	CatalogErrors metric.Int64Counter

	// --- Gauges ---

	// PatternsLearned tracks the number of patterns in the learning store.
	PatternsLearned metric.Int64UpDownCounter

	// ActiveSpeechClients tracks the number of connected speech clients.
	ActiveSpeechClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for recognition and storage latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognitionDuration, err = m.Float64Histogram("voxrip.recognition.duration",
		metric.WithDescription("Latency of end-to-end utterance recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CatalogFetchDuration, err = m.Float64Histogram("voxrip.catalog.fetch.duration",
		metric.WithDescription("Latency of set-cards fetches from the card catalog."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PersistDuration, err = m.Float64Histogram("voxrip.learning.persist.duration",
		metric.WithDescription("Latency of learning-store persist operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("voxrip.recognition.utterances",
		metric.WithDescription("Total recognized utterances by status."),
	); err != nil {
		return nil, err
	}
	if met.Candidates, err = m.Int64Counter("voxrip.recognition.candidates",
		metric.WithDescription("Total candidates emitted across all utterances."),
	); err != nil {
		return nil, err
	}
	if met.TrainingSessions, err = m.Int64Counter("voxrip.training.sessions",
		metric.WithDescription("Total training flows by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CatalogRequests, err = m.Int64Counter("voxrip.catalog.requests",
		metric.WithDescription("Total catalog API requests by operation and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.CatalogErrors, err = m.Int64Counter("voxrip.catalog.errors",
		metric.WithDescription("Total catalog client errors by operation and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PatternsLearned, err = m.Int64UpDownCounter("voxrip.learning.patterns",
		metric.WithDescription("Number of patterns currently in the learning store."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSpeechClients, err = m.Int64UpDownCounter("voxrip.speech.active_clients",
		metric.WithDescription("Number of connected speech clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxrip.http.request.duration",
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

// RecordUtterance records one recognized utterance with its status.
func (m *Metrics) RecordUtterance(ctx context.Context, status string, candidates int) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	if candidates > 0 {
		m.Candidates.Add(ctx, int64(candidates))
	}
}

// RecordTrainingSession records one completed training flow.
func (m *Metrics) RecordTrainingSession(ctx context.Context, outcome string) {
	m.TrainingSessions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordCatalogRequest records a catalog API call with its status.
func (m *Metrics) RecordCatalogRequest(ctx context.Context, op, status string) {
	m.CatalogRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordCatalogError records a classified catalog client error.
func (m *Metrics) RecordCatalogError(ctx context.Context, op, kind string) {
	m.CatalogErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("kind", kind),
		),
	)
}
