// Package observe provides application-wide observability primitives for
// voxmetra: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all voxmetra metrics.
const meterName = "github.com/voxmetra/voxmetra"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks speech-to-text transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// PostprocessDuration tracks audio post-processing (downmix, resample,
	// encode) latency.
	PostprocessDuration metric.Float64Histogram

	// AnalysisDuration tracks transcript metric computation latency.
	AnalysisDuration metric.Float64Histogram

	// AggregationDuration tracks weekly progress aggregation latency,
	// including conflict retries.
	AggregationDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// SessionsStarted counts capture sessions opened.
	SessionsStarted metric.Int64Counter

	// SessionsCompleted counts sessions by terminal outcome. Use with
	// attribute: attribute.String("outcome", "stopped"|"cancelled"|"auto"|"expired").
	SessionsCompleted metric.Int64Counter

	// FramesIngested counts audio frames accepted by capture sessions.
	FramesIngested metric.Int64Counter

	// AchievementsUnlocked counts achievements by type.
	AchievementsUnlocked metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// AggregationConflicts counts optimistic-concurrency retries during
	// progress aggregation.
	AggregationConflicts metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	// LiveSubscribers tracks the number of connected live-monitor websocket
	// clients across all sessions.
	LiveSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// batch transcription and analysis latencies.
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
	if met.TranscriptionDuration, err = m.Float64Histogram("voxmetra.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PostprocessDuration, err = m.Float64Histogram("voxmetra.postprocess.duration",
		metric.WithDescription("Latency of audio post-processing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("voxmetra.analysis.duration",
		metric.WithDescription("Latency of transcript metric computation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AggregationDuration, err = m.Float64Histogram("voxmetra.aggregation.duration",
		metric.WithDescription("Latency of weekly progress aggregation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("voxmetra.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("voxmetra.sessions.started",
		metric.WithDescription("Total capture sessions opened."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCompleted, err = m.Int64Counter("voxmetra.sessions.completed",
		metric.WithDescription("Total capture sessions completed by terminal outcome."),
	); err != nil {
		return nil, err
	}
	if met.FramesIngested, err = m.Int64Counter("voxmetra.frames.ingested",
		metric.WithDescription("Total audio frames accepted by capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.AchievementsUnlocked, err = m.Int64Counter("voxmetra.achievements.unlocked",
		metric.WithDescription("Total achievements unlocked by type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxmetra.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.AggregationConflicts, err = m.Int64Counter("voxmetra.aggregation.conflicts",
		metric.WithDescription("Total optimistic-concurrency conflicts during progress aggregation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxmetra.active_sessions",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.LiveSubscribers, err = m.Int64UpDownCounter("voxmetra.live_subscribers",
		metric.WithDescription("Number of connected live-monitor clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxmetra.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSessionCompleted records a session completion with its terminal
// outcome ("stopped", "cancelled", "auto", or "expired").
func (m *Metrics) RecordSessionCompleted(ctx context.Context, outcome string) {
	m.SessionsCompleted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordAchievement records an unlocked achievement by type.
func (m *Metrics) RecordAchievement(ctx context.Context, achievementType string) {
	m.AchievementsUnlocked.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", achievementType)),
	)
}
