package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig identifies the service in exported telemetry.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
}

// httpLatencyBuckets sizes the HTTP histogram for a mixed surface: ingest
// pushes answer in microseconds, a Finish that runs the full transcription
// pipeline can take tens of seconds.
var httpLatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60,
}

// InitProvider installs the global OpenTelemetry meter and tracer providers
// and the W3C trace-context propagator. Metrics are exported through the
// Prometheus bridge and scraped from /metrics. The returned function shuts
// both providers down and joins their errors.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, err
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
		// Pipeline-stage histograms carry their boundaries at the
		// instrument; the HTTP histogram gets its wider range here.
		sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: "voxmetra.http.request.duration"},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: httpLatencyBuckets,
			}},
		)),
	)
	otel.SetMeterProvider(mp)

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(shutdownCtx context.Context) error {
		return errors.Join(mp.Shutdown(shutdownCtx), tp.Shutdown(shutdownCtx))
	}, nil
}
