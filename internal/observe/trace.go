package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

// correlationKey holds the request's correlation ID in the context.
const correlationKey ctxKey = iota

// Tracer returns the application tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(meterName)
}

// StartSpan starts a pipeline-stage span on the application tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithCorrelationID stores a correlation ID in the context. The middleware
// calls this once per request; pipeline stages inherit it through ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationID returns the request's correlation ID: the value stamped by
// the middleware (the client-supplied X-Correlation-ID when present), or the
// active span's trace ID, or "" outside any request.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the context's correlation
// and trace identity, so every pipeline log line can be joined back to the
// request that produced the recording.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	if id, ok := ctx.Value(correlationKey).(string); ok && id != sc.TraceID().String() {
		l = l.With("correlation_id", id)
	}
	return l
}
