package observe

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// correlationHeader carries the request's correlation ID on the wire. Clients
// may supply their own; otherwise the trace ID is used.
const correlationHeader = "X-Correlation-ID"

// responseTap records the status code and body size a handler writes, so the
// middleware can label metrics and spans after the fact. Unwrap keeps
// websocket upgrades working through [http.ResponseController].
type responseTap struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (t *responseTap) WriteHeader(code int) {
	if t.status == 0 {
		t.status = code
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTap) Write(p []byte) (int, error) {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	n, err := t.ResponseWriter.Write(p)
	t.bytes += n
	return n, err
}

func (t *responseTap) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

// Middleware returns HTTP middleware that traces each request, stamps a
// correlation ID, and records request duration against m.
//
// The duration histogram is labelled with the matched [http.ServeMux] route
// pattern rather than the raw URL, so per-session paths such as
// /v1/sessions/abc123/result all land on one series. Requests that match no
// pattern fall back to the URL path. An inbound X-Correlation-ID header is
// honoured; otherwise the trace ID becomes the correlation ID, and either way
// it is echoed on the response and reachable via [CorrelationID].
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	tracer := otel.Tracer(meterName)
	propagator := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
				),
			)
			defer span.End()

			cid := r.Header.Get(correlationHeader)
			if cid == "" {
				if sc := span.SpanContext(); sc.HasTraceID() {
					cid = sc.TraceID().String()
				}
			}
			ctx = WithCorrelationID(ctx, cid)
			w.Header().Set(correlationHeader, cid)

			tap := &responseTap{ResponseWriter: w}
			next.ServeHTTP(tap, r.WithContext(ctx))

			// The mux assigns the matched pattern onto r during ServeHTTP,
			// so it is only readable here.
			route := r.Pattern
			spanName := "HTTP " + route
			if route == "" {
				route = r.URL.Path
				spanName = "HTTP " + r.Method + " " + route
			}
			status := tap.status
			if status == 0 {
				// Handler never wrote; net/http sends 200.
				status = http.StatusOK
			}

			span.SetName(spanName)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", status),
				attribute.Int("http.response.body.size", tap.bytes),
			)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.Int("status", status),
				),
			)

			Logger(ctx).Debug("request served",
				"method", r.Method,
				"route", route,
				"status", status,
				"bytes", tap.bytes,
				"duration", elapsed,
			)
		})
	}
}
