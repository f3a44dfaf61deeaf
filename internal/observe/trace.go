package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// scopeName identifies voxrip's instrumentation scope on every span.
const scopeName = "github.com/voxrip/voxrip"

// StartSpan opens a span on the globally registered tracer provider and
// returns the span together with the context carrying it. The caller
// ends the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(scopeName).Start(ctx, name, opts...)
}

// CorrelationID is the hex trace ID of the span carried by ctx, or the
// empty string outside a trace. voxrip has no upstream services, so the
// trace ID doubles as the correlation ID clients quote when reporting a
// misrecognized card.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger tagged with the trace and span IDs
// from ctx. Outside a span it returns the default logger untouched.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
