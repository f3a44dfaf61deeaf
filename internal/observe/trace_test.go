package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracing swaps in a tracer provider backed by an in-memory
// exporter and restores the previous global on cleanup.
func installTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog points slog's default at a buffer for the test's duration.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationIDOutsideSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Fatalf("CorrelationID outside a span = %q, want empty", got)
	}
}

func TestCorrelationIDMatchesExportedSpan(t *testing.T) {
	exp := installTracing(t)

	ctx, span := StartSpan(context.Background(), "recognize utterance")
	cid := CorrelationID(ctx)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Name != "recognize utterance" {
		t.Fatalf("span name = %q", spans[0].Name)
	}
	if want := spans[0].SpanContext.TraceID().String(); cid != want {
		t.Fatalf("correlation ID = %q, want trace ID %q", cid, want)
	}
}

func TestCorrelationIDsDistinctPerTrace(t *testing.T) {
	installTracing(t)

	seen := make(map[string]struct{}, 50)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "utterance")
		cid := CorrelationID(ctx)
		span.End()
		if _, dup := seen[cid]; dup {
			t.Fatalf("correlation ID %s repeated across traces", cid)
		}
		seen[cid] = struct{}{}
	}
}

func TestLoggerTagsSpanIdentity(t *testing.T) {
	installTracing(t)
	buf := captureLog(t)

	ctx, span := StartSpan(context.Background(), "tagged")
	defer span.End()

	Logger(ctx).Info("pattern persisted")

	out := buf.String()
	if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) {
		t.Fatalf("log line missing the active trace ID: %s", out)
	}
	if !strings.Contains(out, "span_id=") {
		t.Fatalf("log line missing span_id: %s", out)
	}
}

func TestLoggerPlainOutsideSpan(t *testing.T) {
	buf := captureLog(t)

	Logger(context.Background()).Info("startup")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Fatalf("untraced log line carries trace fields: %s", out)
	}
}
