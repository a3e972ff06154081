package telemetry

import (
	"context"
	"errors"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	if GetTraceID(context.Background()) != "" {
		t.Error("expected no trace id without a span")
	}
}

func TestSpanAttributes(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer = tp.Tracer(ServiceName)
	t.Cleanup(func() { tracer = nil })

	ctx, span := StartSpan(context.Background(), "chat.turn")
	AddTurnAttributes(span, "req-1", "u1", "deep")
	AddModelAttributes(span, "anthropic", "anthropic/claude-sonnet-4-5", false)
	AddDialectAttributes(span, "gulf", "high")
	AddTokenAttributes(span, 10, 5)
	AddErrorAttribute(span, errors.New("boom"))

	if GetTraceID(ctx) == "" {
		t.Error("expected a trace id inside a recording span")
	}
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	for key, want := range map[string]string{
		"request.id":   "req-1",
		"dialect":      "gulf",
		"tokens.total": "15",
	} {
		if attrs[key] != want {
			t.Errorf("%s = %q, want %q", key, attrs[key], want)
		}
	}
	if len(ended[0].Events()) == 0 {
		t.Error("expected the error to be recorded as an event")
	}
}
