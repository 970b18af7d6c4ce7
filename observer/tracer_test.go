package observer

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/anikeev/taiga"
)

func newRecordingTracer(t *testing.T) (*tracetest.SpanRecorder, taiga.Tracer) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder, NewTracer()
}

func TestTracerCarriesGraphAttributes(t *testing.T) {
	recorder, tracer := newRecordingTracer(t)

	_, span := tracer.Start(context.Background(), "graph.turn",
		taiga.StringAttr("conversation.id", "conv-1"),
		taiga.IntAttr("iteration", 2),
		taiga.BoolAttr("tool.subagent", true))
	span.SetAttr(taiga.IntAttr("invocations", 1))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	got := spans[0]
	if got.Name() != "graph.turn" {
		t.Errorf("span name = %q", got.Name())
	}

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range got.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["conversation.id"].AsString() != "conv-1" {
		t.Errorf("conversation.id = %v", attrs["conversation.id"])
	}
	if attrs["iteration"].AsInt64() != 2 {
		t.Errorf("iteration = %v", attrs["iteration"])
	}
	if !attrs["tool.subagent"].AsBool() {
		t.Errorf("tool.subagent = %v", attrs["tool.subagent"])
	}
	if attrs["invocations"].AsInt64() != 1 {
		t.Errorf("invocations = %v", attrs["invocations"])
	}
}

func TestTracerRecordsError(t *testing.T) {
	recorder, tracer := newRecordingTracer(t)

	_, span := tracer.Start(context.Background(), "graph.dispatch")
	span.Error(errors.New("tool exploded"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want error", spans[0].Status())
	}
	if len(spans[0].Events()) == 0 {
		t.Error("no error event recorded")
	}
}
