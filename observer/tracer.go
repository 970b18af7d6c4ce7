package observer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/anikeev/taiga"
)

// graphTracer adapts the execution graph's Tracer contract onto
// OpenTelemetry. Span names come from the graph itself (graph.turn,
// graph.dispatch); this layer only carries them and their attributes
// through to the configured provider.
type graphTracer struct {
	inner trace.Tracer
}

// NewTracer returns a taiga.Tracer backed by the global OTEL
// TracerProvider. Call Init first to configure the provider; otherwise
// spans go to a no-op backend.
func NewTracer() taiga.Tracer {
	return &graphTracer{inner: otel.Tracer(scopeName)}
}

func (t *graphTracer) Start(ctx context.Context, name string, attrs ...taiga.SpanAttr) (context.Context, taiga.Span) {
	ctx, span := t.inner.Start(ctx, name, trace.WithAttributes(keyValues(attrs)...))
	return ctx, &graphSpan{inner: span}
}

type graphSpan struct {
	inner trace.Span
}

func (s *graphSpan) SetAttr(attrs ...taiga.SpanAttr) {
	s.inner.SetAttributes(keyValues(attrs)...)
}

func (s *graphSpan) Event(name string, attrs ...taiga.SpanAttr) {
	s.inner.AddEvent(name, trace.WithAttributes(keyValues(attrs)...))
}

func (s *graphSpan) Error(err error) {
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *graphSpan) End() { s.inner.End() }

// keyValues converts graph span attributes to OTEL key-values. The graph
// emits string (conversation.id, tool.name), int (iteration, invocations),
// and bool (tool.subagent) attributes; anything else is stringified.
func keyValues(attrs []taiga.SpanAttr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			out[i] = attribute.String(a.Key, v)
		case int:
			out[i] = attribute.Int(a.Key, v)
		case bool:
			out[i] = attribute.Bool(a.Key, v)
		default:
			out[i] = attribute.String(a.Key, fmt.Sprintf("%v", v))
		}
	}
	return out
}

var (
	_ taiga.Tracer = (*graphTracer)(nil)
	_ taiga.Span   = (*graphSpan)(nil)
)
