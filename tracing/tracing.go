// Package tracing wraps OpenTelemetry span creation around workflow stage
// execution and batch deployment cohorts. The Start/End shape is grounded
// on the registry.Observability pattern used elsewhere in the retrieved
// example pack for wrapping outbound calls in a span with a recorded
// outcome.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer produces spans for one named component ("contractforge.orchestrator",
// "contractforge.scheduler").
type Tracer struct {
	tracer trace.Tracer
}

// New returns a Tracer reporting against the global TracerProvider
// (otel.SetTracerProvider). Absent a configured provider, the default is a
// no-op tracer, so instrumenting a call path costs nothing until an
// operator wires an exporter.
func New(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// Start begins a span for operation, tagged with attrs.
func (t *Tracer) Start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// End closes span, recording err onto it and setting an Error status when
// non-nil, or an Ok status otherwise.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
