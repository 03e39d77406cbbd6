package executor

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gml4tdm/checkpointed-go/pipeline"
)

// Span is the subset of trace.Span the executor needs, so a step's
// execution can be wrapped without importing the otel API directly into
// every caller.
type Span interface {
	End()
	RecordError(err error)
	SetStatus(code codes.Code, description string)
}

// Tracer starts one span per task dispatch.
type Tracer interface {
	StartSpan(ctx context.Context, pipelineName string, step pipeline.StepHandle) (context.Context, Span)
}

// OTelTracer implements Tracer against an OpenTelemetry trace.Tracer.
type OTelTracer struct {
	tracer oteltrace.Tracer
}

// NewOTelTracer wraps an OpenTelemetry tracer for use by a TaskExecutor.
func NewOTelTracer(tracer oteltrace.Tracer) *OTelTracer {
	return &OTelTracer{tracer: tracer}
}

func (t *OTelTracer) StartSpan(ctx context.Context, pipelineName string, step pipeline.StepHandle) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, "pipeline.step",
		oteltrace.WithAttributes(
			attribute.String("pipeline.name", pipelineName),
			attribute.String("pipeline.step", step.String()),
		),
	)
	return ctx, otelSpan{span}
}

type otelSpan struct {
	span oteltrace.Span
}

func (s otelSpan) End()                                      { s.span.End() }
func (s otelSpan) RecordError(err error)                      { s.span.RecordError(err) }
func (s otelSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }
