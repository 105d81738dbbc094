package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates an internal span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan creates a span for an incoming request.
func StartServerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// SetSpanError marks the span as errored.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Common attribute keys for daemon spans.
var (
	AttrPlantID   = attribute.Key("strix.plant_id")
	AttrStage     = attribute.Key("strix.diagnosis.stage")
	AttrCommand   = attribute.Key("strix.command")
	AttrProvider  = attribute.Key("strix.ai.provider")
	AttrModel     = attribute.Key("strix.ai.model")
	AttrMethod    = attribute.Key("strix.segment.method")
	AttrFrameSeq  = attribute.Key("strix.frame.seq")
	AttrMissionID = attribute.Key("strix.mission.phase")
)
