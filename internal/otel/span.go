// Package otel holds small tracing helpers shared by the sync and storage layers.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used across spans
const (
	AttrDBSystem    = attribute.Key("db.system")
	AttrCycleID     = attribute.Key("sync.cycle_id")
	AttrCycleStage  = attribute.Key("sync.stage")
	AttrInputCount  = attribute.Key("input.count")
	AttrResultCount = attribute.Key("result.count")
	AttrSourceURL   = attribute.Key("source.url")
)

// StartSpan starts a span on tracer, or returns the span already in ctx when
// tracer is nil.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span failed. The status
// description stays generic; details live in the span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
