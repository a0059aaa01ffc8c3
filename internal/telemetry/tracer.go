package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "stimlog"

// Tracer wraps OpenTelemetry tracing for stimlog.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("stimlog.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// EndSpan marks the span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Common attribute keys for stimlog tracing.
var (
	AttrFlushID    = attribute.Key("stimlog.flush.id")
	AttrRecords    = attribute.Key("stimlog.flush.records")
	AttrStimulus   = attribute.Key("stimlog.stimulus")
	AttrStimulusID = attribute.Key("stimlog.stimulus.id")
	AttrUser       = attribute.Key("stimlog.db.user")
	AttrChanged    = attribute.Key("stimlog.monitor.changed")
)
