package streams

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tailstream/engine/internal/tracing"
)

const tracerName = "tailstream.streams"

// StartAppendSpan starts a span for an append operation
func StartAppendSpan(ctx context.Context, stream, eventType string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "streams.append",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String(tracing.AttrStreamName, stream),
		attribute.String(tracing.AttrEventType, eventType),
		attribute.String(tracing.AttrOperation, "append"),
	)
	return ctx, span
}

// StartReadSpan starts a span for a backfill read
func StartReadSpan(ctx context.Context, stream string, cursor uint64) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "streams.read",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String(tracing.AttrStreamName, stream),
		attribute.Int64(tracing.AttrCursor, int64(cursor)),
		attribute.String(tracing.AttrOperation, "read"),
	)
	return ctx, span
}

// StartDeleteSpan starts a span for a stream delete
func StartDeleteSpan(ctx context.Context, stream string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "streams.delete",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String(tracing.AttrStreamName, stream),
		attribute.String(tracing.AttrOperation, "delete"),
	)
	return ctx, span
}

// endSpan records the outcome and finishes the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
