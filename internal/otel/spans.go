package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for gnomato spans and metrics.
var (
	AttrTaskID     = attribute.Key("gnomato.task.id")
	AttrStoreOp    = attribute.Key("gnomato.store.op")
	AttrIPCMethod  = attribute.Key("gnomato.ipc.method")
	AttrIPCOutcome = attribute.Key("gnomato.ipc.outcome")
	AttrBusName    = attribute.Key("gnomato.bus.name")
	AttrTraceID    = attribute.Key("gnomato.trace_id")
)

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound bus method call.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}
