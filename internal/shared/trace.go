package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type senderKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithSender attaches the unique bus name of the peer that issued a call.
func WithSender(ctx context.Context, sender string) context.Context {
	return context.WithValue(ctx, senderKey{}, sender)
}

// Sender extracts the calling peer's bus name. Returns "" if absent.
func Sender(ctx context.Context) string {
	if v, ok := ctx.Value(senderKey{}).(string); ok {
		return v
	}
	return ""
}
