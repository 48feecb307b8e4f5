package shared

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected -, got %q", got)
	}

	id := NewTraceID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("trace id %q is not a uuid: %v", id, err)
	}
	ctx = WithTraceID(ctx, id)
	if got := TraceID(ctx); got != id {
		t.Fatalf("expected %q, got %q", id, got)
	}

	// Empty ids fall back to the placeholder.
	if got := TraceID(WithTraceID(ctx, "")); got != "-" {
		t.Fatalf("expected -, got %q", got)
	}
}

func TestSender_DefaultEmpty(t *testing.T) {
	ctx := context.Background()
	if got := Sender(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithSender(ctx, ":1.42")
	if got := Sender(ctx); got != ":1.42" {
		t.Fatalf("expected :1.42, got %q", got)
	}
}
