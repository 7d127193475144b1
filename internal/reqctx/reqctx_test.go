package reqctx

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc-123")
	if got := CorrelationID(ctx); got != "abc-123" {
		t.Fatalf("got %q", got)
	}
}

func TestCorrelationIDUnsetIsEmpty(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestEnsureCorrelationIDGeneratesWhenMissing(t *testing.T) {
	ctx := EnsureCorrelationID(context.Background())
	if CorrelationID(ctx) == "" {
		t.Fatal("expected a generated correlation id")
	}
}

func TestEnsureCorrelationIDPreservesExisting(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "keep-me")
	ctx = EnsureCorrelationID(ctx)
	if got := CorrelationID(ctx); got != "keep-me" {
		t.Fatalf("got %q", got)
	}
}

func TestMessageIDRoundTrip(t *testing.T) {
	id := uuid.New()
	ctx := WithMessageID(context.Background(), id)
	if got := MessageID(ctx); got != id {
		t.Fatalf("got %v want %v", got, id)
	}
}

func TestMessageIDUnsetIsZero(t *testing.T) {
	if got := MessageID(context.Background()); got != uuid.Nil {
		t.Fatalf("expected zero uuid, got %v", got)
	}
}
