package context

import (
	"context"
	"testing"
)

func TestEnsureCorrelationIDGeneratesOnce(t *testing.T) {
	ctx, first := EnsureCorrelationID(context.Background())
	if first == "" {
		t.Fatalf("expected generated correlation id")
	}
	_, second := EnsureCorrelationID(ctx)
	if first != second {
		t.Fatalf("expected stable correlation id, got %q then %q", first, second)
	}
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	ctx := WithRequestID(context.Background(), "  ")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
	ctx = WithActor(ctx, "system", "scheduler")
	kind, id := ActorFromContext(ctx)
	if kind != "system" || id != "scheduler" {
		t.Fatalf("unexpected actor %q/%q", kind, id)
	}
}
