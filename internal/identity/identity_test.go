package identity

import (
	"context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := NewContext(context.Background(), Identity{Name: "alice"})
	if got := FromContext(ctx); got.Name != "alice" {
		t.Fatalf("expected alice from context, got %q", got.Name)
	}
	if got := FromContext(context.Background()); !got.IsAnonymous() {
		t.Fatalf("expected anonymous identity in empty context, got %q", got.Name)
	}
	if (Identity{}).Key() != Anonymous().Key() {
		t.Fatalf("zero identity should share the anonymous key")
	}
}
