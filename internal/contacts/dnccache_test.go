package contacts

import (
	"context"
	"log/slog"
	"testing"
)

type fakeDNCStore struct {
	listed map[string]bool
	calls  int
}

func (f *fakeDNCStore) IsDNC(ctx context.Context, phone string) (bool, error) {
	f.calls++
	return f.listed[phone], nil
}

func TestDNCCache_NilRedisFallsThroughToStore(t *testing.T) {
	store := &fakeDNCStore{listed: map[string]bool{"+15550001": true}}
	cache := NewDNCCache(nil, store, slog.Default())

	on, err := cache.Contains(context.Background(), "+15550001")
	if err != nil {
		t.Fatalf("contains: %v", err)
	}
	if !on {
		t.Fatalf("expected listed phone")
	}
	if store.calls != 1 {
		t.Fatalf("expected store consulted once, got %d", store.calls)
	}

	on, err = cache.Contains(context.Background(), "+15559999")
	if err != nil {
		t.Fatalf("contains: %v", err)
	}
	if on {
		t.Fatalf("expected unlisted phone")
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusDNC} {
		if !s.IsTerminal() {
			t.Fatalf("expected %s terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusCalled} {
		if s.IsTerminal() {
			t.Fatalf("expected %s non-terminal", s)
		}
	}
}
