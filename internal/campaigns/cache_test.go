package campaigns

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"dialer-platform/internal/events"
)

type fakeStore struct {
	mu        sync.Mutex
	listed    []Campaign
	listErr   error
	completed []string
	// blocked mimics the guarded update refusing campaigns that still
	// have pending or in-flight contacts.
	blocked map[string]bool
}

func (f *fakeStore) ListActiveWithPendingWork(ctx context.Context) ([]Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Campaign, len(f.listed))
	copy(out, f.listed)
	return out, nil
}

func (f *fakeStore) MarkCompleted(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocked[id] {
		return false, nil
	}
	for _, c := range f.completed {
		if c == id {
			return false, nil
		}
	}
	f.completed = append(f.completed, id)
	return true, nil
}

func (f *fakeStore) completedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.completed...)
}

func newTestCache(store *fakeStore) *Cache {
	return NewCache(store, events.NewBus(), slog.Default())
}

func TestRefresh_AddsAndRemovesCampaigns(t *testing.T) {
	store := &fakeStore{listed: []Campaign{
		{ID: "c1", MaxConcurrentCalls: 2, PendingCount: 5},
		{ID: "c2", MaxConcurrentCalls: 1, PendingCount: 1},
	}}
	cache := newTestCache(store)

	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if cache.Len() != 2 {
		t.Fatalf("expected 2 cached campaigns, got %d", cache.Len())
	}

	// c2 exhausted its pending work.
	store.mu.Lock()
	store.listed = store.listed[:1]
	store.mu.Unlock()

	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected 1 cached campaign, got %d", cache.Len())
	}
	if _, ok := cache.Get("c2"); ok {
		t.Fatalf("expected c2 removed")
	}
}

func TestRefresh_PreservesLiveCounter(t *testing.T) {
	store := &fakeStore{listed: []Campaign{{ID: "c1", MaxConcurrentCalls: 3, PendingCount: 5}}}
	cache := newTestCache(store)
	ctx := context.Background()

	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !cache.TryAcquireSlot(ctx, "c1") {
		t.Fatalf("expected slot acquired")
	}

	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	cam, _ := cache.Get("c1")
	if cam.ActiveCalls != 1 {
		t.Fatalf("expected live counter preserved across refresh, got %d", cam.ActiveCalls)
	}
}

func TestRefresh_PropagatesStoreError(t *testing.T) {
	store := &fakeStore{listErr: errors.New("db down")}
	cache := newTestCache(store)
	if err := cache.Refresh(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTryAcquireSlot_EnforcesCapacity(t *testing.T) {
	store := &fakeStore{listed: []Campaign{{ID: "c1", MaxConcurrentCalls: 2, PendingCount: 5}}}
	cache := newTestCache(store)
	ctx := context.Background()
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if !cache.TryAcquireSlot(ctx, "c1") || !cache.TryAcquireSlot(ctx, "c1") {
		t.Fatalf("expected two slots under a capacity of 2")
	}
	if cache.TryAcquireSlot(ctx, "c1") {
		t.Fatalf("third slot must be refused")
	}

	cache.ReleaseSlot(ctx, "c1")
	if !cache.TryAcquireSlot(ctx, "c1") {
		t.Fatalf("expected slot after release")
	}
}

func TestTryAcquireSlot_ConcurrentNeverExceedsCapacity(t *testing.T) {
	store := &fakeStore{listed: []Campaign{{ID: "c1", MaxConcurrentCalls: 2, PendingCount: 50}}}
	cache := newTestCache(store)
	ctx := context.Background()
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cache.TryAcquireSlot(ctx, "c1") {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 2 {
		t.Fatalf("expected exactly 2 grants under concurrency, got %d", granted)
	}
	cam, _ := cache.Get("c1")
	if cam.ActiveCalls > cam.MaxConcurrentCalls {
		t.Fatalf("capacity invariant violated: %d > %d", cam.ActiveCalls, cam.MaxConcurrentCalls)
	}
}

func TestReleaseSlot_FloorsAtZeroAndIgnoresRemoved(t *testing.T) {
	store := &fakeStore{listed: []Campaign{{ID: "c1", MaxConcurrentCalls: 1, PendingCount: 1}}}
	cache := newTestCache(store)
	ctx := context.Background()
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	cache.ReleaseSlot(ctx, "c1")
	cam, _ := cache.Get("c1")
	if cam.ActiveCalls != 0 {
		t.Fatalf("expected floor at zero, got %d", cam.ActiveCalls)
	}

	// Unknown campaign: no panic, no counter change.
	cache.ReleaseSlot(ctx, "ghost")
}

func TestRefresh_RemovalSettlesCompletion(t *testing.T) {
	store := &fakeStore{listed: []Campaign{
		{ID: "c1", MaxConcurrentCalls: 2, PendingCount: 5},
		{ID: "c2", MaxConcurrentCalls: 1, PendingCount: 1},
	}}
	cache := newTestCache(store)
	ctx := context.Background()
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// c2 exhausted its pending work between watcher cycles.
	store.mu.Lock()
	store.listed = store.listed[:1]
	store.mu.Unlock()
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	done := store.completedIDs()
	if len(done) != 1 || done[0] != "c2" {
		t.Fatalf("expected c2 settled on removal, got %v", done)
	}
}

func TestReleaseSlot_DrainAfterRemovalSettlesCompletion(t *testing.T) {
	store := &fakeStore{listed: []Campaign{{ID: "c1", MaxConcurrentCalls: 2, PendingCount: 1}}}
	cache := newTestCache(store)
	ctx := context.Background()
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	cache.TryAcquireSlot(ctx, "c1")

	// Watcher removes the campaign while its last call is in flight; the
	// guarded update refuses to flip until the call's contact settles.
	store.mu.Lock()
	store.listed = nil
	store.blocked = map[string]bool{"c1": true}
	store.mu.Unlock()
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := store.completedIDs(); len(got) != 0 {
		t.Fatalf("completion settled too early: %v", got)
	}

	// The call drains after removal; the release settles completion.
	store.mu.Lock()
	store.blocked = nil
	store.mu.Unlock()
	cache.ReleaseSlot(ctx, "c1")
	done := store.completedIDs()
	if len(done) != 1 || done[0] != "c1" {
		t.Fatalf("expected c1 settled on drain, got %v", done)
	}
}

func TestMarkCompleted_RemovesEntryAndFlipsStatusOnce(t *testing.T) {
	store := &fakeStore{listed: []Campaign{{ID: "c1", MaxConcurrentCalls: 1, PendingCount: 1}}}
	cache := newTestCache(store)
	ctx := context.Background()
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := cache.MarkCompleted(ctx, "c1"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected entry removed")
	}
	// Second call is a no-op.
	if err := cache.MarkCompleted(ctx, "c1"); err != nil {
		t.Fatalf("idempotent mark completed: %v", err)
	}
	if len(store.completed) != 1 {
		t.Fatalf("expected one persisted completion, got %d", len(store.completed))
	}
}

func TestMarkCompleted_SkipsWhileCallsInFlight(t *testing.T) {
	store := &fakeStore{listed: []Campaign{{ID: "c1", MaxConcurrentCalls: 2, PendingCount: 1}}}
	cache := newTestCache(store)
	ctx := context.Background()
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	cache.TryAcquireSlot(ctx, "c1")

	if err := cache.MarkCompleted(ctx, "c1"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected campaign kept while a call is in flight")
	}
	if len(store.completed) != 0 {
		t.Fatalf("expected no persisted completion yet")
	}
}
