package campaigns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dialer-platform/internal/events"
	"dialer-platform/internal/metrics"
	"dialer-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Persistence is the slice of campaign storage the cache needs.
type Persistence interface {
	ListActiveWithPendingWork(ctx context.Context) ([]Campaign, error)
	MarkCompleted(ctx context.Context, campaignID string) (bool, error)
}

// Cache is the in-memory mirror of dialable campaigns, owned exclusively by
// one running scheduler instance. The watcher refreshes it on a timer; the
// dispatch loop iterates it in insertion order.
//
// Capacity accounting happens here: TryAcquireSlot performs the
// check-then-increment under one mutex hold, so two interleaved ticks can
// never both observe spare capacity and both increment.
type Cache struct {
	store Persistence
	bus   *events.Bus
	log   *slog.Logger

	// rdb, when set, adds a TTL'd cross-instance cap on top of the local
	// counter. A redis outage degrades to local-only accounting.
	rdb    *redis.Client
	capTTL time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
}

type entry struct {
	campaign    Campaign
	activeCalls int
}

func NewCache(store Persistence, bus *events.Bus, log *slog.Logger) *Cache {
	return &Cache{
		store:   store,
		bus:     bus,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// WithRedisCap enables the cross-instance concurrency cap.
func (c *Cache) WithRedisCap(rdb *redis.Client, ttl time.Duration) *Cache {
	c.rdb = rdb
	c.capTTL = ttl
	return c
}

func capKey(campaignID string) string {
	return "dialer:campaign_cap:" + campaignID
}

// Refresh reconciles the cache with persistence: campaigns newly active
// with pending work are inserted with a zero live counter; campaigns that
// no longer qualify are removed. In-flight calls of removed campaigns drain
// naturally through the call tracker.
func (c *Cache) Refresh(ctx context.Context) error {
	listed, err := c.store.ListActiveWithPendingWork(ctx)
	if err != nil {
		return fmt.Errorf("campaign cache refresh: %w", err)
	}

	c.mu.Lock()
	seen := make(map[string]bool, len(listed))
	var added, removed []string

	for _, cam := range listed {
		seen[cam.ID] = true
		if e, ok := c.entries[cam.ID]; ok {
			// Config may change between refreshes; live counter is ours.
			e.campaign.Name = cam.Name
			e.campaign.RoutingIdentity = cam.RoutingIdentity
			e.campaign.MaxConcurrentCalls = cam.MaxConcurrentCalls
			e.campaign.PendingCount = cam.PendingCount
			continue
		}
		cam.ActiveCalls = 0
		c.entries[cam.ID] = &entry{campaign: cam}
		c.order = append(c.order, cam.ID)
		added = append(added, cam.ID)
	}

	for id := range c.entries {
		if !seen[id] {
			delete(c.entries, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		c.compactOrderLocked()
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CampaignsActive.Set(float64(size))
	for _, id := range added {
		c.log.Info("campaign entered dispatch cache", "campaign_id", id)
		c.bus.Publish(events.TypeCampaignAdded, map[string]any{"campaign_id": id})
	}
	for _, id := range removed {
		c.log.Info("campaign left dispatch cache", "campaign_id", id)
		c.bus.Publish(events.TypeCampaignRemoved, map[string]any{"campaign_id": id})
		// A campaign drops out of the listing when it was paused or when
		// its pending contacts ran out. The guarded update settles which:
		// only an exhausted active campaign flips to completed.
		c.tryComplete(ctx, id)
	}
	return nil
}

// tryComplete attempts the guarded persisted completion and publishes the
// event when the flip happened here. Best-effort; failures are logged.
func (c *Cache) tryComplete(ctx context.Context, campaignID string) {
	done, err := c.store.MarkCompleted(ctx, campaignID)
	if err != nil {
		c.log.Error("campaign completion check failed", "campaign_id", campaignID, "err", err)
		return
	}
	if done {
		c.log.Info("campaign completed", "campaign_id", campaignID)
		c.bus.Publish(events.TypeCampaignCompleted, map[string]any{"campaign_id": campaignID})
	}
}

func (c *Cache) compactOrderLocked() {
	kept := c.order[:0]
	for _, id := range c.order {
		if _, ok := c.entries[id]; ok {
			kept = append(kept, id)
		}
	}
	c.order = kept
}

// Ordered returns campaign ids in stable insertion order.
func (c *Cache) Ordered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Get returns a copy of the cached campaign with its live counter.
func (c *Cache) Get(campaignID string) (Campaign, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[campaignID]
	if !ok {
		return Campaign{}, false
	}
	cam := e.campaign
	cam.ActiveCalls = e.activeCalls
	return cam, true
}

// Len reports how many campaigns are currently dialable.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TryAcquireSlot reserves one concurrent-call slot for the campaign.
// Returns false when the campaign is unknown or at capacity.
func (c *Cache) TryAcquireSlot(ctx context.Context, campaignID string) bool {
	c.mu.Lock()
	e, ok := c.entries[campaignID]
	if !ok || e.activeCalls >= e.campaign.MaxConcurrentCalls {
		c.mu.Unlock()
		return false
	}
	e.activeCalls++
	limit := e.campaign.MaxConcurrentCalls
	c.mu.Unlock()

	if c.rdb != nil {
		acquired, err := utils.AcquireConcurrencyCap(ctx, c.rdb, capKey(campaignID), limit, c.capTTL)
		if err != nil {
			// Degrade to local accounting; the local counter already holds.
			c.log.Warn("redis concurrency cap unavailable", "campaign_id", campaignID, "err", err)
			return true
		}
		if !acquired {
			c.releaseLocal(campaignID)
			return false
		}
	}
	return true
}

// ReleaseSlot returns one concurrent-call slot, floored at zero. A release
// for a campaign that already left the cache means an in-flight call just
// drained after removal; that is the last chance to settle completion, so
// the guarded persisted check runs then.
func (c *Cache) ReleaseSlot(ctx context.Context, campaignID string) {
	if !c.releaseLocal(campaignID) {
		c.tryComplete(ctx, campaignID)
	}
	if c.rdb != nil {
		if err := utils.ReleaseConcurrencyCap(ctx, c.rdb, capKey(campaignID)); err != nil {
			c.log.Warn("redis concurrency cap release failed", "campaign_id", campaignID, "err", err)
		}
	}
}

// releaseLocal reports whether the campaign was present in the cache.
func (c *Cache) releaseLocal(campaignID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[campaignID]
	if !ok {
		return false
	}
	if e.activeCalls > 0 {
		e.activeCalls--
	}
	return true
}

// SetLastDial updates the in-memory last-dial timestamp.
func (c *Cache) SetLastDial(campaignID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[campaignID]; ok {
		e.campaign.LastDialTime = at
	}
}

// MarkCompleted flips the persisted status to completed and removes the
// in-memory entry, once no pending contacts and no active calls remain.
// Safe to call repeatedly.
func (c *Cache) MarkCompleted(ctx context.Context, campaignID string) error {
	c.mu.Lock()
	e, ok := c.entries[campaignID]
	if ok && e.activeCalls > 0 {
		// Calls still in flight; the tracker triggers another check on drain.
		c.mu.Unlock()
		return nil
	}
	if ok {
		delete(c.entries, campaignID)
		c.compactOrderLocked()
	}
	size := len(c.entries)
	c.mu.Unlock()

	if !ok {
		return nil
	}

	done, err := c.store.MarkCompleted(ctx, campaignID)
	if err != nil {
		return err
	}
	metrics.CampaignsActive.Set(float64(size))
	if done {
		c.log.Info("campaign completed", "campaign_id", campaignID)
		c.bus.Publish(events.TypeCampaignCompleted, map[string]any{"campaign_id": campaignID})
	}
	return nil
}

// Summary is the operational snapshot of one cached campaign.
type Summary struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	RoutingIdentity    string    `json:"routing_identity"`
	MaxConcurrentCalls int       `json:"max_concurrent_calls"`
	ActiveCalls        int       `json:"active_calls"`
	PendingCount       int       `json:"pending_count"`
	LastDialTime       time.Time `json:"last_dial_time"`
}

// Snapshot returns summaries in iteration order.
func (c *Cache) Snapshot() []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Summary, 0, len(c.order))
	for _, id := range c.order {
		e, ok := c.entries[id]
		if !ok {
			continue
		}
		out = append(out, Summary{
			ID:                 e.campaign.ID,
			Name:               e.campaign.Name,
			RoutingIdentity:    e.campaign.RoutingIdentity,
			MaxConcurrentCalls: e.campaign.MaxConcurrentCalls,
			ActiveCalls:        e.activeCalls,
			PendingCount:       e.campaign.PendingCount,
			LastDialTime:       e.campaign.LastDialTime,
		})
	}
	return out
}

// Clear drops every in-memory entry. Durable state is untouched.
// Used by supervisor stop.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.order = nil
	c.mu.Unlock()
	metrics.CampaignsActive.Set(0)
}
