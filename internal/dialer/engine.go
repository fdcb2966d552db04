package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/config"
	"dialer-platform/internal/contacts"
	"dialer-platform/internal/events"
	"dialer-platform/internal/metrics"
	"dialer-platform/internal/telephony"

	"github.com/google/uuid"
)

// Strategy is one dispatch implementation. The supervisor selects between
// the normal cache-driven engine and the direct-query emergency dispatcher.
type Strategy interface {
	Name() string
	RunTick(ctx context.Context) error
}

// ContactStore is the contact persistence slice the engine needs.
type ContactStore interface {
	ClaimNextPending(ctx context.Context, campaignID string) (contacts.Contact, error)
	SetStatus(ctx context.Context, contactID int64, status contacts.Status) error
}

// RecordInserter persists new call records.
type RecordInserter interface {
	Insert(ctx context.Context, rec calls.CallRecord) error
}

// CampaignToucher persists last-dial updates.
type CampaignToucher interface {
	TouchLastDial(ctx context.Context, campaignID string, at time.Time) error
}

// CallTracker registers in-flight calls. Untrack reports whether the call
// was still registered; false means a lifecycle signal already finalized it.
type CallTracker interface {
	Track(ac calls.ActiveCall)
	Untrack(callID string) bool
}

// DNCScreen answers pre-dial do-not-call checks.
type DNCScreen interface {
	Contains(ctx context.Context, phone string) (bool, error)
}

// Engine is the cache-driven dispatch loop: on each tick it walks the
// cached campaigns in insertion order and originates at most one call per
// campaign with spare capacity.
type Engine struct {
	cfg config.DialerConfig
	log *slog.Logger

	cache        *campaigns.Cache
	contactStore ContactStore
	records      RecordInserter
	campaignSt   CampaignToucher
	provider     telephony.Provider
	tracker      CallTracker
	dnc          DNCScreen
	bus          *events.Bus
	stats        *Stats

	clock func() time.Time
	sleep func(time.Duration)

	// ticking is the re-entrancy guard: a tick that starts while the
	// previous is still running is skipped, not queued.
	ticking  atomic.Bool
	lastTick atomic.Int64 // unix nanos of the last completed tick
}

func NewEngine(
	cfg config.DialerConfig,
	cache *campaigns.Cache,
	contactStore ContactStore,
	records RecordInserter,
	campaignStore CampaignToucher,
	provider telephony.Provider,
	tracker CallTracker,
	dnc DNCScreen,
	bus *events.Bus,
	stats *Stats,
	log *slog.Logger,
) *Engine {
	return &Engine{
		cfg:          cfg,
		log:          log,
		cache:        cache,
		contactStore: contactStore,
		records:      records,
		campaignSt:   campaignStore,
		provider:     provider,
		tracker:      tracker,
		dnc:          dnc,
		bus:          bus,
		stats:        stats,
		clock:        time.Now,
		sleep:        time.Sleep,
	}
}

func (e *Engine) Name() string { return "cache" }

// RunTick executes one dispatch tick. Errors within one campaign's handling
// never abort the remaining campaigns; only the per-campaign error count is
// reported.
func (e *Engine) RunTick(ctx context.Context) error {
	if !e.ticking.CompareAndSwap(false, true) {
		e.log.Debug("tick skipped, previous tick still running")
		return nil
	}
	defer e.ticking.Store(false)

	ids := e.cache.Ordered()
	var failed int
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.dialCampaign(ctx, id); err != nil {
			failed++
			e.log.Error("campaign dispatch failed", "campaign_id", id, "err", err)
		}
		// Short pause between campaigns to avoid bursting the transport.
		if i < len(ids)-1 {
			e.sleep(e.cfg.DialDelay)
		}
	}

	e.lastTick.Store(e.clock().UnixNano())
	if failed > 0 {
		return fmt.Errorf("dialer: %d of %d campaigns failed this tick", failed, len(ids))
	}
	return nil
}

// dialCampaign originates at most one call for the campaign. The slot is
// acquired first (atomic check-and-increment in the cache) and released on
// every path that does not hand a live call to the tracker.
func (e *Engine) dialCampaign(ctx context.Context, campaignID string) error {
	cam, ok := e.cache.Get(campaignID)
	if !ok {
		return nil
	}
	if !e.cache.TryAcquireSlot(ctx, campaignID) {
		return nil
	}

	contact, err := e.contactStore.ClaimNextPending(ctx, campaignID)
	if errors.Is(err, contacts.ErrNoPending) {
		e.cache.ReleaseSlot(ctx, campaignID)
		// Out of work; complete once in-flight calls drain.
		if err := e.cache.MarkCompleted(ctx, campaignID); err != nil {
			return err
		}
		return nil
	}
	if err != nil {
		e.cache.ReleaseSlot(ctx, campaignID)
		return err
	}

	if e.dnc != nil {
		listed, err := e.dnc.Contains(ctx, contact.Phone)
		if err != nil {
			e.log.Warn("dnc screen failed, dialing anyway", "phone", contact.Phone, "err", err)
		} else if listed {
			e.cache.ReleaseSlot(ctx, campaignID)
			e.log.Info("contact screened by dnc list", "contact_id", contact.ID, "campaign_id", campaignID)
			if err := e.contactStore.SetStatus(ctx, contact.ID, contacts.StatusDNC); err != nil {
				return err
			}
			e.bus.Publish(events.TypeContactDNC, map[string]any{"phone": contact.Phone})
			return nil
		}
	}

	// Transport must be usable before we spend a dial attempt on it.
	if err := e.provider.HealthCheck(ctx); err != nil {
		e.cache.ReleaseSlot(ctx, campaignID)
		e.handleDialFailure(ctx, contact, fmt.Errorf("transport unavailable: %w", err))
		return nil
	}

	callID := uuid.NewString()
	now := e.clock().UTC()

	// Registered before Originate: the transport can signal call-end before
	// Originate returns, and an unregistered call would drop that signal.
	e.tracker.Track(calls.ActiveCall{
		CallID:     callID,
		CampaignID: campaignID,
		ContactID:  contact.ID,
		Phone:      contact.Phone,
		StartedAt:  now,
	})

	_, err = e.provider.Originate(ctx, telephony.OriginateRequest{
		CallID:          callID,
		To:              contact.Phone,
		RoutingIdentity: cam.RoutingIdentity,
		CampaignID:      campaignID,
	})
	if err != nil {
		// If the tracker already consumed an end signal for this call it
		// owns the cleanup; otherwise the slot and contact are ours.
		if e.tracker.Untrack(callID) {
			e.cache.ReleaseSlot(ctx, campaignID)
			e.handleDialFailure(ctx, contact, err)
		}
		return nil
	}

	e.stats.RecordSuccess()
	metrics.DialAttemptsTotal.Inc()

	rec := calls.CallRecord{
		CallID:          callID,
		CampaignID:      campaignID,
		ContactID:       contact.ID,
		Phone:           contact.Phone,
		RoutingIdentity: cam.RoutingIdentity,
		Status:          calls.StatusOriginating,
		StartedAt:       now,
	}
	if err := e.records.Insert(ctx, rec); err != nil {
		// Accepted trade-off: the call is live regardless; log and carry on.
		e.log.Error("insert call record failed", "call_id", callID, "err", err)
	}

	e.cache.SetLastDial(campaignID, now)
	if err := e.campaignSt.TouchLastDial(ctx, campaignID, now); err != nil {
		e.log.Warn("persist last dial failed", "campaign_id", campaignID, "err", err)
	}

	e.log.Info("call dialed",
		"call_id", callID,
		"campaign_id", campaignID,
		"contact_id", contact.ID,
		"attempt", contact.AttemptCount)
	e.bus.Publish(events.TypeCallDialed, map[string]any{
		"call_id":     callID,
		"campaign_id": campaignID,
		"contact_id":  contact.ID,
	})
	return nil
}

// handleDialFailure requeues or permanently fails the claimed contact and
// records the failure. Capacity was already released by the caller.
func (e *Engine) handleDialFailure(ctx context.Context, contact contacts.Contact, cause error) {
	e.stats.RecordFailure(cause)
	metrics.DialAttemptsTotal.Inc()
	metrics.DialFailuresTotal.Inc()

	status := contacts.NextAfterFailure(contact.AttemptCount, e.cfg.MaxRetries)
	if err := e.contactStore.SetStatus(ctx, contact.ID, status); err != nil {
		e.log.Error("return contact after dial failure failed", "contact_id", contact.ID, "err", err)
		return
	}
	e.log.Warn("origination failed",
		"contact_id", contact.ID,
		"attempt", contact.AttemptCount,
		"contact_status", status,
		"err", cause)
}

// LastTickAt reports when the last tick completed, zero before the first.
func (e *Engine) LastTickAt() time.Time {
	ns := e.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
