package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/contacts"
	"dialer-platform/internal/events"
	"dialer-platform/internal/metrics"
	"dialer-platform/internal/telephony"

	"github.com/google/uuid"
)

// CampaignLister is the direct persistence query the emergency dispatcher
// uses instead of the cache.
type CampaignLister interface {
	ListActiveWithPendingWork(ctx context.Context) ([]campaigns.Campaign, error)
}

// DirectDispatch is the reduced-feature emergency strategy: no cache, no
// per-campaign fan-out, no DNC fast path. Each tick queries persistence
// for the first active campaign with pending work and dials its next
// contact. Correctness-preserving, capacity-conservative (one origination
// per tick), selected by the supervisor only after the retry budget is
// exhausted.
type DirectDispatch struct {
	campaignSt   CampaignLister
	contactStore ContactStore
	records      RecordInserter
	provider     telephony.Provider
	tracker      CallTracker
	bus          *events.Bus
	stats        *Stats
	log          *slog.Logger

	maxRetries int
	clock      func() time.Time
}

func NewDirectDispatch(
	campaignStore CampaignLister,
	contactStore ContactStore,
	records RecordInserter,
	provider telephony.Provider,
	tracker CallTracker,
	bus *events.Bus,
	stats *Stats,
	maxRetries int,
	log *slog.Logger,
) *DirectDispatch {
	return &DirectDispatch{
		campaignSt:   campaignStore,
		contactStore: contactStore,
		records:      records,
		provider:     provider,
		tracker:      tracker,
		bus:          bus,
		stats:        stats,
		log:          log,
		maxRetries:   maxRetries,
		clock:        time.Now,
	}
}

func (d *DirectDispatch) Name() string { return "direct" }

func (d *DirectDispatch) RunTick(ctx context.Context) error {
	listed, err := d.campaignSt.ListActiveWithPendingWork(ctx)
	if err != nil {
		return fmt.Errorf("emergency dispatch: %w", err)
	}
	if len(listed) == 0 {
		return nil
	}
	cam := listed[0]

	contact, err := d.contactStore.ClaimNextPending(ctx, cam.ID)
	if errors.Is(err, contacts.ErrNoPending) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("emergency dispatch: %w", err)
	}

	callID := uuid.NewString()
	now := d.clock().UTC()

	// Same register-before-originate ordering as the normal engine: the
	// transport can report call-end before Originate returns.
	d.tracker.Track(calls.ActiveCall{
		CallID:     callID,
		CampaignID: cam.ID,
		ContactID:  contact.ID,
		Phone:      contact.Phone,
		StartedAt:  now,
	})

	_, err = d.provider.Originate(ctx, telephony.OriginateRequest{
		CallID:          callID,
		To:              contact.Phone,
		RoutingIdentity: cam.RoutingIdentity,
		CampaignID:      cam.ID,
	})
	if err != nil {
		if d.tracker.Untrack(callID) {
			d.stats.RecordFailure(err)
			metrics.DialAttemptsTotal.Inc()
			metrics.DialFailuresTotal.Inc()
			if rerr := d.contactStore.SetStatus(ctx, contact.ID, contacts.NextAfterFailure(contact.AttemptCount, d.maxRetries)); rerr != nil {
				d.log.Error("return contact after dial failure failed", "contact_id", contact.ID, "err", rerr)
			}
			d.log.Warn("emergency origination failed", "contact_id", contact.ID, "err", err)
		}
		return nil
	}

	d.stats.RecordSuccess()
	metrics.DialAttemptsTotal.Inc()

	rec := calls.CallRecord{
		CallID:          callID,
		CampaignID:      cam.ID,
		ContactID:       contact.ID,
		Phone:           contact.Phone,
		RoutingIdentity: cam.RoutingIdentity,
		Status:          calls.StatusOriginating,
		StartedAt:       now,
	}
	if err := d.records.Insert(ctx, rec); err != nil {
		d.log.Error("insert call record failed", "call_id", callID, "err", err)
	}

	d.log.Info("call dialed in emergency mode", "call_id", callID, "campaign_id", cam.ID)
	d.bus.Publish(events.TypeCallDialed, map[string]any{
		"call_id":     callID,
		"campaign_id": cam.ID,
		"emergency":   true,
	})
	return nil
}
