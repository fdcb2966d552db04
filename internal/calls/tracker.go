package calls

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dialer-platform/internal/contacts"
	"dialer-platform/internal/events"
	"dialer-platform/internal/metrics"
	"dialer-platform/internal/transfer"
)

// RecordStore is the persistence slice the tracker needs.
type RecordStore interface {
	Finalize(ctx context.Context, callID string, end End) error
	SetResource(ctx context.Context, callID, resourceID string) error
}

// ContactStore finalizes contacts and maintains the DNC list. MarkDNC
// covers both writes in one transaction.
type ContactStore interface {
	SetStatus(ctx context.Context, contactID int64, status contacts.Status) error
	MarkDNC(ctx context.Context, contactID int64, phone, reason string) error
}

// SlotReleaser returns campaign concurrency slots.
type SlotReleaser interface {
	ReleaseSlot(ctx context.Context, campaignID string)
}

// ResourcePool is the transfer pool surface used per call.
type ResourcePool interface {
	Acquire(key string) (transfer.Resource, error)
	Release(resourceID string)
}

// DNCRecorder mirrors new DNC entries into the fast-path cache.
type DNCRecorder interface {
	Add(ctx context.Context, phone string)
}

// DNCAuditor writes DNC additions to the audit trail. Best-effort; a
// failed audit write never blocks the lifecycle handling.
type DNCAuditor interface {
	LogDNC(ctx context.Context, campaignID, callID, phone, reason string) error
}

// ActiveCall is the in-memory entry for one in-flight origination.
type ActiveCall struct {
	CallID     string    `json:"call_id"`
	CampaignID string    `json:"campaign_id"`
	ContactID  int64     `json:"contact_id"`
	Phone      string    `json:"phone"`
	ResourceID string    `json:"resource_id,omitempty"`
	Digits     string    `json:"digits,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// Tracker records active outbound calls and consumes call-end and keypress
// signals from the transport. Signals for unknown calls are no-ops, which
// makes duplicate and late delivery safe.
type Tracker struct {
	records  RecordStore
	contacts ContactStore
	slots    SlotReleaser
	pool     ResourcePool
	dnc      DNCRecorder
	audit    DNCAuditor
	bus      *events.Bus
	log      *slog.Logger
	clock    func() time.Time

	disallowDigit string

	mu     sync.Mutex
	active map[string]*ActiveCall
}

func NewTracker(records RecordStore, contactStore ContactStore, slots SlotReleaser, pool ResourcePool, dnc DNCRecorder, audit DNCAuditor, bus *events.Bus, log *slog.Logger, disallowDigit string) *Tracker {
	return &Tracker{
		records:       records,
		contacts:      contactStore,
		slots:         slots,
		pool:          pool,
		dnc:           dnc,
		audit:         audit,
		bus:           bus,
		log:           log,
		clock:         time.Now,
		disallowDigit: disallowDigit,
		active:        make(map[string]*ActiveCall),
	}
}

// Track registers a freshly originated call.
func (t *Tracker) Track(ac ActiveCall) {
	t.mu.Lock()
	t.active[ac.CallID] = &ac
	n := len(t.active)
	t.mu.Unlock()
	metrics.CallsActive.Set(float64(n))
}

// Untrack removes a call whose origination failed after registration.
// Reports whether the entry was still present; false means a call-end
// signal already finalized it and the caller must not clean up again.
func (t *Tracker) Untrack(callID string) bool {
	t.mu.Lock()
	_, ok := t.active[callID]
	if ok {
		delete(t.active, callID)
	}
	n := len(t.active)
	t.mu.Unlock()
	metrics.CallsActive.Set(float64(n))
	return ok
}

// OnKeypress routes a DTMF digit: the disallow digit goes to DNC handling,
// any digit matching a transfer routing key acquires an agent line for the
// call. Unknown calls and unmapped digits are ignored.
func (t *Tracker) OnKeypress(ctx context.Context, callID, digit string) {
	t.mu.Lock()
	ac, ok := t.active[callID]
	if !ok {
		t.mu.Unlock()
		t.log.Info("keypress for unknown call", "call_id", callID, "digit", digit)
		return
	}
	ac.Digits += digit
	snapshot := *ac
	t.mu.Unlock()

	if digit == t.disallowDigit {
		t.recordDNC(ctx, snapshot)
		return
	}

	if snapshot.ResourceID != "" {
		// Already holding an agent line; further digits are IVR noise.
		return
	}

	res, err := t.pool.Acquire(digit)
	if errors.Is(err, transfer.ErrUnknownKey) {
		return
	}
	if errors.Is(err, transfer.ErrNoResource) {
		metrics.TransferDeniedTotal.WithLabelValues(digit).Inc()
		t.log.Info("transfer denied, all resources busy", "call_id", callID, "routing_key", digit)
		t.bus.Publish(events.TypeTransferDenied, map[string]any{"call_id": callID, "routing_key": digit})
		return
	}
	if err != nil {
		t.log.Error("transfer acquire failed", "call_id", callID, "routing_key", digit, "err", err)
		return
	}

	t.mu.Lock()
	if cur, still := t.active[callID]; still {
		cur.ResourceID = res.ID
	} else {
		// Call ended between acquire and bookkeeping; give the slot back.
		t.mu.Unlock()
		t.pool.Release(res.ID)
		return
	}
	t.mu.Unlock()

	if err := t.records.SetResource(ctx, callID, res.ID); err != nil {
		// Accepted trade-off: in-memory state holds, persistence lag is logged.
		t.log.Error("persist transfer resource failed", "call_id", callID, "err", err)
	}
	t.log.Info("transfer resource acquired", "call_id", callID, "resource_id", res.ID, "routing_key", digit)
	t.bus.Publish(events.TypeTransferAcquired, map[string]any{"call_id": callID, "resource_id": res.ID, "routing_key": digit})
}

// OnCallEnded finalizes the record and contact, releases the campaign slot
// and any held transfer resource, and drops the in-memory entry. A signal
// for an unknown call id is logged and ignored.
func (t *Tracker) OnCallEnded(ctx context.Context, callID string, durationSeconds int, disposition Status, digitsPressed string) {
	t.mu.Lock()
	ac, ok := t.active[callID]
	if !ok {
		t.mu.Unlock()
		t.log.Info("call-end for unknown call", "call_id", callID)
		return
	}
	delete(t.active, callID)
	n := len(t.active)
	t.mu.Unlock()
	metrics.CallsActive.Set(float64(n))

	digits := digitsPressed
	if digits == "" {
		digits = ac.Digits
	}

	end := End{
		Disposition:     disposition,
		DurationSeconds: durationSeconds,
		DigitsPressed:   digits,
		EndedAt:         t.clock().UTC(),
	}
	if err := t.records.Finalize(ctx, callID, end); err != nil {
		t.log.Error("finalize call record failed", "call_id", callID, "err", err)
	}

	status := contacts.StatusCompleted
	if t.disallowDigit != "" && strings.Contains(digits, t.disallowDigit) {
		// MarkDNC flips the contact status as part of the same transaction.
		status = contacts.StatusDNC
		t.recordDNC(ctx, *ac)
	} else if err := t.contacts.SetStatus(ctx, ac.ContactID, status); err != nil {
		t.log.Error("finalize contact failed", "contact_id", ac.ContactID, "err", err)
	}

	t.slots.ReleaseSlot(ctx, ac.CampaignID)
	if ac.ResourceID != "" {
		t.pool.Release(ac.ResourceID)
	}

	t.log.Info("call ended",
		"call_id", callID,
		"campaign_id", ac.CampaignID,
		"disposition", disposition,
		"duration_s", durationSeconds,
		"contact_status", status)
	t.bus.Publish(events.TypeCallEnded, map[string]any{
		"call_id":     callID,
		"campaign_id": ac.CampaignID,
		"disposition": string(disposition),
		"duration_s":  durationSeconds,
	})
}

func (t *Tracker) recordDNC(ctx context.Context, ac ActiveCall) {
	const reason = "callee pressed disallow digit"
	if err := t.contacts.MarkDNC(ctx, ac.ContactID, ac.Phone, reason); err != nil {
		t.log.Error("dnc mark failed", "contact_id", ac.ContactID, "phone", ac.Phone, "err", err)
		return
	}
	if t.dnc != nil {
		t.dnc.Add(ctx, ac.Phone)
	}
	if t.audit != nil {
		if err := t.audit.LogDNC(ctx, ac.CampaignID, ac.CallID, ac.Phone, reason); err != nil {
			t.log.Warn("dnc audit write failed", "call_id", ac.CallID, "err", err)
		}
	}
	metrics.ContactsDNCTotal.Inc()
	t.bus.Publish(events.TypeContactDNC, map[string]any{"phone": ac.Phone})
}

// Count reports in-flight calls.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Snapshot returns the in-flight calls for the status endpoint.
func (t *Tracker) Snapshot() []ActiveCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ActiveCall, 0, len(t.active))
	for _, ac := range t.active {
		out = append(out, *ac)
	}
	return out
}

// Clear drops every in-memory entry. Durable records are untouched.
// Used by supervisor stop.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.active = make(map[string]*ActiveCall)
	t.mu.Unlock()
	metrics.CallsActive.Set(0)
}
