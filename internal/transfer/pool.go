package transfer

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"dialer-platform/internal/metrics"
)

// Resource is one agent-facing SIP line, addressed by the DTMF routing key
// callers press to request a transfer.
//
// Invariant: inUse <= Capacity. A violation can only arise from a missed
// release (crash between acquire and the matching call-end signal); it is
// surfaced by Diagnose and corrected only by an explicit Reset.
type Resource struct {
	ID       string `json:"id" db:"id"`
	Key      string `json:"routing_key" db:"routing_key"`
	URI      string `json:"uri" db:"uri"`
	Priority int    `json:"priority" db:"priority"`
	Capacity int    `json:"capacity" db:"capacity"`

	inUse int
}

// ErrNoResource means every resource for the key is at capacity.
// This is a normal, expected outcome, not a fault.
var ErrNoResource = errors.New("transfer: no resource available")

// ErrUnknownKey means no resources are configured for the routing key.
var ErrUnknownKey = errors.New("transfer: unknown routing key")

// Pool tracks transfer capacity per routing key and hands out the least
// loaded resource. All counters are process-local; they rebuild from zero
// on restart.
type Pool struct {
	mu    sync.Mutex
	byKey map[string][]*Resource
	byID  map[string]*Resource
	log   *slog.Logger
}

func NewPool(resources []Resource, log *slog.Logger) *Pool {
	p := &Pool{
		byKey: make(map[string][]*Resource),
		byID:  make(map[string]*Resource),
		log:   log,
	}
	for i := range resources {
		r := resources[i]
		rc := &r
		p.byKey[r.Key] = append(p.byKey[r.Key], rc)
		p.byID[r.ID] = rc
	}
	return p
}

// Acquire selects a resource for the routing key: lowest current load
// first, ties broken by configured priority (lower wins). Returns
// ErrNoResource when everything for the key is saturated.
func (p *Pool) Acquire(key string) (Resource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates, ok := p.byKey[key]
	if !ok || len(candidates) == 0 {
		return Resource{}, ErrUnknownKey
	}

	eligible := make([]*Resource, 0, len(candidates))
	for _, r := range candidates {
		if r.inUse < r.Capacity {
			eligible = append(eligible, r)
		}
	}
	if len(eligible) == 0 {
		return Resource{}, ErrNoResource
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].inUse != eligible[j].inUse {
			return eligible[i].inUse < eligible[j].inUse
		}
		return eligible[i].Priority < eligible[j].Priority
	})

	chosen := eligible[0]
	chosen.inUse++
	metrics.TransferInUse.WithLabelValues(key).Inc()
	return *chosen, nil
}

// Release returns a resource slot. The counter floors at zero; flooring
// means the caller double-released, which is logged as a known risk rather
// than silently absorbed.
func (p *Pool) Release(resourceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.byID[resourceID]
	if !ok {
		p.log.Warn("release for unknown transfer resource", "resource_id", resourceID)
		return
	}
	if r.inUse <= 0 {
		r.inUse = 0
		p.log.Warn("transfer resource released below zero, possible double release",
			"resource_id", resourceID, "routing_key", r.Key)
		return
	}
	r.inUse--
	metrics.TransferInUse.WithLabelValues(r.Key).Dec()
}

// ResourceStatus is the diagnostic view of one resource.
type ResourceStatus struct {
	ID            string `json:"id"`
	Key           string `json:"routing_key"`
	Priority      int    `json:"priority"`
	InUse         int    `json:"in_use"`
	Capacity      int    `json:"capacity"`
	Overcommitted bool   `json:"overcommitted"`
}

// Diagnose reports per-resource usage for a routing key, flagging any
// resource whose inUse exceeds capacity.
func (p *Pool) Diagnose(key string) ([]ResourceStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates, ok := p.byKey[key]
	if !ok {
		return nil, ErrUnknownKey
	}
	return statuses(candidates), nil
}

// DiagnoseAll reports usage for every configured routing key.
func (p *Pool) DiagnoseAll() map[string][]ResourceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string][]ResourceStatus, len(p.byKey))
	for key, rs := range p.byKey {
		out[key] = statuses(rs)
	}
	return out
}

func statuses(rs []*Resource) []ResourceStatus {
	out := make([]ResourceStatus, 0, len(rs))
	for _, r := range rs {
		out = append(out, ResourceStatus{
			ID:            r.ID,
			Key:           r.Key,
			Priority:      r.Priority,
			InUse:         r.inUse,
			Capacity:      r.Capacity,
			Overcommitted: r.inUse > r.Capacity,
		})
	}
	return out
}

// Reset forcibly zeroes in-use counters for one routing key. It does not
// touch calls actually in progress; it is a trust-the-operator escape
// hatch, not a correctness mechanism. Returns slots cleared.
func (p *Pool) Reset(key string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates, ok := p.byKey[key]
	if !ok {
		return 0, ErrUnknownKey
	}
	return p.resetLocked(key, candidates), nil
}

// ResetAll zeroes every counter in the pool. Returns slots cleared.
func (p *Pool) ResetAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for key, rs := range p.byKey {
		total += p.resetLocked(key, rs)
	}
	return total
}

func (p *Pool) resetLocked(key string, rs []*Resource) int {
	cleared := 0
	for _, r := range rs {
		cleared += r.inUse
		r.inUse = 0
	}
	metrics.TransferInUse.WithLabelValues(key).Set(0)
	if cleared > 0 {
		p.log.Warn("transfer counters reset", "routing_key", key, "slots_cleared", cleared)
	}
	return cleared
}

// Keys lists the configured routing keys.
func (p *Pool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.byKey))
	for k := range p.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
