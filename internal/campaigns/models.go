package campaigns

import "time"

// Campaign is a configured outbound-calling job.
//
// The persistence row is the durable source of truth for everything except
// ActiveCalls, which is a process-local live counter owned by the Cache and
// rebuilt from zero at process start.
type Campaign struct {
	ID string `json:"id" db:"id"`

	Name string `json:"name" db:"name"`

	// RoutingIdentity is the caller/line identity presented on originations
	// for this campaign.
	RoutingIdentity string `json:"routing_identity" db:"routing_identity"`

	// MaxConcurrentCalls caps in-flight originations for this campaign.
	MaxConcurrentCalls int `json:"max_concurrent_calls" db:"max_concurrent_calls"`

	Status Status `json:"status" db:"status"`

	// PendingCount is the pending-contact count as of the last cache refresh.
	PendingCount int `json:"pending_count" db:"pending_count"`

	// ActiveCalls is live and process-local; see Cache.
	ActiveCalls int `json:"active_calls" db:"-"`

	LastDialTime time.Time `json:"last_dial_time" db:"last_dial_time"`
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)
