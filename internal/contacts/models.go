package contacts

import "time"

// Contact is one phone number to be dialed as part of a campaign.
//
// Lifecycle: created pending by the external CRUD layer; claimed (called)
// by the dispatch loop immediately before origination; finalized by the
// call tracker on call end, or returned to pending/failed by the dispatch
// loop on an origination failure.
type Contact struct {
	ID         int64  `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	Phone      string `json:"phone" db:"phone"`

	Status Status `json:"status" db:"status"`

	// AttemptCount never exceeds maxRetries+1 before a terminal status.
	AttemptCount int `json:"attempt_count" db:"attempt_count"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCalled    Status = "called"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDNC       Status = "dnc"
)

// IsTerminal reports whether the contact needs no further dialing.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDNC:
		return true
	}
	return false
}

// NextAfterFailure decides where a claimed contact goes after a failed
// origination: back to pending while the just-incremented attempt count is
// still under maxRetries, permanently failed otherwise.
func NextAfterFailure(attemptCount, maxRetries int) Status {
	if attemptCount >= maxRetries {
		return StatusFailed
	}
	return StatusPending
}

// DncEntry is a durable do-not-call record. One row per phone number;
// duplicate inserts are no-ops.
type DncEntry struct {
	Phone     string    `json:"phone" db:"phone"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
