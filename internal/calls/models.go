package calls

import "time"

// CallRecord is the durable record of one outbound origination. Created at
// origination time with status originating; append-only except for its
// terminal fields, written once at call end.
type CallRecord struct {
	CallID     string `json:"call_id" db:"call_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	ContactID  int64  `json:"contact_id" db:"contact_id"`

	Phone string `json:"phone" db:"phone"`

	// RoutingIdentity is the caller identity the call was originated with.
	RoutingIdentity string `json:"routing_identity" db:"routing_identity"`

	// ResourceID is the transfer resource held by the call, if any.
	ResourceID string `json:"resource_id,omitempty" db:"resource_id"`

	Status Status `json:"status" db:"status"`

	DurationSeconds int    `json:"duration_seconds" db:"duration_seconds"`
	DigitsPressed   string `json:"digits_pressed,omitempty" db:"digits_pressed"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

type Status string

const (
	StatusOriginating Status = "originating"
	StatusCompleted   Status = "completed"
	StatusBusy        Status = "busy"
	StatusNoAnswer    Status = "no_answer"
	StatusFailed      Status = "failed"
)

// End carries the terminal fields written at call end.
type End struct {
	Disposition     Status
	DurationSeconds int
	DigitsPressed   string
	EndedAt         time.Time
}
