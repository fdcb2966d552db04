package dialer

import (
	"sync"
	"time"
)

// Stats holds process-wide dial counters. Diagnostic only, never
// authoritative state; they reset with the process.
type Stats struct {
	mu    sync.Mutex
	clock func() time.Time

	totalAttempts       int64
	successes           int64
	failures            int64
	consecutiveFailures int
	lastError           string
	lastSuccessTime     time.Time
}

func NewStats() *Stats {
	return &Stats{clock: time.Now}
}

// RecordSuccess counts a successful origination.
func (s *Stats) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalAttempts++
	s.successes++
	s.consecutiveFailures = 0
	s.lastSuccessTime = s.clock().UTC()
}

// RecordFailure counts a failed origination.
func (s *Stats) RecordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalAttempts++
	s.failures++
	s.consecutiveFailures++
	if err != nil {
		s.lastError = err.Error()
	}
}

// Snapshot is the stats view exposed on the status endpoint.
type Snapshot struct {
	TotalAttempts       int64     `json:"total_attempts"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastSuccessTime     time.Time `json:"last_success_time"`
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		TotalAttempts:       s.totalAttempts,
		Successes:           s.successes,
		Failures:            s.failures,
		ConsecutiveFailures: s.consecutiveFailures,
		LastError:           s.lastError,
		LastSuccessTime:     s.lastSuccessTime,
	}
}
