package campaigns

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store is the Postgres-backed campaign persistence used by the scheduler.
// It only touches the attributes the scheduler reads and writes; campaign
// CRUD belongs to the external API layer.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

// ListActiveWithPendingWork returns active campaigns that still have
// pending contacts, in stable id order.
func (s *Store) ListActiveWithPendingWork(ctx context.Context) ([]Campaign, error) {
	const q = `
		SELECT c.id, c.name, c.routing_identity, c.max_concurrent_calls, c.status,
		       COUNT(ct.id) AS pending_count
		FROM campaigns c
		JOIN contacts ct ON ct.campaign_id = c.id AND ct.status = 'pending'
		WHERE c.status = 'active'
		GROUP BY c.id, c.name, c.routing_identity, c.max_concurrent_calls, c.status
		ORDER BY c.id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("campaigns: list active: %w", err)
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.RoutingIdentity, &c.MaxConcurrentCalls, &c.Status, &c.PendingCount); err != nil {
			return nil, fmt.Errorf("campaigns: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkCompleted flips the persisted status to completed and reports
// whether this call did the flip. The WHERE guard makes it safe to call
// speculatively: paused campaigns, repeated calls, and campaigns with
// pending or in-flight contacts are all no-ops.
func (s *Store) MarkCompleted(ctx context.Context, campaignID string) (bool, error) {
	const q = `
		UPDATE campaigns
		SET status = 'completed', updated_at = $2
		WHERE id = $1 AND status = 'active'
		  AND NOT EXISTS (
			SELECT 1 FROM contacts ct
			WHERE ct.campaign_id = campaigns.id
			  AND ct.status IN ('pending', 'called'))`

	res, err := s.db.ExecContext(ctx, q, campaignID, s.clock().UTC())
	if err != nil {
		return false, fmt.Errorf("campaigns: mark completed %s: %w", campaignID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("campaigns: mark completed %s: %w", campaignID, err)
	}
	return n > 0, nil
}

// TouchLastDial records the most recent successful origination time.
// Fire-and-forget relative to in-memory state; callers log failures.
func (s *Store) TouchLastDial(ctx context.Context, campaignID string, at time.Time) error {
	const q = `UPDATE campaigns SET last_dial_time = $2 WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, campaignID, at.UTC()); err != nil {
		return fmt.Errorf("campaigns: touch last dial %s: %w", campaignID, err)
	}
	return nil
}
