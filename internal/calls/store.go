package calls

import (
	"context"
	"database/sql"
	"fmt"
)

// Store persists call records.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes the record at origination time.
func (s *Store) Insert(ctx context.Context, rec CallRecord) error {
	const q = `
		INSERT INTO call_records
			(call_id, campaign_id, contact_id, phone, routing_identity, resource_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`

	_, err := s.db.ExecContext(ctx, q,
		rec.CallID, rec.CampaignID, rec.ContactID, rec.Phone,
		rec.RoutingIdentity, rec.ResourceID, rec.Status, rec.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("calls: insert record %s: %w", rec.CallID, err)
	}
	return nil
}

// Finalize writes the terminal fields. The status guard keeps a late
// duplicate signal from rewriting an already finalized record.
func (s *Store) Finalize(ctx context.Context, callID string, end End) error {
	const q = `
		UPDATE call_records
		SET status = $2, duration_seconds = $3, digits_pressed = $4, ended_at = $5
		WHERE call_id = $1 AND status = 'originating'`

	_, err := s.db.ExecContext(ctx, q,
		callID, end.Disposition, end.DurationSeconds, end.DigitsPressed, end.EndedAt.UTC())
	if err != nil {
		return fmt.Errorf("calls: finalize record %s: %w", callID, err)
	}
	return nil
}

// SetResource records the transfer resource a live call acquired.
func (s *Store) SetResource(ctx context.Context, callID, resourceID string) error {
	const q = `UPDATE call_records SET resource_id = $2 WHERE call_id = $1`
	if _, err := s.db.ExecContext(ctx, q, callID, resourceID); err != nil {
		return fmt.Errorf("calls: set resource %s: %w", callID, err)
	}
	return nil
}
