package contacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dialer-platform/pkg/utils"
)

var (
	// ErrNoPending means the campaign has no claimable contact left.
	ErrNoPending = errors.New("contacts: no pending contact")
	ErrNotFound  = errors.New("contacts: not found")
)

// Store is the Postgres-backed contact persistence.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

// ClaimNextPending claims the oldest pending contact of a campaign:
// status flips to called and attempt_count increments in the same
// statement, so a contact is handed out at most once even across scheduler
// instances (SKIP LOCKED keeps concurrent claimers off each other's row).
func (s *Store) ClaimNextPending(ctx context.Context, campaignID string) (Contact, error) {
	const q = `
		UPDATE contacts
		SET status = 'called', attempt_count = attempt_count + 1, updated_at = $2
		WHERE id = (
			SELECT id FROM contacts
			WHERE campaign_id = $1 AND status = 'pending'
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, campaign_id, phone, status, attempt_count`

	var c Contact
	err := s.db.QueryRowContext(ctx, q, campaignID, s.clock().UTC()).
		Scan(&c.ID, &c.CampaignID, &c.Phone, &c.Status, &c.AttemptCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNoPending
	}
	if err != nil {
		return Contact{}, fmt.Errorf("contacts: claim next pending: %w", err)
	}
	return c, nil
}

// SetStatus moves a contact to the given status.
func (s *Store) SetStatus(ctx context.Context, contactID int64, status Status) error {
	const q = `UPDATE contacts SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, contactID, status, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("contacts: set status %d: %w", contactID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDNC moves the contact to dnc and writes the do-not-call entry in one
// transaction, so a crash between the two writes cannot leave a dnc contact
// off the list. ON CONFLICT keeps the entry a no-op for a phone already
// listed.
func (s *Store) MarkDNC(ctx context.Context, contactID int64, phone, reason string) error {
	now := s.clock().UTC()
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const upd = `UPDATE contacts SET status = 'dnc', updated_at = $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, upd, contactID, now); err != nil {
			return err
		}
		const ins = `
			INSERT INTO dnc_entries (phone, reason, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (phone) DO NOTHING`
		_, err := tx.ExecContext(ctx, ins, phone, reason, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("contacts: mark dnc %d: %w", contactID, err)
	}
	return nil
}

// IsDNC reports whether the phone is on the do-not-call list.
func (s *Store) IsDNC(ctx context.Context, phone string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM dnc_entries WHERE phone = $1)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, phone).Scan(&exists); err != nil {
		return false, fmt.Errorf("contacts: dnc lookup %s: %w", phone, err)
	}
	return exists, nil
}
