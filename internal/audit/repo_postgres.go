package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends events to the audit_events table. Append-only; the
// schema carries no UPDATE path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
		INSERT INTO audit_events
			(id, type, actor_user_id, actor_role, ip_address,
			 campaign_id, call_id, resource_key, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.Type, e.ActorUserID, e.ActorRole, e.IPAddress,
		nullable(e.CampaignID), nullable(e.CallID), nullable(e.ResourceKey),
		e.Message, nullable(e.Metadata), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
