package transfer

import (
	"context"
	"database/sql"
	"fmt"
)

// LoadResources reads the configured transfer resources. Rows are created
// and removed by external configuration tooling; the scheduler only reads
// them at boot and on supervised restart.
func LoadResources(ctx context.Context, db *sql.DB) ([]Resource, error) {
	const q = `
		SELECT id, routing_key, uri, priority, capacity
		FROM transfer_resources
		WHERE enabled = TRUE
		ORDER BY routing_key, priority, id`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("transfer: load resources: %w", err)
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		var r Resource
		if err := rows.Scan(&r.ID, &r.Key, &r.URI, &r.Priority, &r.Capacity); err != nil {
			return nil, fmt.Errorf("transfer: scan resource: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
