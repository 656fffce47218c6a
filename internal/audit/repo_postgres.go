package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to lifecycle_events. It has no update or delete path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO lifecycle_events (
  id, type, call_job_id, external_call_id, queue_entry_id, actor_user_id, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.CallJobID,
		e.ExternalCallID,
		e.QueueEntryID,
		e.ActorUserID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListByCallJob(ctx context.Context, callJobID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, type, call_job_id, external_call_id, queue_entry_id, actor_user_id, message, metadata, created_at
FROM lifecycle_events
WHERE call_job_id = $1
ORDER BY created_at
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, callJobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.Type,
			&e.CallJobID,
			&e.ExternalCallID,
			&e.QueueEntryID,
			&e.ActorUserID,
			&e.Message,
			&e.Metadata,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
