package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo stores entries in call_queue. Every state change is a single
// UPDATE guarded by the expected current status.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const selectEntryColumns = `
SELECT id, call_job_id, caller_identity_id, status, position, scheduled_for,
       started_at, completed_at, attempts, last_error, created_at
FROM call_queue
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (Entry, error) {
	var (
		e          Entry
		identityID sql.NullString
		scheduled  sql.NullTime
		started    sql.NullTime
		completed  sql.NullTime
	)
	if err := s.Scan(
		&e.ID,
		&e.CallJobID,
		&identityID,
		&e.Status,
		&e.Position,
		&scheduled,
		&started,
		&completed,
		&e.Attempts,
		&e.LastError,
		&e.CreatedAt,
	); err != nil {
		return Entry{}, err
	}
	e.CallerIdentityID = identityID.String
	e.ScheduledFor = nullTime(scheduled)
	e.StartedAt = nullTime(started)
	e.CompletedAt = nullTime(completed)
	return e, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *PostgresRepo) Oldest(ctx context.Context) (Entry, bool, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, selectEntryColumns+`
WHERE status = 'queued'
ORDER BY position, created_at
LIMIT 1
`))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (r *PostgresRepo) Claim(ctx context.Context, id string, at time.Time) (Entry, error) {
	const q = `
UPDATE call_queue
SET status = 'processing', started_at = $2
WHERE id = $1 AND status = 'queued'
RETURNING id, call_job_id, caller_identity_id, status, position, scheduled_for,
          started_at, completed_at, attempts, last_error, created_at
`
	e, err := scanEntry(r.db.QueryRowContext(ctx, q, id, at.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, r.missing(ctx, id)
	}
	return e, err
}

func (r *PostgresRepo) Complete(ctx context.Context, id string, at time.Time) error {
	const q = `
UPDATE call_queue
SET status = 'completed', completed_at = $2
WHERE id = $1 AND status = 'processing'
`
	return r.execGuarded(ctx, id, q, id, at.UTC())
}

func (r *PostgresRepo) Requeue(ctx context.Context, id string, reason string) error {
	const q = `
UPDATE call_queue
SET status = 'queued', started_at = NULL, attempts = attempts + 1, last_error = $2
WHERE id = $1 AND status = 'processing'
`
	return r.execGuarded(ctx, id, q, id, reason)
}

func (r *PostgresRepo) execGuarded(ctx context.Context, id, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	return r.missing(ctx, id)
}

// missing tells a row that does not exist apart from one in another status.
func (r *PostgresRepo) missing(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM call_queue WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNotClaimed
}
