package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"prank-platform/pkg/utils"
)

// PostgresRepo stores call jobs in the call_jobs table.
//
// Status changes lock the row (SELECT ... FOR UPDATE) so the transition check and
// the write see the same current status.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const externalCallIDConstraint = "call_jobs_external_call_id_key"

const selectJobColumns = `
SELECT id, owner_id, external_call_id, caller_identity_id, status, recording_ref, conversation,
       max_duration_seconds, scheduled_at, duration_seconds, ended_reason,
       consumption_evaluated_at, consumed, created_at, updated_at
FROM call_jobs
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(s rowScanner) (CallJob, error) {
	var (
		j            CallJob
		externalID   sql.NullString
		identityID   sql.NullString
		conversation []byte
		scheduledAt  sql.NullTime
		evaluatedAt  sql.NullTime
	)
	if err := s.Scan(
		&j.ID,
		&j.OwnerID,
		&externalID,
		&identityID,
		&j.Status,
		&j.RecordingRef,
		&conversation,
		&j.MaxDurationSeconds,
		&scheduledAt,
		&j.DurationSeconds,
		&j.EndedReason,
		&evaluatedAt,
		&j.Consumed,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallJob{}, ErrNotFound
		}
		return CallJob{}, err
	}
	j.ExternalCallID = externalID.String
	j.CallerIdentityID = identityID.String
	if scheduledAt.Valid {
		t := scheduledAt.Time
		j.ScheduledAt = &t
	}
	if evaluatedAt.Valid {
		t := evaluatedAt.Time
		j.ConsumptionEvaluatedAt = &t
	}
	msgs, err := decodeConversation(conversation)
	if err != nil {
		return CallJob{}, err
	}
	j.Conversation = msgs
	return j, nil
}

func decodeConversation(raw []byte) ([]Message, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("calls: decode conversation: %w", err)
	}
	return msgs, nil
}

func encodeConversation(msgs []Message) ([]byte, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	return json.Marshal(msgs)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (CallJob, error) {
	return scanJob(r.db.QueryRowContext(ctx, selectJobColumns+`WHERE id = $1`, id))
}

func (r *PostgresRepo) GetByExternalID(ctx context.Context, externalCallID string) (CallJob, error) {
	if externalCallID == "" {
		return CallJob{}, ErrInvalidArgument
	}
	return scanJob(r.db.QueryRowContext(ctx, selectJobColumns+`WHERE external_call_id = $1`, externalCallID))
}

func (r *PostgresRepo) ListByOwner(ctx context.Context, ownerID string, from, to time.Time) ([]CallJob, error) {
	if ownerID == "" {
		return nil, ErrInvalidArgument
	}
	rows, err := r.db.QueryContext(ctx, selectJobColumns+`
WHERE owner_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at
`, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallJob, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func lockJob(ctx context.Context, tx *sql.Tx, id string) (CallJob, error) {
	return scanJob(tx.QueryRowContext(ctx, selectJobColumns+`WHERE id = $1 FOR UPDATE`, id))
}

func (r *PostgresRepo) SetExternalCallID(ctx context.Context, id, externalCallID string) error {
	if id == "" || externalCallID == "" {
		return ErrInvalidArgument
	}
	// Only fills an empty column; the unique index rejects an id already used by another job.
	const q = `
UPDATE call_jobs
SET external_call_id = $2, updated_at = $3
WHERE id = $1 AND external_call_id IS NULL
`
	res, err := r.db.ExecContext(ctx, q, id, externalCallID, r.clock().UTC())
	if err != nil {
		if utils.IsUniqueViolation(err, externalCallIDConstraint) {
			return ErrExternalIDAlreadySet
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	j, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.ExternalCallID == externalCallID {
		return nil
	}
	return ErrExternalIDAlreadySet
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, next Status) (CallJob, error) {
	return r.ApplyOutcome(ctx, id, Outcome{Status: next})
}

func (r *PostgresRepo) ApplyOutcome(ctx context.Context, id string, out Outcome) (CallJob, error) {
	var result CallJob
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		j, err := lockJob(ctx, tx, id)
		if err != nil {
			return err
		}
		st, err := nextStatus(j.Status, out.Status)
		if err != nil {
			result = j
			return err
		}
		const q = `
UPDATE call_jobs
SET status = $2,
    recording_ref = CASE WHEN $3 <> '' THEN $3 ELSE recording_ref END,
    duration_seconds = CASE WHEN $4 > 0 THEN $4 ELSE duration_seconds END,
    ended_reason = CASE WHEN $5 <> '' THEN $5 ELSE ended_reason END,
    updated_at = $6
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, q, id, st, out.RecordingRef, out.DurationSeconds, out.EndedReason, r.clock().UTC()); err != nil {
			return err
		}
		result, err = lockJob(ctx, tx, id)
		return err
	})
	return result, err
}

func (r *PostgresRepo) MutateConversation(ctx context.Context, id string, fn ConversationFunc) ([]Message, error) {
	var out []Message
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var raw []byte
		err := tx.QueryRowContext(ctx, `SELECT conversation FROM call_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		current, err := decodeConversation(raw)
		if err != nil {
			return err
		}
		out = fn(current)
		encoded, err := encodeConversation(out)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE call_jobs SET conversation = $2, updated_at = $3 WHERE id = $1`, id, encoded, r.clock().UTC())
		return err
	})
	return out, err
}

func (r *PostgresRepo) MarkConsumptionEvaluated(ctx context.Context, id string, consumed bool, at time.Time) error {
	const q = `
UPDATE call_jobs
SET consumption_evaluated_at = $2, consumed = $3, updated_at = $2
WHERE id = $1 AND consumption_evaluated_at IS NULL
`
	res, err := r.db.ExecContext(ctx, q, id, at.UTC(), consumed)
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
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyEvaluated
}
