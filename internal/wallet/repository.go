package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"prank-platform/pkg/utils"
)

// Store applies ledger entries. Post must be idempotent on (owner_id,
// idempotency_key): a replay returns the stored entry with applied=false and
// leaves the balance untouched. Negative deltas are clamped so the balance never
// drops below zero.
type Store interface {
	Post(ctx context.Context, e LedgerEntry) (LedgerEntry, Balance, bool, error)
	Balance(ctx context.Context, ownerID string) (Balance, error)
}

// PostgresStore keeps balances in credit_balances and entries in credit_ledger.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Balance(ctx context.Context, ownerID string) (Balance, error) {
	const q = `
SELECT owner_id, balance, updated_at
FROM credit_balances
WHERE owner_id = $1
`
	var b Balance
	if err := s.db.QueryRowContext(ctx, q, ownerID).Scan(&b.OwnerID, &b.Credits, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{OwnerID: ownerID}, nil
		}
		return Balance{}, err
	}
	return b, nil
}

func (s *PostgresStore) Post(ctx context.Context, e LedgerEntry) (LedgerEntry, Balance, bool, error) {
	var (
		outEntry LedgerEntry
		outBal   Balance
		applied  bool
	)
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock (or create) the balance row to serialize postings per owner.
		b, err := lockBalance(ctx, tx, e.OwnerID, e.CreatedAt)
		if err != nil {
			return err
		}

		if existing, ok, err := findLedgerByIdempotency(ctx, tx, e.OwnerID, e.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outEntry = existing
			outBal = b
			return nil
		}

		e.Delta = clampDelta(b.Credits, e.Delta)
		if err := insertLedger(ctx, tx, e); err != nil {
			return err
		}
		nb, err := applyBalanceDelta(ctx, tx, e.OwnerID, e.Delta, e.CreatedAt)
		if err != nil {
			return err
		}
		outEntry = e
		outBal = nb
		applied = true
		return nil
	})
	return outEntry, outBal, applied, err
}

func lockBalance(ctx context.Context, tx *sql.Tx, ownerID string, now time.Time) (Balance, error) {
	const ensure = `
INSERT INTO credit_balances (owner_id, balance, updated_at)
VALUES ($1, 0, $2)
ON CONFLICT (owner_id) DO NOTHING
`
	if _, err := tx.ExecContext(ctx, ensure, ownerID, now); err != nil {
		return Balance{}, err
	}
	const q = `
SELECT owner_id, balance, updated_at
FROM credit_balances
WHERE owner_id = $1
FOR UPDATE
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, ownerID).Scan(&b.OwnerID, &b.Credits, &b.UpdatedAt); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func findLedgerByIdempotency(ctx context.Context, tx *sql.Tx, ownerID, key string) (LedgerEntry, bool, error) {
	const q = `
SELECT id, owner_id, delta, reason, external_ref, idempotency_key, created_at
FROM credit_ledger
WHERE owner_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e LedgerEntry
	err := tx.QueryRowContext(ctx, q, ownerID, key).Scan(
		&e.ID,
		&e.OwnerID,
		&e.Delta,
		&e.Reason,
		&e.ExternalRef,
		&e.IdempotencyKey,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LedgerEntry{}, false, nil
		}
		return LedgerEntry{}, false, err
	}
	return e, true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e LedgerEntry) error {
	const q = `
INSERT INTO credit_ledger (
  id, owner_id, delta, reason, external_ref, idempotency_key, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.OwnerID,
		e.Delta,
		e.Reason,
		e.ExternalRef,
		e.IdempotencyKey,
		e.CreatedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, ownerID string, delta int64, now time.Time) (Balance, error) {
	const q = `
UPDATE credit_balances
SET balance = balance + $2, updated_at = $3
WHERE owner_id = $1
RETURNING owner_id, balance, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, ownerID, delta, now).Scan(&b.OwnerID, &b.Credits, &b.UpdatedAt); err != nil {
		return Balance{}, err
	}
	return b, nil
}

// clampDelta limits a debit to what the balance holds.
func clampDelta(balance, delta int64) int64 {
	if delta < 0 && balance+delta < 0 {
		return -balance
	}
	return delta
}
