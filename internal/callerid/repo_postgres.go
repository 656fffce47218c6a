package callerid

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo stores identities in caller_identities. Counter changes are single
// UPDATE statements with a current_calls > 0 guard, so they are safe under
// concurrent webhook deliveries at read-committed isolation.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const identityColumns = `id, phone_number, provider_phone_id, is_active, is_default, max_concurrent_calls, current_calls, created_at, updated_at`

func scanIdentity(s interface{ Scan(...any) error }) (Identity, error) {
	var i Identity
	err := s.Scan(
		&i.ID,
		&i.PhoneNumber,
		&i.ProviderPhoneID,
		&i.IsActive,
		&i.IsDefault,
		&i.MaxConcurrentCalls,
		&i.CurrentCalls,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func (r *PostgresRepo) DecrementByID(ctx context.Context, id string) (Identity, bool, error) {
	q := `
UPDATE caller_identities
SET current_calls = current_calls - 1, updated_at = $2
WHERE id = $1 AND current_calls > 0
RETURNING ` + identityColumns
	i, err := scanIdentity(r.db.QueryRowContext(ctx, q, id, r.clock().UTC()))
	if err == nil {
		return i, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Identity{}, false, err
	}
	// Nothing released: either the identity is missing or it is already at zero.
	i, err = scanIdentity(r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM caller_identities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, false, ErrNotFound
		}
		return Identity{}, false, err
	}
	return i, false, nil
}

func (r *PostgresRepo) DecrementBusiest(ctx context.Context) (Identity, bool, error) {
	q := `
UPDATE caller_identities
SET current_calls = current_calls - 1, updated_at = $1
WHERE id = (
  SELECT id FROM caller_identities
  WHERE current_calls > 0
  ORDER BY current_calls DESC, id
  LIMIT 1
  FOR UPDATE
) AND current_calls > 0
RETURNING ` + identityColumns
	i, err := scanIdentity(r.db.QueryRowContext(ctx, q, r.clock().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, false, nil
		}
		return Identity{}, false, err
	}
	return i, true, nil
}

func (r *PostgresRepo) AnyWithFreeSlot(ctx context.Context) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM caller_identities
  WHERE is_active AND provider_phone_id <> '' AND current_calls < max_concurrent_calls
)
`
	var ok bool
	err := r.db.QueryRowContext(ctx, q).Scan(&ok)
	return ok, err
}

func (r *PostgresRepo) List(ctx context.Context) ([]Identity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+identityColumns+` FROM caller_identities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Identity, 0)
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
