package wallet

import "time"

// Balance is an owner's prepaid call credits.
// Invariant: Credits >= 0 and every change has a corresponding ledger entry.
type Balance struct {
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Credits   int64     `json:"credits" db:"balance"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable append-only row in credit_ledger.
type LedgerEntry struct {
	ID      string `json:"id" db:"id"`
	OwnerID string `json:"owner_id" db:"owner_id"`

	// Delta is the change actually applied. A consumption against an empty
	// balance is recorded with Delta 0.
	Delta  int64       `json:"delta" db:"delta"`
	Reason EntryReason `json:"reason" db:"reason"`

	// ExternalRef is optional: call_job_id, payment id, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey is unique per owner; replays return the original entry.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EntryReason string

const (
	EntryReasonCallConsumed EntryReason = "call_consumed"
	EntryReasonCredit       EntryReason = "credit"
)

// CallIdempotencyKey is the ledger key for consuming a call job's credit.
func CallIdempotencyKey(callJobID string) string {
	return "call:" + callJobID
}
