package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidArgument = errors.New("wallet: invalid argument")
)

// Service manages prepaid call credits.
//
// Credit invariants:
// - No balance update without a ledger entry
// - Ledger is append-only
// - Consume is idempotent per call job and never drives a balance below zero
type Service struct {
	store Store
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

func (s *Service) GetBalance(ctx context.Context, ownerID string) (Balance, error) {
	if ownerID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return s.store.Balance(ctx, ownerID)
}

// Consume takes one credit for a finished call job. A redelivery for the same
// call job returns the original entry with applied=false.
func (s *Service) Consume(ctx context.Context, ownerID, callJobID string) (LedgerEntry, Balance, bool, error) {
	if ownerID == "" || callJobID == "" {
		return LedgerEntry{}, Balance{}, false, ErrInvalidArgument
	}
	return s.store.Post(ctx, LedgerEntry{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Delta:          -1,
		Reason:         EntryReasonCallConsumed,
		ExternalRef:    callJobID,
		IdempotencyKey: CallIdempotencyKey(callJobID),
		CreatedAt:      s.clock().UTC(),
	})
}

type CreditRequest struct {
	Credits        int64  `json:"credits"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Credit adds purchased credits. Purchasing itself happens elsewhere; this only
// records the result.
func (s *Service) Credit(ctx context.Context, ownerID string, req CreditRequest) (LedgerEntry, Balance, error) {
	if ownerID == "" || req.IdempotencyKey == "" || req.Credits <= 0 {
		return LedgerEntry{}, Balance{}, ErrInvalidArgument
	}
	e, b, _, err := s.store.Post(ctx, LedgerEntry{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Delta:          req.Credits,
		Reason:         EntryReasonCredit,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.clock().UTC(),
	})
	return e, b, err
}
