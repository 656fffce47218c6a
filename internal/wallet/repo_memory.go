package wallet

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]Balance
	ledger   []LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: map[string]Balance{}}
}

// SetBalance seeds an owner's balance without a ledger entry.
func (s *MemoryStore) SetBalance(ownerID string, credits int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[ownerID] = Balance{OwnerID: ownerID, Credits: credits}
}

func (s *MemoryStore) Entries(ownerID string) []LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LedgerEntry, 0)
	for _, e := range s.ledger {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) Balance(ctx context.Context, ownerID string) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[ownerID]
	if !ok {
		return Balance{OwnerID: ownerID}, nil
	}
	return b, nil
}

func (s *MemoryStore) Post(ctx context.Context, e LedgerEntry) (LedgerEntry, Balance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[e.OwnerID]
	if !ok {
		b = Balance{OwnerID: e.OwnerID}
	}
	for _, existing := range s.ledger {
		if existing.OwnerID == e.OwnerID && existing.IdempotencyKey == e.IdempotencyKey {
			return existing, b, false, nil
		}
	}

	e.Delta = clampDelta(b.Credits, e.Delta)
	s.ledger = append(s.ledger, e)
	b.Credits += e.Delta
	b.UpdatedAt = e.CreatedAt
	s.balances[e.OwnerID] = b
	return e, b, true, nil
}
