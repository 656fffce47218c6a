package callerid

import (
	"context"
	"errors"
	"sort"
)

var ErrNotFound = errors.New("callerid: identity not found")

// Repository persists caller identities. Both release methods must be a single
// conditional update so concurrent releases never drive a counter below zero.
type Repository interface {
	// DecrementByID releases one slot on the given identity if it has one in use.
	// Returns ErrNotFound when the identity does not exist.
	DecrementByID(ctx context.Context, id string) (Identity, bool, error)
	// DecrementBusiest releases one slot on the identity with the highest
	// current_calls > 0 (ties by id). Returns released=false when nothing is in use.
	DecrementBusiest(ctx context.Context) (Identity, bool, error)
	AnyWithFreeSlot(ctx context.Context) (bool, error)
	List(ctx context.Context) ([]Identity, error)
}

// Pool is the capacity side of the orchestration core.
type Pool struct {
	repo Repository
}

func NewPool(repo Repository) *Pool {
	return &Pool{repo: repo}
}

// Release frees one slot after a call ended.
//
// When the call job remembers which identity dialed it (preferredID), that identity
// is released. Otherwise the busiest identity is released: the call->identity link
// is not retained for older jobs, so this is a best-effort pick.
// Releasing when nothing is in use is a no-op.
func (p *Pool) Release(ctx context.Context, preferredID string) (Identity, bool, error) {
	if p.repo == nil {
		return Identity{}, false, errors.New("callerid: repository not configured")
	}
	if preferredID != "" {
		id, released, err := p.repo.DecrementByID(ctx, preferredID)
		if !errors.Is(err, ErrNotFound) {
			return id, released, err
		}
	}
	return p.repo.DecrementBusiest(ctx)
}

// HasCapacity reports whether any active identity with a provider phone resource
// is below its concurrency cap.
func (p *Pool) HasCapacity(ctx context.Context) (bool, error) {
	if p.repo == nil {
		return false, errors.New("callerid: repository not configured")
	}
	return p.repo.AnyWithFreeSlot(ctx)
}

// List returns all identities with E.164 phone numbers, default identity first.
func (p *Pool) List(ctx context.Context) ([]Identity, error) {
	if p.repo == nil {
		return nil, errors.New("callerid: repository not configured")
	}
	out, err := p.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].PhoneNumber = NormalizeE164(out[i].PhoneNumber)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].IsDefault && !out[b].IsDefault
	})
	return out, nil
}
