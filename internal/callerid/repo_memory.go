package callerid

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory identity store for tests.
type MemoryRepo struct {
	mu         sync.Mutex
	identities map[string]Identity
}

func NewMemoryRepo(ids ...Identity) *MemoryRepo {
	r := &MemoryRepo{identities: map[string]Identity{}}
	for _, id := range ids {
		r.identities[id.ID] = id
	}
	return r
}

// Get returns a copy of the identity, for assertions.
func (r *MemoryRepo) Get(id string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.identities[id]
	return i, ok
}

// SetCurrentCalls overwrites the live counter, standing in for the initiator's reservation.
func (r *MemoryRepo) SetCurrentCalls(id string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.identities[id]
	i.CurrentCalls = n
	r.identities[id] = i
}

func (r *MemoryRepo) DecrementByID(ctx context.Context, id string) (Identity, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.identities[id]
	if !ok {
		return Identity{}, false, ErrNotFound
	}
	if i.CurrentCalls <= 0 {
		i.CurrentCalls = 0
		r.identities[id] = i
		return i, false, nil
	}
	i.CurrentCalls--
	r.identities[id] = i
	return i, true, nil
}

func (r *MemoryRepo) DecrementBusiest(ctx context.Context) (Identity, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		best  Identity
		found bool
	)
	for _, i := range r.sortedLocked() {
		if i.CurrentCalls <= 0 {
			continue
		}
		if !found || i.CurrentCalls > best.CurrentCalls {
			best, found = i, true
		}
	}
	if !found {
		return Identity{}, false, nil
	}
	best.CurrentCalls--
	r.identities[best.ID] = best
	return best, true, nil
}

func (r *MemoryRepo) AnyWithFreeSlot(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.identities {
		if i.HasFreeSlot() {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(), nil
}

func (r *MemoryRepo) sortedLocked() []Identity {
	out := make([]Identity, 0, len(r.identities))
	for _, i := range r.identities {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}
