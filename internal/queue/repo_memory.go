package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local development.
type MemoryRepo struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryRepo(entries ...Entry) *MemoryRepo {
	r := &MemoryRepo{entries: map[string]Entry{}}
	for _, e := range entries {
		r.entries[e.ID] = e
	}
	return r
}

func (r *MemoryRepo) Put(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = e
}

func (r *MemoryRepo) Get(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *MemoryRepo) Oldest(ctx context.Context) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	queued := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Status == EntryStatusQueued {
			queued = append(queued, e)
		}
	}
	if len(queued) == 0 {
		return Entry{}, false, nil
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].Position != queued[j].Position {
			return queued[i].Position < queued[j].Position
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})
	return queued[0], true, nil
}

func (r *MemoryRepo) Claim(ctx context.Context, id string, at time.Time) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if e.Status != EntryStatusQueued {
		return e, ErrNotClaimed
	}
	e.Status = EntryStatusProcessing
	e.StartedAt = &at
	r.entries[id] = e
	return e, nil
}

func (r *MemoryRepo) Complete(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != EntryStatusProcessing {
		return ErrNotClaimed
	}
	e.Status = EntryStatusCompleted
	e.CompletedAt = &at
	r.entries[id] = e
	return nil
}

func (r *MemoryRepo) Requeue(ctx context.Context, id string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != EntryStatusProcessing {
		return ErrNotClaimed
	}
	e.Status = EntryStatusQueued
	e.StartedAt = nil
	e.Attempts++
	e.LastError = reason
	r.entries[id] = e
	return nil
}
