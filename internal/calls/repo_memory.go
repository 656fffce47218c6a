package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory CallRecordStore for tests and local development.
// A single mutex serializes all writes, which also serializes conversation updates.
type MemoryRepo struct {
	mu    sync.Mutex
	jobs  map[string]CallJob
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{jobs: map[string]CallJob{}, clock: time.Now}
}

// Put inserts or replaces a job as-is.
func (r *MemoryRepo) Put(j CallJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = cloneJob(j)
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (CallJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return CallJob{}, ErrNotFound
	}
	return cloneJob(j), nil
}

func (r *MemoryRepo) GetByExternalID(ctx context.Context, externalCallID string) (CallJob, error) {
	if externalCallID == "" {
		return CallJob{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ExternalCallID == externalCallID {
			return cloneJob(j), nil
		}
	}
	return CallJob{}, ErrNotFound
}

func (r *MemoryRepo) ListByOwner(ctx context.Context, ownerID string, from, to time.Time) ([]CallJob, error) {
	if ownerID == "" {
		return nil, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallJob, 0)
	for _, j := range r.jobs {
		if j.OwnerID != ownerID {
			continue
		}
		if !j.CreatedAt.IsZero() && (j.CreatedAt.Before(from) || !j.CreatedAt.Before(to)) {
			continue
		}
		out = append(out, cloneJob(j))
	}
	return out, nil
}

func (r *MemoryRepo) SetExternalCallID(ctx context.Context, id, externalCallID string) error {
	if id == "" || externalCallID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.ExternalCallID != "" {
		if j.ExternalCallID == externalCallID {
			return nil
		}
		return ErrExternalIDAlreadySet
	}
	for _, other := range r.jobs {
		if other.ExternalCallID == externalCallID {
			return ErrExternalIDAlreadySet
		}
	}
	j.ExternalCallID = externalCallID
	j.UpdatedAt = r.clock().UTC()
	r.jobs[id] = j
	return nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, id string, next Status) (CallJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return CallJob{}, ErrNotFound
	}
	st, err := nextStatus(j.Status, next)
	if err != nil {
		return cloneJob(j), err
	}
	j.Status = st
	j.UpdatedAt = r.clock().UTC()
	r.jobs[id] = j
	return cloneJob(j), nil
}

func (r *MemoryRepo) ApplyOutcome(ctx context.Context, id string, out Outcome) (CallJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return CallJob{}, ErrNotFound
	}
	st, err := nextStatus(j.Status, out.Status)
	if err != nil {
		return cloneJob(j), err
	}
	j.Status = st
	if out.RecordingRef != "" {
		j.RecordingRef = out.RecordingRef
	}
	if out.DurationSeconds > 0 {
		j.DurationSeconds = out.DurationSeconds
	}
	if out.EndedReason != "" {
		j.EndedReason = out.EndedReason
	}
	j.UpdatedAt = r.clock().UTC()
	r.jobs[id] = j
	return cloneJob(j), nil
}

func (r *MemoryRepo) MutateConversation(ctx context.Context, id string, fn ConversationFunc) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	current := make([]Message, len(j.Conversation))
	copy(current, j.Conversation)
	j.Conversation = fn(current)
	j.UpdatedAt = r.clock().UTC()
	r.jobs[id] = j

	out := make([]Message, len(j.Conversation))
	copy(out, j.Conversation)
	return out, nil
}

func (r *MemoryRepo) MarkConsumptionEvaluated(ctx context.Context, id string, consumed bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.ConsumptionEvaluatedAt != nil {
		return ErrAlreadyEvaluated
	}
	t := at.UTC()
	j.ConsumptionEvaluatedAt = &t
	j.Consumed = consumed
	r.jobs[id] = j
	return nil
}

func cloneJob(j CallJob) CallJob {
	if j.Conversation != nil {
		msgs := make([]Message, len(j.Conversation))
		copy(msgs, j.Conversation)
		j.Conversation = msgs
	}
	return j
}
