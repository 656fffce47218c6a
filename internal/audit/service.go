package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for lifecycle audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCallJob(ctx context.Context, callJobID string, limit int) ([]Event, error)
}

// Service records internal lifecycle audit information.
//
// Audit is internal-only. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record appends an event with metadata encoded as JSON.
func (s *Service) Record(ctx context.Context, typ EventType, callJobID, externalCallID, message string, metadata map[string]any) error {
	e := Event{
		Type:           typ,
		CallJobID:      callJobID,
		ExternalCallID: externalCallID,
		Message:        message,
	}
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		e.Metadata = string(b)
	}
	return s.Append(ctx, e)
}

// LogManualPromotion records an operator-triggered queue promotion.
func (s *Service) LogManualPromotion(ctx context.Context, actorUserID, queueEntryID, callJobID, result string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeManualPromotion,
		ActorUserID:  actorUserID,
		QueueEntryID: queueEntryID,
		CallJobID:    callJobID,
		Message:      result,
	})
}

func (s *Service) ListByCallJob(ctx context.Context, callJobID string, limit int) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if callJobID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListByCallJob(ctx, callJobID, limit)
}
