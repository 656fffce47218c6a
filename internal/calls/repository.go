package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound             = errors.New("calls: call job not found")
	ErrInvalidTransition    = errors.New("calls: invalid status transition")
	ErrExternalIDAlreadySet = errors.New("calls: external call id already set")
	ErrAlreadyEvaluated     = errors.New("calls: consumption already evaluated")
	ErrInvalidArgument      = errors.New("calls: invalid argument")
)

// ConversationFunc rewrites a conversation. It runs while the call row is locked.
type ConversationFunc func(current []Message) []Message

// Repository is the CallRecordStore.
//
// Implementations must apply UpdateStatus and ApplyOutcome through Status.CanTransitionTo,
// returning ErrInvalidTransition when the move is not allowed, and must serialize
// MutateConversation per call job.
type Repository interface {
	Get(ctx context.Context, id string) (CallJob, error)
	GetByExternalID(ctx context.Context, externalCallID string) (CallJob, error)
	ListByOwner(ctx context.Context, ownerID string, from, to time.Time) ([]CallJob, error)

	SetExternalCallID(ctx context.Context, id, externalCallID string) error
	UpdateStatus(ctx context.Context, id string, next Status) (CallJob, error)
	ApplyOutcome(ctx context.Context, id string, out Outcome) (CallJob, error)
	MutateConversation(ctx context.Context, id string, fn ConversationFunc) ([]Message, error)

	// MarkConsumptionEvaluated sets the at-most-once marker. It returns
	// ErrAlreadyEvaluated when another delivery got there first.
	MarkConsumptionEvaluated(ctx context.Context, id string, consumed bool, at time.Time) error
}

// nextStatus applies the transition rule shared by all repositories.
func nextStatus(current, next Status) (Status, error) {
	if current == next {
		return current, nil
	}
	if !current.CanTransitionTo(next) {
		return current, ErrInvalidTransition
	}
	return next, nil
}
