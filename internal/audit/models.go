package audit

import "time"

// Event is an immutable, append-only record of something the call lifecycle
// did or refused to do.
//
// Invariants:
// - Events are never updated or deleted.
// - Audit is best-effort; do not block webhook handling on audit failures.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// Target identifiers (optional, depending on the event type).
	CallJobID      string `json:"call_job_id,omitempty" db:"call_job_id"`
	ExternalCallID string `json:"external_call_id,omitempty" db:"external_call_id"`
	QueueEntryID   string `json:"queue_entry_id,omitempty" db:"queue_entry_id"`

	// ActorUserID is set for operator-triggered actions.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCorrelationMiss    EventType = "correlation_miss"
	EventTypeIgnoredTransition  EventType = "ignored_transition"
	EventTypeCapacityReleased   EventType = "capacity_released"
	EventTypeQueuePromoted      EventType = "queue_promoted"
	EventTypePromotionFailed    EventType = "promotion_failed"
	EventTypeConsumptionDecided EventType = "consumption_decided"
	EventTypeSecondaryFailure   EventType = "secondary_failure"
	EventTypeManualPromotion    EventType = "manual_promotion"
)
