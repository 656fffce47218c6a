package calls

import "time"

// CallJob is one request to place an outbound AI voice call, tracked end-to-end.
//
// Invariants:
// - ExternalCallID is assigned once, when dialing starts, and never reassigned.
// - Status only moves forward through the lifecycle (see Status.CanTransitionTo).
//
// CallerIdentityID is written by the initiator at dial time when it knows which
// identity placed the call. It is empty for jobs dialed before that column existed.
type CallJob struct {
	ID               string `json:"id" db:"id"`
	OwnerID          string `json:"owner_id" db:"owner_id"`
	ExternalCallID   string `json:"external_call_id,omitempty" db:"external_call_id"`
	CallerIdentityID string `json:"caller_identity_id,omitempty" db:"caller_identity_id"`

	Status       Status    `json:"status" db:"status"`
	RecordingRef string    `json:"recording_ref,omitempty" db:"recording_ref"`
	Conversation []Message `json:"conversation" db:"conversation"`

	MaxDurationSeconds int        `json:"max_duration_seconds" db:"max_duration_seconds"`
	ScheduledAt        *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`

	// Filled from the end-of-call report.
	DurationSeconds int    `json:"duration_seconds" db:"duration_seconds"`
	EndedReason     string `json:"ended_reason,omitempty" db:"ended_reason"`

	// ConsumptionEvaluatedAt marks that the consumption policy already ran for this job.
	ConsumptionEvaluatedAt *time.Time `json:"consumption_evaluated_at,omitempty" db:"consumption_evaluated_at"`
	Consumed               bool       `json:"consumed" db:"consumed"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Role identifies the speaker of a conversation message.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Message is one utterance in a call's conversation.
type Message struct {
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Outcome is what the end-of-call report says about a finished call.
type Outcome struct {
	Status          Status
	RecordingRef    string
	DurationSeconds int
	EndedReason     string
}
