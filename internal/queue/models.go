package queue

import "time"

// Entry is a call job waiting for caller-identity capacity.
//
// Lifecycle: queued -> processing -> completed, or processing -> queued when
// initiation fails so a later release can retry it.
type Entry struct {
	ID               string      `json:"id" db:"id"`
	CallJobID        string      `json:"call_job_id" db:"call_job_id"`
	CallerIdentityID string      `json:"caller_identity_id,omitempty" db:"caller_identity_id"`
	Status           EntryStatus `json:"status" db:"status"`

	// Position orders entries FIFO; ties are broken by CreatedAt.
	Position int64 `json:"position" db:"position"`

	ScheduledFor *time.Time `json:"scheduled_for,omitempty" db:"scheduled_for"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	Attempts  int    `json:"attempts" db:"attempts"`
	LastError string `json:"last_error,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EntryStatus string

const (
	EntryStatusQueued     EntryStatus = "queued"
	EntryStatusProcessing EntryStatus = "processing"
	EntryStatusCompleted  EntryStatus = "completed"
)
