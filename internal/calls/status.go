package calls

// Status is the lifecycle state of a call job.
//
// pending -> initiated -> ringing -> in_progress -> {terminal}
//
// Terminal: completed, recording_available, no_answer, busy, failed, cancelled.
type Status string

const (
	StatusPending            Status = "pending"
	StatusInitiated          Status = "initiated"
	StatusRinging            Status = "ringing"
	StatusInProgress         Status = "in_progress"
	StatusCompleted          Status = "completed"
	StatusRecordingAvailable Status = "recording_available"
	StatusNoAnswer           Status = "no_answer"
	StatusBusy               Status = "busy"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

// rank orders the non-terminal states. Terminal states share the highest rank.
var rank = map[Status]int{
	StatusPending:            0,
	StatusInitiated:          1,
	StatusRinging:            2,
	StatusInProgress:         3,
	StatusCompleted:          4,
	StatusRecordingAvailable: 4,
	StatusNoAnswer:           4,
	StatusBusy:               4,
	StatusFailed:             4,
	StatusCancelled:          4,
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

// Terminal reports whether no further provider event is expected for s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRecordingAvailable, StatusNoAnswer, StatusBusy, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo is the single source of truth for status transitions.
//
// Forward moves are allowed, including terminal -> terminal (the end-of-call
// report may re-derive the final status). Backward moves and moves out of a
// terminal state are not. Same-status updates are reported as not allowed so
// callers can skip the write.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() || s == next {
		return false
	}
	if s.Terminal() {
		return next.Terminal()
	}
	return rank[next] > rank[s]
}
