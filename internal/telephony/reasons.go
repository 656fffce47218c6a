package telephony

import (
	"strings"

	"prank-platform/internal/calls"
)

// ResolveTerminalStatus maps a provider end reason to exactly one terminal
// status. A recording overrides everything else.
//
// Unrecognised and empty reasons resolve to completed.
func ResolveTerminalStatus(endedReason string, hasRecording bool) calls.Status {
	if hasRecording {
		return calls.StatusRecordingAvailable
	}
	return classifyReason(endedReason)
}

// WasAnswered reports whether the end reason implies someone picked up.
// Cancelled calls count as not answered.
func WasAnswered(endedReason string) bool {
	switch classifyReason(endedReason) {
	case calls.StatusNoAnswer, calls.StatusBusy, calls.StatusCancelled:
		return false
	default:
		return true
	}
}

// IsFailed reports whether the end reason carries a provider or network error.
func IsFailed(endedReason string) bool {
	return classifyReason(endedReason) == calls.StatusFailed
}

func classifyReason(endedReason string) calls.Status {
	r := strings.ToLower(strings.TrimSpace(endedReason))
	switch {
	case r == "":
		return calls.StatusCompleted
	case containsAny(r, "did-not-answer", "no-answer", "no_answer", "noanswer", "not-answered", "voicemail"):
		return calls.StatusNoAnswer
	case strings.Contains(r, "busy"):
		return calls.StatusBusy
	case containsAny(r, "cancel"):
		return calls.StatusCancelled
	case containsAny(r, "error", "fail"):
		return calls.StatusFailed
	default:
		return calls.StatusCompleted
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
