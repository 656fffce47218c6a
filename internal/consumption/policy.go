package consumption

import (
	"strconv"
	"strings"
)

// Settings keys read from the settings table.
const (
	KeyMinDurationSeconds = "consumption.min_duration_seconds"
	KeyRequireAnswered    = "consumption.require_answered"
	KeyCountFailedCalls   = "consumption.count_failed_calls"

	keyPrefix = "consumption."
)

// Rules decide whether a finished call consumes one credit.
type Rules struct {
	MinDurationSeconds int  `json:"min_duration_seconds"`
	RequireAnswered    bool `json:"require_answered"`
	CountFailedCalls   bool `json:"count_failed_calls"`
}

// DefaultRules apply per key when a setting is missing or unparsable.
func DefaultRules() Rules {
	return Rules{MinDurationSeconds: 30, RequireAnswered: true, CountFailedCalls: false}
}

// Outcome is what the policy needs to know about a finished call.
type Outcome struct {
	WasAnswered     bool
	IsFailed        bool
	DurationSeconds int
}

// Decide reports whether the call consumes a credit. Checks run in order and the
// first one that fails wins.
func Decide(out Outcome, r Rules) bool {
	if r.RequireAnswered && !out.WasAnswered {
		return false
	}
	if r.MinDurationSeconds > 0 && out.DurationSeconds < r.MinDurationSeconds {
		return false
	}
	if out.IsFailed && !r.CountFailedCalls {
		return false
	}
	return true
}

// ParseRules builds Rules from raw settings values.
func ParseRules(values map[string]string) Rules {
	r := DefaultRules()
	if v, ok := values[KeyMinDurationSeconds]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			r.MinDurationSeconds = n
		}
	}
	if v, ok := values[KeyRequireAnswered]; ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			r.RequireAnswered = b
		}
	}
	if v, ok := values[KeyCountFailedCalls]; ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			r.CountFailedCalls = b
		}
	}
	return r
}
