package transcript

import (
	"context"
	"strings"
	"time"

	"prank-platform/internal/calls"
)

// Store is the slice of calls.Repository the aggregator needs.
type Store interface {
	MutateConversation(ctx context.Context, id string, fn calls.ConversationFunc) ([]calls.Message, error)
}

// RawMessage is a provider message before role mapping.
type RawMessage struct {
	Role       string
	Text       string
	OccurredAt time.Time
}

// Aggregator builds a call job's conversation from provider transcript events.
//
// Append adds one final utterance. Replace swaps in the provider's full message
// list, which wins over anything appended before.
type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Append maps the speaker label and appends one message. Empty text and control
// roles are ignored and return the conversation unchanged.
func (a *Aggregator) Append(ctx context.Context, callJobID, label, text string, at time.Time) ([]calls.Message, error) {
	role, ok := MapRole(label)
	text = strings.TrimSpace(text)
	return a.store.MutateConversation(ctx, callJobID, func(cur []calls.Message) []calls.Message {
		if !ok || text == "" {
			return cur
		}
		return append(cur, calls.Message{Role: role, Text: text, OccurredAt: at.UTC()})
	})
}

// Replace overwrites the conversation with msgs after dropping control messages.
func (a *Aggregator) Replace(ctx context.Context, callJobID string, msgs []RawMessage) ([]calls.Message, error) {
	next := Normalize(msgs)
	return a.store.MutateConversation(ctx, callJobID, func([]calls.Message) []calls.Message {
		return next
	})
}

// Normalize maps roles and drops control and empty messages.
func Normalize(msgs []RawMessage) []calls.Message {
	out := make([]calls.Message, 0, len(msgs))
	for _, m := range msgs {
		role, ok := MapRole(m.Role)
		text := strings.TrimSpace(m.Text)
		if !ok || text == "" {
			continue
		}
		out = append(out, calls.Message{Role: role, Text: text, OccurredAt: m.OccurredAt.UTC()})
	}
	return out
}

var controlRoles = map[string]struct{}{
	"system":           {},
	"tool":             {},
	"tool_calls":       {},
	"tool_call_result": {},
	"function":         {},
	"function_call":    {},
}

// MapRole maps a provider speaker label to a conversation role. The person who
// picks up is the caller; the synthetic voice is the callee. ok is false for
// control roles and unknown labels.
func MapRole(label string) (calls.Role, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	if _, ok := controlRoles[l]; ok {
		return "", false
	}
	switch l {
	case "user", "customer", "human", "caller":
		return calls.RoleCaller, true
	case "assistant", "bot", "ai", "agent", "callee":
		return calls.RoleCallee, true
	default:
		return "", false
	}
}
