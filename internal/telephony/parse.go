package telephony

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"prank-platform/internal/callerid"
)

var ErrInvalidPayload = errors.New("telephony: invalid webhook payload")

// Two shapes are accepted:
//
//	{"message": {"type": "...", "call": {...}, ...}}   (Vapi server messages)
//	{"eventType": "...", "call": {...}, ...}           (flat)
type envelope struct {
	Message json.RawMessage `json:"message"`
}

type payload struct {
	Type      string `json:"type"`
	EventType string `json:"eventType"`
	Status    string `json:"status"`

	EndedReason     string   `json:"endedReason"`
	RecordingURL    string   `json:"recordingUrl"`
	DurationSeconds *float64 `json:"durationSeconds"`
	StartedAt       string   `json:"startedAt"`
	EndedAt         string   `json:"endedAt"`

	Timestamp json.RawMessage `json:"timestamp"`

	Call     *callPayload     `json:"call"`
	Artifact *artifactPayload `json:"artifact"`

	Role           string          `json:"role"`
	TranscriptType string          `json:"transcriptType"`
	Transcript     json.RawMessage `json:"transcript"`

	Messages     []messagePayload `json:"messages"`
	Conversation []messagePayload `json:"conversation"`
}

type callPayload struct {
	ID           string `json:"id"`
	EndedReason  string `json:"endedReason"`
	RecordingURL string `json:"recordingUrl"`
	Customer     *struct {
		Number string `json:"number"`
	} `json:"customer"`
}

type artifactPayload struct {
	RecordingURL string           `json:"recordingUrl"`
	Messages     []messagePayload `json:"messages"`
}

type messagePayload struct {
	Role    string          `json:"role"`
	Message string          `json:"message"`
	Text    string          `json:"text"`
	Content json.RawMessage `json:"content"`
	Time    float64         `json:"time"`
}

type utterancePayload struct {
	Role           string `json:"role"`
	Text           string `json:"text"`
	Transcript     string `json:"transcript"`
	TranscriptType string `json:"transcriptType"`
	Final          *bool  `json:"final"`
}

// Parse decodes one webhook body. Unknown event types are not an error: they
// come back as KindUnknown. now stamps events without a provider timestamp.
func Parse(body []byte, now time.Time) (Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Event{}, ErrInvalidPayload
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	raw := body
	if m := bytes.TrimSpace(env.Message); len(m) > 0 && m[0] == '{' {
		raw = m
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	evType := p.Type
	if evType == "" {
		evType = p.EventType
	}
	ev := Event{
		Type:        evType,
		EndedReason: p.EndedReason,
		OccurredAt:  parseTimestamp(p.Timestamp, now),
	}
	if p.Call != nil {
		ev.ExternalCallID = strings.TrimSpace(p.Call.ID)
		if ev.EndedReason == "" {
			ev.EndedReason = p.Call.EndedReason
		}
		if p.Call.Customer != nil && p.Call.Customer.Number != "" {
			ev.CustomerNumber = callerid.NormalizeE164(p.Call.Customer.Number)
		}
	}
	ev.RecordingURL = firstNonEmpty(p.RecordingURL, recordingFromArtifact(p.Artifact), callRecording(p.Call))
	ev.DurationSeconds = duration(p)

	ev.Kind = classify(evType, p.Status)
	if ev.Kind == KindEnded && ev.EndedReason == "" {
		// Twilio-style statuses ("busy", "no-answer", ...) double as the end reason.
		ev.EndedReason = endedAlias(evType, p.Status)
	}

	switch ev.Kind {
	case KindTranscript:
		ev.Transcript = parseUtterance(p)
	case KindEndOfCallReport, KindConversationUpdate:
		msgs := p.Messages
		if len(msgs) == 0 && p.Artifact != nil {
			msgs = p.Artifact.Messages
		}
		if len(msgs) == 0 {
			msgs = p.Conversation
		}
		ev.Messages = convertMessages(msgs)
	}
	return ev, nil
}

func classify(evType, status string) Kind {
	t := normalizeType(evType)
	switch t {
	case "status-update":
		return classifyStatus(normalizeType(status))
	case "end-of-call-report", "report", "end-of-call":
		return KindEndOfCallReport
	case "conversation-update":
		return KindConversationUpdate
	}
	if strings.HasPrefix(t, "transcript") {
		return KindTranscript
	}
	return classifyStatus(t)
}

func classifyStatus(s string) Kind {
	switch s {
	case "ringing":
		return KindRinging
	case "in-progress", "answered":
		return KindAnswered
	case "ended", "hangup", "completed", "busy", "no-answer", "failed", "canceled", "cancelled":
		return KindEnded
	default:
		return KindUnknown
	}
}

func normalizeType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.TrimPrefix(s, "call.")
	return s
}

func endedAlias(evType, status string) string {
	for _, s := range []string{normalizeType(status), normalizeType(evType)} {
		switch s {
		case "completed", "busy", "no-answer", "failed", "canceled", "cancelled":
			return s
		}
	}
	return ""
}

func parseUtterance(p payload) *Utterance {
	u := &Utterance{Role: p.Role, Final: true}
	if p.TranscriptType != "" {
		u.Final = strings.EqualFold(p.TranscriptType, "final")
	}
	raw := bytes.TrimSpace(p.Transcript)
	if len(raw) == 0 {
		return u
	}
	switch raw[0] {
	case '"':
		_ = json.Unmarshal(raw, &u.Text)
	case '{':
		var up utterancePayload
		if err := json.Unmarshal(raw, &up); err == nil {
			u.Text = firstNonEmpty(up.Text, up.Transcript)
			if up.Role != "" {
				u.Role = up.Role
			}
			if up.Final != nil {
				u.Final = *up.Final
			} else if up.TranscriptType != "" {
				u.Final = strings.EqualFold(up.TranscriptType, "final")
			}
		}
	}
	return u
}

func convertMessages(in []messagePayload) []Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]Message, 0, len(in))
	for _, m := range in {
		text := firstNonEmpty(m.Message, m.Text, contentString(m.Content))
		msg := Message{Role: m.Role, Text: text}
		if m.Time > 0 {
			msg.OccurredAt = time.UnixMilli(int64(m.Time)).UTC()
		}
		out = append(out, msg)
	}
	return out
}

// contentString returns content when it is a plain string. Structured content
// (tool calls, multi-part) is not transcript text.
func contentString(raw json.RawMessage) string {
	var s string
	if len(raw) > 0 && raw[0] == '"' {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

func duration(p payload) int {
	if p.DurationSeconds != nil && *p.DurationSeconds > 0 {
		return int(math.Floor(*p.DurationSeconds))
	}
	if p.StartedAt == "" || p.EndedAt == "" {
		return 0
	}
	start, err1 := time.Parse(time.RFC3339Nano, p.StartedAt)
	end, err2 := time.Parse(time.RFC3339Nano, p.EndedAt)
	if err1 != nil || err2 != nil || end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Seconds())
}

// parseTimestamp accepts epoch milliseconds or an RFC 3339 string.
func parseTimestamp(raw json.RawMessage, now time.Time) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return now.UTC()
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t.UTC()
			}
		}
		return now.UTC()
	}
	ms, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || ms <= 0 {
		return now.UTC()
	}
	return time.UnixMilli(int64(ms)).UTC()
}

func recordingFromArtifact(a *artifactPayload) string {
	if a == nil {
		return ""
	}
	return a.RecordingURL
}

func callRecording(c *callPayload) string {
	if c == nil {
		return ""
	}
	return c.RecordingURL
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
