package telephony

import "time"

// Kind is the classified meaning of a provider event.
type Kind string

const (
	KindRinging            Kind = "ringing"
	KindAnswered           Kind = "answered"
	KindEnded              Kind = "ended"
	KindEndOfCallReport    Kind = "end_of_call_report"
	KindTranscript         Kind = "transcript"
	KindConversationUpdate Kind = "conversation_update"
	KindUnknown            Kind = "unknown"
)

// Event is one provider webhook delivery in provider-agnostic form.
type Event struct {
	Kind Kind `json:"kind"`
	// Type is the provider's raw event type, kept for logs and audit.
	Type string `json:"type"`

	// ExternalCallID correlates the event with a call job. Empty means nothing to correlate.
	ExternalCallID string `json:"external_call_id,omitempty"`
	CustomerNumber string `json:"customer_number,omitempty"`

	EndedReason     string `json:"ended_reason,omitempty"`
	RecordingURL    string `json:"recording_url,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`

	// Transcript is set for KindTranscript.
	Transcript *Utterance `json:"transcript,omitempty"`
	// Messages is the provider's full ordered conversation, when present.
	Messages []Message `json:"messages,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// Utterance is one transcribed line from a live call.
type Utterance struct {
	Role  string `json:"role"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Message is one entry of a full conversation list, roles still in provider vocabulary.
type Message struct {
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurred_at"`
}
