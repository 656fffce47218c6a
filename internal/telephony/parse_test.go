package telephony

import (
	"errors"
	"testing"
	"time"

	"prank-platform/internal/calls"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Unix(1700000000, 0).UTC()

func TestParse_VapiStatusUpdates(t *testing.T) {
	ev, err := Parse([]byte(`{"message":{"type":"status-update","status":"ringing","call":{"id":"ext-1","customer":{"number":"(415) 555-2671"}}}}`), now)
	require.NoError(t, err)
	assert.Equal(t, KindRinging, ev.Kind)
	assert.Equal(t, "ext-1", ev.ExternalCallID)
	assert.Equal(t, "+14155552671", ev.CustomerNumber)
	assert.Equal(t, now, ev.OccurredAt)

	ev, err = Parse([]byte(`{"message":{"type":"status-update","status":"in-progress","call":{"id":"ext-1"},"timestamp":1700000005000}}`), now)
	require.NoError(t, err)
	assert.Equal(t, KindAnswered, ev.Kind)
	assert.Equal(t, now.Add(5*time.Second), ev.OccurredAt)

	ev, err = Parse([]byte(`{"message":{"type":"status-update","status":"ended","endedReason":"customer-busy","call":{"id":"ext-1"}}}`), now)
	require.NoError(t, err)
	assert.Equal(t, KindEnded, ev.Kind)
	assert.Equal(t, "customer-busy", ev.EndedReason)
}

func TestParse_EndOfCallReport(t *testing.T) {
	body := `{"message":{
		"type":"end-of-call-report",
		"endedReason":"customer-ended-call",
		"durationSeconds":90.7,
		"call":{"id":"ext-9"},
		"artifact":{
			"recordingUrl":"https://cdn.example/rec.wav",
			"messages":[
				{"role":"system","message":"You are a prank caller."},
				{"role":"bot","message":"Hi, is your fridge running?","time":1700000001000},
				{"role":"user","message":"Yes?","time":1700000002000}
			]
		}
	}}`
	ev, err := Parse([]byte(body), now)
	require.NoError(t, err)
	assert.Equal(t, KindEndOfCallReport, ev.Kind)
	assert.Equal(t, "ext-9", ev.ExternalCallID)
	assert.Equal(t, "https://cdn.example/rec.wav", ev.RecordingURL)
	assert.Equal(t, 90, ev.DurationSeconds)
	require.Len(t, ev.Messages, 3)
	assert.Equal(t, "bot", ev.Messages[1].Role)
	assert.Equal(t, time.UnixMilli(1700000001000).UTC(), ev.Messages[1].OccurredAt)
}

func TestParse_FlatShape(t *testing.T) {
	ev, err := Parse([]byte(`{"eventType":"call.ended","call":{"id":"ext-2","endedReason":"customer-did-not-answer"}}`), now)
	require.NoError(t, err)
	assert.Equal(t, KindEnded, ev.Kind)
	assert.Equal(t, "customer-did-not-answer", ev.EndedReason)

	ev, err = Parse([]byte(`{"eventType":"transcript","call":{"id":"ext-2"},"transcript":{"role":"assistant","text":"hello"}}`), now)
	require.NoError(t, err)
	assert.Equal(t, KindTranscript, ev.Kind)
	require.NotNil(t, ev.Transcript)
	assert.Equal(t, "assistant", ev.Transcript.Role)
	assert.Equal(t, "hello", ev.Transcript.Text)
	assert.True(t, ev.Transcript.Final)

	ev, err = Parse([]byte(`{"eventType":"end-of-call-report","call":{"id":"ext-2","recordingUrl":"rec-ref"},"startedAt":"2024-01-01T10:00:00Z","endedAt":"2024-01-01T10:01:30Z"}`), now)
	require.NoError(t, err)
	assert.Equal(t, "rec-ref", ev.RecordingURL)
	assert.Equal(t, 90, ev.DurationSeconds)
}

func TestParse_TwilioStyleStatusIsItsOwnReason(t *testing.T) {
	ev, err := Parse([]byte(`{"eventType":"no-answer","call":{"id":"CA1"}}`), now)
	require.NoError(t, err)
	assert.Equal(t, KindEnded, ev.Kind)
	assert.Equal(t, calls.StatusNoAnswer, ResolveTerminalStatus(ev.EndedReason, false))
}

func TestParse_PartialTranscript(t *testing.T) {
	ev, err := Parse([]byte(`{"message":{"type":"transcript","role":"user","transcriptType":"partial","transcript":"hel","call":{"id":"ext-3"}}}`), now)
	require.NoError(t, err)
	require.NotNil(t, ev.Transcript)
	assert.False(t, ev.Transcript.Final)
	assert.Equal(t, "hel", ev.Transcript.Text)
}

func TestParse_ConversationUpdateSkipsStructuredContent(t *testing.T) {
	ev, err := Parse([]byte(`{"message":{"type":"conversation-update","call":{"id":"ext-4"},"conversation":[
		{"role":"assistant","content":"Hello"},
		{"role":"assistant","content":null},
		{"role":"user","content":[{"type":"text","text":"x"}]}
	]}}`), now)
	require.NoError(t, err)
	assert.Equal(t, KindConversationUpdate, ev.Kind)
	require.Len(t, ev.Messages, 3)
	assert.Equal(t, "Hello", ev.Messages[0].Text)
	assert.Equal(t, "", ev.Messages[1].Text)
	assert.Equal(t, "", ev.Messages[2].Text)
}

func TestParse_UnknownTypeIsNotAnError(t *testing.T) {
	ev, err := Parse([]byte(`{"message":{"type":"speech-update"}}`), now)
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, ev.Kind)
	assert.Empty(t, ev.ExternalCallID)

	ev, err = Parse([]byte(`{}`), now)
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, ev.Kind)
}

func TestParse_InvalidJSON(t *testing.T) {
	for _, body := range []string{"", "not json", `[1,2]`} {
		_, err := Parse([]byte(body), now)
		assert.Truef(t, errors.Is(err, ErrInvalidPayload), "body %q", body)
	}
}

func TestResolveTerminalStatus(t *testing.T) {
	tests := []struct {
		reason    string
		recording bool
		want      calls.Status
	}{
		{"customer-did-not-answer", false, calls.StatusNoAnswer},
		{"voicemail", false, calls.StatusNoAnswer},
		{"customer-busy", false, calls.StatusBusy},
		{"customer-ended-call", false, calls.StatusCompleted},
		{"assistant-ended-call", false, calls.StatusCompleted},
		{"assistant-said-end-call-phrase", false, calls.StatusCompleted},
		{"exceeded-max-duration", false, calls.StatusCompleted},
		{"silence-timed-out", false, calls.StatusCompleted},
		{"", false, calls.StatusCompleted},
		{"pipeline-error-openai-llm-failed", false, calls.StatusFailed},
		{"twilio-failed-to-connect-call", false, calls.StatusFailed},
		{"manually-canceled", false, calls.StatusCancelled},
		{"customer-ended-call", true, calls.StatusRecordingAvailable},
		{"customer-did-not-answer", true, calls.StatusRecordingAvailable},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, ResolveTerminalStatus(tt.reason, tt.recording), "reason %q", tt.reason)
	}
}

func TestAnsweredAndFailed(t *testing.T) {
	assert.False(t, WasAnswered("customer-did-not-answer"))
	assert.False(t, WasAnswered("customer-busy"))
	assert.True(t, WasAnswered("customer-ended-call"))
	assert.False(t, WasAnswered("manually-canceled"))
	assert.False(t, WasAnswered("call.cancelled"))
	assert.True(t, IsFailed("pipeline-error-eleven-labs"))
	assert.False(t, IsFailed("customer-ended-call"))
}
