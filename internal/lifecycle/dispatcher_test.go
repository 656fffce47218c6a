package lifecycle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prank-platform/internal/audit"
	"prank-platform/internal/callerid"
	"prank-platform/internal/calls"
	"prank-platform/internal/consumption"
	"prank-platform/internal/metrics"
	"prank-platform/internal/queue"
	"prank-platform/internal/telephony"
	"prank-platform/internal/transcript"
	"prank-platform/internal/wallet"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	jobs       *calls.MemoryRepo
	identities *callerid.MemoryRepo
	entries    *queue.MemoryRepo
	credits    *wallet.MemoryStore
	audit      *audit.MemoryRepo
	metrics    *metrics.Metrics
	dialed     []string
	dialErr    error
	d          *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		jobs:       calls.NewMemoryRepo(),
		identities: callerid.NewMemoryRepo(),
		entries:    queue.NewMemoryRepo(),
		credits:    wallet.NewMemoryStore(),
		audit:      audit.NewMemoryRepo(),
		metrics:    metrics.New(prometheus.NewRegistry()),
	}
	pool := callerid.NewPool(f.identities)
	dialer := queue.InitiatorFunc(func(ctx context.Context, callJobID string) error {
		f.dialed = append(f.dialed, callJobID)
		return f.dialErr
	})
	engine := consumption.NewEngine(consumption.StaticRules(consumption.Rules{
		MinDurationSeconds: 30,
		RequireAnswered:    true,
		CountFailedCalls:   false,
	}), wallet.NewService(f.credits), f.jobs)

	f.d = NewDispatcher(f.jobs, transcript.NewAggregator(f.jobs), pool, queue.NewPromoter(f.entries, pool, dialer), engine)
	f.d.Audit = audit.NewService(f.audit)
	f.d.Metrics = f.metrics
	return f
}

func (f *fixture) job(t *testing.T, id string) calls.CallJob {
	t.Helper()
	j, err := f.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return j
}

func (f *fixture) balance(t *testing.T, owner string) int64 {
	t.Helper()
	b, err := f.credits.Balance(context.Background(), owner)
	require.NoError(t, err)
	return b.Credits
}

func (f *fixture) scrape(t *testing.T) string {
	t.Helper()
	w := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	return string(body)
}

func report(ext, reason, recording string, duration int) telephony.Event {
	return telephony.Event{
		Kind:            telephony.KindEndOfCallReport,
		Type:            "end-of-call-report",
		ExternalCallID:  ext,
		EndedReason:     reason,
		RecordingURL:    recording,
		DurationSeconds: duration,
		OccurredAt:      time.Unix(1700000000, 0).UTC(),
	}
}

func TestDispatch_NotAnsweredDoesNotConsume(t *testing.T) {
	f := newFixture(t)
	f.jobs.Put(calls.CallJob{ID: "job-1", OwnerID: "owner-1", ExternalCallID: "ext-1", Status: calls.StatusRinging})
	f.credits.SetBalance("owner-1", 5)

	require.NoError(t, f.d.Dispatch(context.Background(), report("ext-1", "customer-did-not-answer", "", 0)))

	j := f.job(t, "job-1")
	assert.Equal(t, calls.StatusNoAnswer, j.Status)
	require.NotNil(t, j.ConsumptionEvaluatedAt)
	assert.False(t, j.Consumed)
	assert.Equal(t, int64(5), f.balance(t, "owner-1"))
}

func TestDispatch_CancelledCallDoesNotConsumeWhenAnswerRequired(t *testing.T) {
	f := newFixture(t)
	f.jobs.Put(calls.CallJob{ID: "job-1", OwnerID: "owner-1", ExternalCallID: "ext-1", Status: calls.StatusRinging})
	f.credits.SetBalance("owner-1", 5)
	f.d.consumption = consumption.NewEngine(consumption.StaticRules(consumption.Rules{
		MinDurationSeconds: 0,
		RequireAnswered:    true,
	}), wallet.NewService(f.credits), f.jobs)

	require.NoError(t, f.d.Dispatch(context.Background(), report("ext-1", "manually-canceled", "", 4)))

	j := f.job(t, "job-1")
	assert.Equal(t, calls.StatusCancelled, j.Status)
	require.NotNil(t, j.ConsumptionEvaluatedAt)
	assert.False(t, j.Consumed)
	assert.Equal(t, int64(5), f.balance(t, "owner-1"))
}

func TestDispatch_RecordedAnsweredCallConsumesOnce(t *testing.T) {
	f := newFixture(t)
	f.jobs.Put(calls.CallJob{ID: "job-1", OwnerID: "owner-1", ExternalCallID: "ext-1", Status: calls.StatusInProgress})
	f.credits.SetBalance("owner-1", 5)
	ev := report("ext-1", "customer-ended-call", "https://cdn.example/rec.wav", 90)

	require.NoError(t, f.d.Dispatch(context.Background(), ev))

	j := f.job(t, "job-1")
	assert.Equal(t, calls.StatusRecordingAvailable, j.Status)
	assert.Equal(t, "https://cdn.example/rec.wav", j.RecordingRef)
	assert.Equal(t, 90, j.DurationSeconds)
	assert.Equal(t, int64(4), f.balance(t, "owner-1"))

	require.NoError(t, f.d.Dispatch(context.Background(), ev))
	assert.Equal(t, int64(4), f.balance(t, "owner-1"))
	assert.Len(t, f.credits.Entries("owner-1"), 1)
}

func TestDispatch_ReleasePromotesOldestQueuedEntry(t *testing.T) {
	f := newFixture(t)
	f.identities = callerid.NewMemoryRepo(callerid.Identity{
		ID: "id-A", PhoneNumber: "+14155552671", ProviderPhoneID: "ph-A", IsActive: true, MaxConcurrentCalls: 1, CurrentCalls: 1,
	})
	pool := callerid.NewPool(f.identities)
	f.d.pool = pool
	f.d.promoter = queue.NewPromoter(f.entries, pool, queue.InitiatorFunc(func(ctx context.Context, id string) error {
		f.dialed = append(f.dialed, id)
		return nil
	}))

	f.jobs.Put(calls.CallJob{ID: "job-1", OwnerID: "owner-1", ExternalCallID: "ext-1", Status: calls.StatusInProgress})
	f.entries.Put(queue.Entry{ID: "q1", CallJobID: "job-queued-1", Status: queue.EntryStatusQueued, Position: 1})
	f.entries.Put(queue.Entry{ID: "q2", CallJobID: "job-queued-2", Status: queue.EntryStatusQueued, Position: 2})

	require.NoError(t, f.d.Dispatch(context.Background(), report("ext-1", "customer-ended-call", "", 45)))

	a, _ := f.identities.Get("id-A")
	assert.Equal(t, 0, a.CurrentCalls)
	q1, _ := f.entries.Get("q1")
	assert.Equal(t, queue.EntryStatusCompleted, q1.Status)
	q2, _ := f.entries.Get("q2")
	assert.Equal(t, queue.EntryStatusQueued, q2.Status)
	assert.Equal(t, []string{"job-queued-1"}, f.dialed)
}

func TestDispatch_UnknownEventWithoutCallIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.jobs.Put(calls.CallJob{ID: "job-1", ExternalCallID: "ext-1", Status: calls.StatusRinging})

	err := f.d.Dispatch(context.Background(), telephony.Event{Kind: telephony.KindUnknown, Type: "speech-update", ExternalCallID: "ext-missing"})
	require.NoError(t, err)

	assert.Equal(t, calls.StatusRinging, f.job(t, "job-1").Status)
	assert.Empty(t, f.audit.Events())
	assert.Contains(t, f.scrape(t), `callflow_webhook_events_total{kind="unknown"} 1`)
}

func TestDispatch_CorrelationMissIsCountedNotFatal(t *testing.T) {
	f := newFixture(t)

	err := f.d.Dispatch(context.Background(), telephony.Event{Kind: telephony.KindRinging, ExternalCallID: "ext-missing", CustomerNumber: "+14155552671"})
	require.NoError(t, err)

	evs := f.audit.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventTypeCorrelationMiss, evs[0].Type)
	assert.Equal(t, "ext-missing", evs[0].ExternalCallID)
	assert.Contains(t, evs[0].Metadata, `"customer_number":"+14155552671"`)
	assert.Contains(t, f.scrape(t), "callflow_correlation_misses_total 1")
}

func TestDispatch_MissingExternalIDIsANoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.d.Dispatch(context.Background(), telephony.Event{Kind: telephony.KindEnded, EndedReason: "customer-busy"}))
	assert.Empty(t, f.audit.Events())
}

func TestDispatch_OutOfOrderStatusIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.jobs.Put(calls.CallJob{ID: "job-1", ExternalCallID: "ext-1", Status: calls.StatusPending})
	ctx := context.Background()

	require.NoError(t, f.d.Dispatch(ctx, telephony.Event{Kind: telephony.KindAnswered, ExternalCallID: "ext-1"}))
	require.NoError(t, f.d.Dispatch(ctx, telephony.Event{Kind: telephony.KindRinging, ExternalCallID: "ext-1"}))
	assert.Equal(t, calls.StatusInProgress, f.job(t, "job-1").Status)

	require.NoError(t, f.d.Dispatch(ctx, telephony.Event{Kind: telephony.KindEnded, ExternalCallID: "ext-1", EndedReason: "customer-busy"}))
	require.NoError(t, f.d.Dispatch(ctx, telephony.Event{Kind: telephony.KindAnswered, ExternalCallID: "ext-1"}))
	assert.Equal(t, calls.StatusBusy, f.job(t, "job-1").Status)
}

func TestDispatch_ReportKeepsEarlierRecording(t *testing.T) {
	f := newFixture(t)
	f.jobs.Put(calls.CallJob{ID: "job-1", OwnerID: "owner-1", ExternalCallID: "ext-1", Status: calls.StatusInProgress})
	ctx := context.Background()

	require.NoError(t, f.d.Dispatch(ctx, telephony.Event{Kind: telephony.KindEnded, ExternalCallID: "ext-1", EndedReason: "customer-ended-call", RecordingURL: "rec-1"}))
	require.NoError(t, f.d.Dispatch(ctx, report("ext-1", "customer-ended-call", "", 40)))

	j := f.job(t, "job-1")
	assert.Equal(t, calls.StatusRecordingAvailable, j.Status)
	assert.Equal(t, "rec-1", j.RecordingRef)
}

func TestDispatch_TranscriptAppendThenReportReplaces(t *testing.T) {
	f := newFixture(t)
	f.jobs.Put(calls.CallJob{ID: "job-1", OwnerID: "owner-1", ExternalCallID: "ext-1", Status: calls.StatusInProgress})
	ctx := context.Background()
	at := time.Unix(1700000000, 0).UTC()

	require.NoError(t, f.d.Dispatch(ctx, telephony.Event{Kind: telephony.KindTranscript, ExternalCallID: "ext-1", OccurredAt: at,
		Transcript: &telephony.Utterance{Role: "assistant", Text: "Hi", Final: true}}))
	require.NoError(t, f.d.Dispatch(ctx, telephony.Event{Kind: telephony.KindTranscript, ExternalCallID: "ext-1", OccurredAt: at,
		Transcript: &telephony.Utterance{Role: "user", Text: "Wh", Final: false}}))
	require.Len(t, f.job(t, "job-1").Conversation, 1)

	ev := report("ext-1", "customer-ended-call", "", 40)
	ev.Messages = []telephony.Message{
		{Role: "system", Text: "prompt"},
		{Role: "bot", Text: "Hello there", OccurredAt: at},
		{Role: "user", Text: "Who is this?", OccurredAt: at},
	}
	require.NoError(t, f.d.Dispatch(ctx, ev))

	conv := f.job(t, "job-1").Conversation
	require.Len(t, conv, 2)
	assert.Equal(t, calls.RoleCallee, conv[0].Role)
	assert.Equal(t, "Hello there", conv[0].Text)
	assert.Equal(t, calls.RoleCaller, conv[1].Role)
}

func TestDispatch_FailedPromotionDoesNotFailDelivery(t *testing.T) {
	f := newFixture(t)
	f.jobs.Put(calls.CallJob{ID: "job-1", OwnerID: "owner-1", ExternalCallID: "ext-1", Status: calls.StatusInProgress})
	f.dialErr = errors.New("dial service down")
	f.d.promoter = queue.NewPromoter(f.entries, alwaysCapacity{}, queue.InitiatorFunc(func(ctx context.Context, id string) error {
		return f.dialErr
	}))
	f.entries.Put(queue.Entry{ID: "q1", CallJobID: "job-queued-1", Status: queue.EntryStatusQueued, Position: 1})

	require.NoError(t, f.d.Dispatch(context.Background(), report("ext-1", "customer-ended-call", "", 45)))

	q1, _ := f.entries.Get("q1")
	assert.Equal(t, queue.EntryStatusQueued, q1.Status)
	assert.Contains(t, f.scrape(t), `callflow_secondary_failures_total{step="queue_promotion"} 1`)
	assert.NotNil(t, f.job(t, "job-1").ConsumptionEvaluatedAt)
}

type alwaysCapacity struct{}

func (alwaysCapacity) HasCapacity(ctx context.Context) (bool, error) { return true, nil }

type failingStatusRepo struct {
	*calls.MemoryRepo
}

func (failingStatusRepo) ApplyOutcome(ctx context.Context, id string, out calls.Outcome) (calls.CallJob, error) {
	return calls.CallJob{}, errors.New("connection reset")
}

type capturedErrors struct {
	errs []error
}

func (c *capturedErrors) CaptureException(err error) *sentry.EventID {
	c.errs = append(c.errs, err)
	id := sentry.EventID("test")
	return &id
}

func TestDispatch_PrimaryWriteFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	repo := failingStatusRepo{MemoryRepo: f.jobs}
	f.jobs.Put(calls.CallJob{ID: "job-1", ExternalCallID: "ext-1", Status: calls.StatusPending})
	f.d.calls = repo
	reporter := &capturedErrors{}
	f.d.Errors = reporter

	err := f.d.Dispatch(context.Background(), telephony.Event{Kind: telephony.KindRinging, ExternalCallID: "ext-1"})
	assert.Error(t, err)
	require.Len(t, reporter.errs, 1)
	assert.ErrorIs(t, reporter.errs[0], err)
}

func TestDispatch_SecondaryFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.jobs.Put(calls.CallJob{ID: "job-1", OwnerID: "owner-1", ExternalCallID: "ext-1", Status: calls.StatusInProgress})
	f.entries.Put(queue.Entry{ID: "q1", CallJobID: "job-queued-1", Status: queue.EntryStatusQueued, Position: 1})
	f.d.promoter = queue.NewPromoter(f.entries, alwaysCapacity{}, queue.InitiatorFunc(func(ctx context.Context, id string) error {
		return errors.New("dial service down")
	}))
	reporter := &capturedErrors{}
	f.d.Errors = reporter

	require.NoError(t, f.d.Dispatch(context.Background(), report("ext-1", "customer-ended-call", "", 45)))
	require.Len(t, reporter.errs, 1)
	assert.ErrorIs(t, reporter.errs[0], queue.ErrInitiateFailed)
}
