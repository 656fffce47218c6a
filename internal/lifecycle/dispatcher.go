package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prank-platform/internal/audit"
	"prank-platform/internal/callerid"
	"prank-platform/internal/calls"
	"prank-platform/internal/consumption"
	"prank-platform/internal/metrics"
	"prank-platform/internal/queue"
	"prank-platform/internal/telephony"
	"prank-platform/internal/transcript"
	"prank-platform/pkg/logger"

	"github.com/getsentry/sentry-go"
)

type TranscriptWriter interface {
	Append(ctx context.Context, callJobID, label, text string, at time.Time) ([]calls.Message, error)
	Replace(ctx context.Context, callJobID string, msgs []transcript.RawMessage) ([]calls.Message, error)
}

type CapacityReleaser interface {
	Release(ctx context.Context, preferredID string) (callerid.Identity, bool, error)
}

type Promoter interface {
	Promote(ctx context.Context) ([]queue.Result, error)
}

type ConsumptionEvaluator interface {
	Evaluate(ctx context.Context, job calls.CallJob, out consumption.Outcome) (consumption.Decision, error)
}

// ErrorReporter is satisfied by *sentry.Hub.
type ErrorReporter interface {
	CaptureException(exception error) *sentry.EventID
}

type Auditor interface {
	Record(ctx context.Context, typ audit.EventType, callJobID, externalCallID, message string, metadata map[string]any) error
}

// Dispatcher applies provider events to call jobs.
//
// Only the lookup and the event's own write (status, recording, transcript) can
// fail a delivery. Release, promotion and consumption failures are logged,
// counted and audited, and the delivery is still acknowledged.
type Dispatcher struct {
	calls       calls.Repository
	transcripts TranscriptWriter
	pool        CapacityReleaser
	promoter    Promoter
	consumption ConsumptionEvaluator

	// Optional.
	Audit   Auditor
	Metrics *metrics.Metrics
	Guard   ReportGuard
	Errors  ErrorReporter
}

func NewDispatcher(jobs calls.Repository, transcripts TranscriptWriter, pool CapacityReleaser, promoter Promoter, engine ConsumptionEvaluator) *Dispatcher {
	return &Dispatcher{
		calls:       jobs,
		transcripts: transcripts,
		pool:        pool,
		promoter:    promoter,
		consumption: engine,
	}
}

// Dispatch applies one event. A returned error means the delivery should be retried.
func (d *Dispatcher) Dispatch(ctx context.Context, ev telephony.Event) error {
	err := d.dispatch(ctx, ev)
	if err != nil {
		d.capture(err)
	}
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, ev telephony.Event) error {
	log := logger.From(ctx)
	if d.Metrics != nil {
		d.Metrics.WebhookEvents.WithLabelValues(string(ev.Kind)).Inc()
	}

	if ev.Kind == telephony.KindUnknown {
		log.Info("ignoring unknown provider event", "event_type", ev.Type)
		return nil
	}
	if ev.ExternalCallID == "" {
		log.Debug("provider event without call id", "event_type", ev.Type)
		return nil
	}

	job, err := d.calls.GetByExternalID(ctx, ev.ExternalCallID)
	if errors.Is(err, calls.ErrNotFound) {
		d.correlationMiss(ctx, ev)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lifecycle: lookup call job: %w", err)
	}

	switch ev.Kind {
	case telephony.KindRinging:
		return d.transition(ctx, job, calls.Outcome{Status: calls.StatusRinging})
	case telephony.KindAnswered:
		return d.transition(ctx, job, calls.Outcome{Status: calls.StatusInProgress})
	case telephony.KindEnded:
		return d.transition(ctx, job, calls.Outcome{
			Status:          telephony.ResolveTerminalStatus(ev.EndedReason, ev.RecordingURL != ""),
			RecordingRef:    ev.RecordingURL,
			DurationSeconds: ev.DurationSeconds,
			EndedReason:     ev.EndedReason,
		})
	case telephony.KindEndOfCallReport:
		return d.report(ctx, job, ev)
	case telephony.KindTranscript:
		return d.appendTranscript(ctx, job, ev)
	case telephony.KindConversationUpdate:
		return d.replaceTranscript(ctx, job, ev)
	default:
		return nil
	}
}

func (d *Dispatcher) correlationMiss(ctx context.Context, ev telephony.Event) {
	logger.From(ctx).Warn("no call job for provider event", "external_call_id", ev.ExternalCallID, "event_type", ev.Type, "customer_number", ev.CustomerNumber)
	if d.Metrics != nil {
		d.Metrics.CorrelationMisses.Inc()
	}
	meta := map[string]any{
		"event_type": ev.Type,
		"kind":       string(ev.Kind),
	}
	// Lets an operator match an orphaned provider call to the dialed number.
	if ev.CustomerNumber != "" {
		meta["customer_number"] = ev.CustomerNumber
	}
	d.record(ctx, audit.EventTypeCorrelationMiss, calls.CallJob{}, ev.ExternalCallID, "no call job for external call id", meta)
}

// transition applies a status change. Backward moves are dropped without error:
// events arrive out of order and the later state already holds.
func (d *Dispatcher) transition(ctx context.Context, job calls.CallJob, out calls.Outcome) error {
	updated, err := d.calls.ApplyOutcome(ctx, job.ID, out)
	if errors.Is(err, calls.ErrInvalidTransition) {
		d.ignoredTransition(ctx, job, out.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lifecycle: update status: %w", err)
	}
	logger.From(ctx).Debug("call status updated", "call_job_id", job.ID, "from", string(job.Status), "to", string(updated.Status))
	return nil
}

func (d *Dispatcher) ignoredTransition(ctx context.Context, job calls.CallJob, to calls.Status) {
	logger.From(ctx).Info("ignoring out-of-order status", "call_job_id", job.ID, "from", string(job.Status), "to", string(to))
	if d.Metrics != nil {
		d.Metrics.IgnoredTransitions.WithLabelValues(string(job.Status), string(to)).Inc()
	}
	d.record(ctx, audit.EventTypeIgnoredTransition, job, job.ExternalCallID, "status update dropped", map[string]any{
		"from": string(job.Status),
		"to":   string(to),
	})
}

func (d *Dispatcher) appendTranscript(ctx context.Context, job calls.CallJob, ev telephony.Event) error {
	if ev.Transcript == nil || !ev.Transcript.Final {
		return nil
	}
	if _, err := d.transcripts.Append(ctx, job.ID, ev.Transcript.Role, ev.Transcript.Text, ev.OccurredAt); err != nil {
		return fmt.Errorf("lifecycle: append transcript: %w", err)
	}
	return nil
}

func (d *Dispatcher) replaceTranscript(ctx context.Context, job calls.CallJob, ev telephony.Event) error {
	if len(ev.Messages) == 0 {
		return nil
	}
	if _, err := d.transcripts.Replace(ctx, job.ID, rawMessages(ev.Messages)); err != nil {
		return fmt.Errorf("lifecycle: replace transcript: %w", err)
	}
	return nil
}

func rawMessages(in []telephony.Message) []transcript.RawMessage {
	out := make([]transcript.RawMessage, 0, len(in))
	for _, m := range in {
		out = append(out, transcript.RawMessage{Role: m.Role, Text: m.Text, OccurredAt: m.OccurredAt})
	}
	return out
}

// report handles the end-of-call report: the authoritative status, recording,
// duration and transcript, then capacity release, queue promotion and
// consumption, once per call job.
func (d *Dispatcher) report(ctx context.Context, job calls.CallJob, ev telephony.Event) error {
	reason := ev.EndedReason
	if reason == "" {
		reason = job.EndedReason
	}
	hasRecording := ev.RecordingURL != "" || job.RecordingRef != ""

	updated, err := d.calls.ApplyOutcome(ctx, job.ID, calls.Outcome{
		Status:          telephony.ResolveTerminalStatus(reason, hasRecording),
		RecordingRef:    ev.RecordingURL,
		DurationSeconds: ev.DurationSeconds,
		EndedReason:     reason,
	})
	if errors.Is(err, calls.ErrInvalidTransition) {
		d.ignoredTransition(ctx, job, telephony.ResolveTerminalStatus(reason, hasRecording))
		updated = job
	} else if err != nil {
		return fmt.Errorf("lifecycle: apply end-of-call report: %w", err)
	}

	if err := d.replaceTranscript(ctx, job, ev); err != nil {
		return err
	}

	if job.ConsumptionEvaluatedAt != nil {
		logger.From(ctx).Info("end-of-call report already processed", "call_job_id", job.ID)
		return nil
	}

	held, proceed := d.acquire(ctx, job)
	if !proceed {
		return nil
	}

	d.release(ctx, updated)
	d.promote(ctx)
	ok := d.evaluate(ctx, updated, consumption.Outcome{
		WasAnswered:     telephony.WasAnswered(reason),
		IsFailed:        telephony.IsFailed(reason),
		DurationSeconds: updated.DurationSeconds,
	})
	if held && !ok {
		// Let a redelivery retry; the consumption marker is still unset.
		if err := d.Guard.Release(ctx, job.ID); err != nil {
			logger.From(ctx).Warn("report guard release failed", "call_job_id", job.ID, "err", err)
		}
	}
	return nil
}

// acquire takes the per-job report lease. A guard outage does not block the
// report; the consumption marker and ledger key still prevent double charges.
func (d *Dispatcher) acquire(ctx context.Context, job calls.CallJob) (held, proceed bool) {
	if d.Guard == nil {
		return false, true
	}
	ok, err := d.Guard.Acquire(ctx, job.ID)
	if err != nil {
		logger.From(ctx).Warn("report guard unavailable", "call_job_id", job.ID, "err", err)
		return false, true
	}
	if !ok {
		logger.From(ctx).Info("end-of-call report already being processed", "call_job_id", job.ID)
		return false, false
	}
	return true, true
}

func (d *Dispatcher) release(ctx context.Context, job calls.CallJob) {
	if d.pool == nil {
		return
	}
	id, released, err := d.pool.Release(ctx, job.CallerIdentityID)
	if err != nil {
		d.countRelease("error")
		d.secondaryFailure(ctx, "capacity_release", job, err)
		return
	}
	if !released {
		d.countRelease("noop")
		logger.From(ctx).Info("no caller identity in use to release", "call_job_id", job.ID)
		return
	}
	d.countRelease("released")
	logger.From(ctx).Info("caller identity released", "call_job_id", job.ID, "caller_identity_id", id.ID, "current_calls", id.CurrentCalls)
	d.record(ctx, audit.EventTypeCapacityReleased, job, job.ExternalCallID, "caller identity released", map[string]any{
		"caller_identity_id": id.ID,
		"current_calls":      id.CurrentCalls,
	})
}

func (d *Dispatcher) promote(ctx context.Context) {
	if d.promoter == nil {
		return
	}
	results, err := d.promoter.Promote(ctx)
	for _, res := range results {
		if res.Promoted {
			d.countPromotion("promoted")
			logger.From(ctx).Info("queued call promoted", "queue_entry_id", res.Entry.ID, "call_job_id", res.Entry.CallJobID)
			d.recordEntry(ctx, audit.EventTypeQueuePromoted, res.Entry, "queued call promoted")
			continue
		}
		d.countPromotion(res.Reason)
		if res.Reason == "initiate_failed" {
			d.recordEntry(ctx, audit.EventTypePromotionFailed, res.Entry, "initiation failed, entry requeued")
		}
	}
	if err != nil {
		if !errors.Is(err, queue.ErrInitiateFailed) {
			d.countPromotion("error")
		}
		d.secondaryFailure(ctx, "queue_promotion", calls.CallJob{}, err)
	}
}

func (d *Dispatcher) evaluate(ctx context.Context, job calls.CallJob, out consumption.Outcome) bool {
	if d.consumption == nil {
		return true
	}
	dec, err := d.consumption.Evaluate(ctx, job, out)
	if err != nil {
		d.countConsumption("error")
		d.secondaryFailure(ctx, "consumption", job, err)
		return false
	}
	result := "not_consumed"
	switch {
	case dec.AlreadyEvaluated:
		result = "already_evaluated"
	case dec.Consumed:
		result = "consumed"
	}
	d.countConsumption(result)
	logger.From(ctx).Info("consumption evaluated", "call_job_id", job.ID, "owner_id", job.OwnerID, "result", result)
	d.record(ctx, audit.EventTypeConsumptionDecided, job, job.ExternalCallID, result, map[string]any{
		"was_answered":         out.WasAnswered,
		"is_failed":            out.IsFailed,
		"duration_seconds":     out.DurationSeconds,
		"min_duration_seconds": dec.Rules.MinDurationSeconds,
		"require_answered":     dec.Rules.RequireAnswered,
		"count_failed_calls":   dec.Rules.CountFailedCalls,
	})
	return true
}

func (d *Dispatcher) secondaryFailure(ctx context.Context, step string, job calls.CallJob, err error) {
	logger.From(ctx).Error("call lifecycle step failed", "step", step, "call_job_id", job.ID, "err", err)
	if d.Metrics != nil {
		d.Metrics.SecondaryFailures.WithLabelValues(step).Inc()
	}
	d.capture(fmt.Errorf("lifecycle: %s for call job %q: %w", step, job.ID, err))
	d.record(ctx, audit.EventTypeSecondaryFailure, job, job.ExternalCallID, step+": "+err.Error(), nil)
}

func (d *Dispatcher) capture(err error) {
	if d.Errors != nil {
		d.Errors.CaptureException(err)
	}
}

func (d *Dispatcher) record(ctx context.Context, typ audit.EventType, job calls.CallJob, externalCallID, message string, metadata map[string]any) {
	if d.Audit == nil {
		return
	}
	if err := d.Audit.Record(ctx, typ, job.ID, externalCallID, message, metadata); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", string(typ), "err", err)
	}
}

func (d *Dispatcher) recordEntry(ctx context.Context, typ audit.EventType, e queue.Entry, message string) {
	d.record(ctx, typ, calls.CallJob{ID: e.CallJobID}, "", message, map[string]any{
		"queue_entry_id": e.ID,
		"attempts":       e.Attempts,
	})
}

func (d *Dispatcher) countRelease(result string) {
	if d.Metrics != nil {
		d.Metrics.CapacityReleases.WithLabelValues(result).Inc()
	}
}

func (d *Dispatcher) countPromotion(result string) {
	if d.Metrics != nil && result != "" {
		d.Metrics.QueuePromotions.WithLabelValues(result).Inc()
	}
}

func (d *Dispatcher) countConsumption(result string) {
	if d.Metrics != nil {
		d.Metrics.ConsumptionDecisions.WithLabelValues(result).Inc()
	}
}
