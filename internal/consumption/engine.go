package consumption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prank-platform/internal/calls"
	"prank-platform/internal/wallet"
	"prank-platform/pkg/logger"
)

// Consumer takes one credit for a call job. It must be idempotent per call job.
type Consumer interface {
	Consume(ctx context.Context, ownerID, callJobID string) (wallet.LedgerEntry, wallet.Balance, bool, error)
}

// Marker records that a call job's consumption has been decided.
type Marker interface {
	MarkConsumptionEvaluated(ctx context.Context, id string, consumed bool, at time.Time) error
}

type Decision struct {
	Consumed bool
	// AlreadyEvaluated is true when an earlier delivery made the decision.
	AlreadyEvaluated bool
	Rules            Rules
	Balance          wallet.Balance
}

// Engine applies the consumption policy at most once per call job.
type Engine struct {
	rules    RulesSource
	consumer Consumer
	marker   Marker
	clock    func() time.Time
}

func NewEngine(rules RulesSource, consumer Consumer, marker Marker) *Engine {
	return &Engine{rules: rules, consumer: consumer, marker: marker, clock: time.Now}
}

// Evaluate decides and applies consumption for a finished call job.
//
// The credit is taken before the job is marked. A crash in between leaves the
// job unmarked, and the redelivered report replays Consume against the same
// ledger key, so the owner is charged once either way.
func (e *Engine) Evaluate(ctx context.Context, job calls.CallJob, out Outcome) (Decision, error) {
	if job.ConsumptionEvaluatedAt != nil {
		return Decision{Consumed: job.Consumed, AlreadyEvaluated: true}, nil
	}

	rules := DefaultRules()
	if e.rules != nil {
		r, err := e.rules.Rules(ctx)
		if err != nil {
			logger.From(ctx).Warn("consumption rules unavailable, using defaults", "call_job_id", job.ID, "err", err)
		} else {
			rules = r
		}
	}

	d := Decision{Consumed: Decide(out, rules), Rules: rules}
	if d.Consumed {
		_, bal, _, err := e.consumer.Consume(ctx, job.OwnerID, job.ID)
		if err != nil {
			return d, fmt.Errorf("consumption: consume credit: %w", err)
		}
		d.Balance = bal
	}

	err := e.marker.MarkConsumptionEvaluated(ctx, job.ID, d.Consumed, e.clock().UTC())
	if errors.Is(err, calls.ErrAlreadyEvaluated) {
		d.AlreadyEvaluated = true
		return d, nil
	}
	if err != nil {
		return d, fmt.Errorf("consumption: mark evaluated: %w", err)
	}
	return d, nil
}
