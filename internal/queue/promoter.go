package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("queue: entry not found")
	ErrNotClaimed     = errors.New("queue: entry no longer queued")
	ErrInitiateFailed = errors.New("queue: call initiation failed")
)

// MaxPromotionsGuard caps draining within a single webhook invocation.
const MaxPromotionsGuard = 25

// settleTimeout bounds the Complete/Requeue write that follows an initiation attempt.
const settleTimeout = 5 * time.Second

// Repository persists queue entries. Claim, Complete and Requeue are conditional
// on the entry's current status so two promoters can never both win the same entry.
type Repository interface {
	// Oldest returns the queued entry with the lowest position, or ok=false.
	Oldest(ctx context.Context) (Entry, bool, error)
	// Claim moves a queued entry to processing. Returns ErrNotClaimed when it is no longer queued.
	Claim(ctx context.Context, id string, at time.Time) (Entry, error)
	Complete(ctx context.Context, id string, at time.Time) error
	Requeue(ctx context.Context, id string, reason string) error
}

// CapacityChecker is satisfied by callerid.Pool.
type CapacityChecker interface {
	HasCapacity(ctx context.Context) (bool, error)
}

// Initiator dials out a call job. It performs its own capacity reservation on success.
type Initiator interface {
	Initiate(ctx context.Context, callJobID string) error
}

// Result describes one promotion attempt.
type Result struct {
	Entry    Entry `json:"entry"`
	Promoted bool  `json:"promoted"`
	// Reason is set when nothing was promoted: "empty", "no_capacity", "lost_race", "initiate_failed".
	Reason string `json:"reason,omitempty"`
}

// Promoter moves queued call jobs into dialing when capacity frees up.
type Promoter struct {
	repo      Repository
	capacity  CapacityChecker
	initiator Initiator

	// MaxPerRelease bounds how many entries one release may promote. Values < 1
	// mean 1; values above MaxPromotionsGuard are clamped.
	MaxPerRelease int

	clock func() time.Time
}

func NewPromoter(repo Repository, capacity CapacityChecker, initiator Initiator) *Promoter {
	return &Promoter{repo: repo, capacity: capacity, initiator: initiator, MaxPerRelease: 1, clock: time.Now}
}

// PromoteNext makes at most one promotion attempt for the oldest queued entry.
func (p *Promoter) PromoteNext(ctx context.Context) (Result, error) {
	if p.repo == nil || p.capacity == nil || p.initiator == nil {
		return Result{}, errors.New("queue: promoter not configured")
	}

	e, ok, err := p.repo.Oldest(ctx)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Reason: "empty"}, nil
	}

	free, err := p.capacity.HasCapacity(ctx)
	if err != nil {
		return Result{Entry: e}, err
	}
	if !free {
		return Result{Entry: e, Reason: "no_capacity"}, nil
	}

	claimed, err := p.repo.Claim(ctx, e.ID, p.clock().UTC())
	if errors.Is(err, ErrNotClaimed) {
		return Result{Entry: e, Reason: "lost_race"}, nil
	}
	if err != nil {
		return Result{Entry: e}, err
	}

	// A claimed entry must leave processing even when the caller's context is gone.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := p.initiator.Initiate(ctx, claimed.CallJobID); err != nil {
		if rerr := p.repo.Requeue(settleCtx, claimed.ID, err.Error()); rerr != nil {
			return Result{Entry: claimed, Reason: "initiate_failed"}, fmt.Errorf("%w: %v (requeue: %v)", ErrInitiateFailed, err, rerr)
		}
		claimed.Status = EntryStatusQueued
		claimed.StartedAt = nil
		return Result{Entry: claimed, Reason: "initiate_failed"}, fmt.Errorf("%w: %v", ErrInitiateFailed, err)
	}

	now := p.clock().UTC()
	if err := p.repo.Complete(settleCtx, claimed.ID, now); err != nil {
		return Result{Entry: claimed, Promoted: true}, err
	}
	claimed.Status = EntryStatusCompleted
	claimed.CompletedAt = &now
	return Result{Entry: claimed, Promoted: true}, nil
}

// Promote runs PromoteNext up to MaxPerRelease times, stopping at the first
// attempt that does not promote.
func (p *Promoter) Promote(ctx context.Context) ([]Result, error) {
	limit := p.MaxPerRelease
	if limit < 1 {
		limit = 1
	}
	if limit > MaxPromotionsGuard {
		limit = MaxPromotionsGuard
	}

	out := make([]Result, 0, limit)
	for i := 0; i < limit; i++ {
		res, err := p.PromoteNext(ctx)
		out = append(out, res)
		if err != nil {
			return out, err
		}
		if !res.Promoted {
			break
		}
	}
	return out, nil
}
