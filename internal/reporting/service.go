package reporting

import (
	"context"
	"errors"
	"time"

	"prank-platform/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository is satisfied by calls.Repository. Implementations must filter by owner.
type Repository interface {
	ListByOwner(ctx context.Context, ownerID string, from, to time.Time) ([]calls.CallJob, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.OwnerID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListByOwner(ctx, req.OwnerID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{OwnerID: req.OwnerID}
	connected := 0
	for _, j := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += j.DurationSeconds
		if j.Consumed {
			out.ConsumedCalls++
		}
		switch j.Status {
		case calls.StatusPending, calls.StatusInitiated:
			out.PendingCalls++
		case calls.StatusRinging, calls.StatusInProgress:
			out.InProgressCalls++
		case calls.StatusCompleted:
			out.CompletedCalls++
			connected++
		case calls.StatusRecordingAvailable:
			out.RecordedCalls++
			connected++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusNoAnswer:
			out.NoAnswerCalls++
		case calls.StatusBusy:
			out.BusyCalls++
		case calls.StatusCancelled:
			out.CancelledCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
		out.ConnectionRate = float64(connected) / float64(out.TotalCalls)
	}
	return out, nil
}
