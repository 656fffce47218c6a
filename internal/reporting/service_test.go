package reporting

import (
	"context"
	"testing"
	"time"

	"prank-platform/internal/calls"
)

func TestReporting_OwnerIsolation(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Put(calls.CallJob{ID: "c1", OwnerID: "o1", Status: calls.StatusCompleted, DurationSeconds: 30, CreatedAt: now})
	repo.Put(calls.CallJob{ID: "c2", OwnerID: "o2", Status: calls.StatusCompleted, DurationSeconds: 50, CreatedAt: now})
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{OwnerID: "o1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 || out.TotalDurationSeconds != 30 {
		t.Fatalf("expected only o1 calls, got %+v", out)
	}
}

func TestReporting_CallsSummaryAggregates(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Put(calls.CallJob{ID: "c1", OwnerID: "o", Status: calls.StatusRecordingAvailable, DurationSeconds: 40, Consumed: true, CreatedAt: now})
	repo.Put(calls.CallJob{ID: "c2", OwnerID: "o", Status: calls.StatusCompleted, DurationSeconds: 20, Consumed: true, CreatedAt: now})
	repo.Put(calls.CallJob{ID: "c3", OwnerID: "o", Status: calls.StatusNoAnswer, CreatedAt: now})
	repo.Put(calls.CallJob{ID: "c4", OwnerID: "o", Status: calls.StatusPending, CreatedAt: now})
	repo.Put(calls.CallJob{ID: "c5", OwnerID: "o", Status: calls.StatusCompleted, CreatedAt: now.Add(-48 * time.Hour)})
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{OwnerID: "o", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 4 {
		t.Fatalf("expected 4 calls in range, got %d", out.TotalCalls)
	}
	if out.RecordedCalls != 1 || out.CompletedCalls != 1 || out.NoAnswerCalls != 1 || out.PendingCalls != 1 {
		t.Fatalf("unexpected status counts: %+v", out)
	}
	if out.ConsumedCalls != 2 {
		t.Fatalf("expected 2 consumed, got %d", out.ConsumedCalls)
	}
	if out.AverageDurationSeconds != 15 {
		t.Fatalf("expected average 15, got %d", out.AverageDurationSeconds)
	}
	if out.ConnectionRate != 0.5 {
		t.Fatalf("expected connection rate 0.5, got %v", out.ConnectionRate)
	}
}

func TestReporting_RejectsInvalidRange(t *testing.T) {
	svc := NewService(calls.NewMemoryRepo())
	now := time.Now()
	if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{OwnerID: "o", Range: TimeRange{From: now, To: now}}); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: TimeRange{From: now, To: now.Add(time.Hour)}}); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
