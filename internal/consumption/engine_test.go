package consumption

import (
	"context"
	"errors"
	"testing"

	"prank-platform/internal/calls"
	"prank-platform/internal/wallet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, rules Rules, credits int64) (*Engine, *calls.MemoryRepo, *wallet.MemoryStore) {
	t.Helper()
	jobs := calls.NewMemoryRepo()
	store := wallet.NewMemoryStore()
	store.SetBalance("owner-1", credits)
	return NewEngine(StaticRules(rules), wallet.NewService(store), jobs), jobs, store
}

func TestEngine_ConsumesOnceAcrossRedeliveries(t *testing.T) {
	e, jobs, store := newEngine(t, DefaultRules(), 5)
	jobs.Put(calls.CallJob{ID: "job-1", OwnerID: "owner-1", Status: calls.StatusCompleted})
	ctx := context.Background()
	out := Outcome{WasAnswered: true, DurationSeconds: 45}

	job, err := jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	d, err := e.Evaluate(ctx, job, out)
	require.NoError(t, err)
	assert.True(t, d.Consumed)
	assert.False(t, d.AlreadyEvaluated)
	assert.Equal(t, int64(4), d.Balance.Credits)

	job, err = jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.ConsumptionEvaluatedAt)
	assert.True(t, job.Consumed)

	d, err = e.Evaluate(ctx, job, out)
	require.NoError(t, err)
	assert.True(t, d.AlreadyEvaluated)

	b, _ := store.Balance(ctx, "owner-1")
	assert.Equal(t, int64(4), b.Credits)
}

func TestEngine_StaleJobSnapshotDoesNotDoubleConsume(t *testing.T) {
	e, jobs, store := newEngine(t, DefaultRules(), 5)
	jobs.Put(calls.CallJob{ID: "job-1", OwnerID: "owner-1", Status: calls.StatusCompleted})
	ctx := context.Background()
	out := Outcome{WasAnswered: true, DurationSeconds: 45}

	stale, err := jobs.Get(ctx, "job-1")
	require.NoError(t, err)

	_, err = e.Evaluate(ctx, stale, out)
	require.NoError(t, err)
	d, err := e.Evaluate(ctx, stale, out)
	require.NoError(t, err)
	assert.True(t, d.AlreadyEvaluated)

	b, _ := store.Balance(ctx, "owner-1")
	assert.Equal(t, int64(4), b.Credits)
	assert.Len(t, store.Entries("owner-1"), 1)
}

func TestEngine_NotConsumedStillMarksEvaluated(t *testing.T) {
	e, jobs, store := newEngine(t, DefaultRules(), 5)
	jobs.Put(calls.CallJob{ID: "job-1", OwnerID: "owner-1", Status: calls.StatusNoAnswer})
	ctx := context.Background()

	job, _ := jobs.Get(ctx, "job-1")
	d, err := e.Evaluate(ctx, job, Outcome{WasAnswered: false})
	require.NoError(t, err)
	assert.False(t, d.Consumed)

	job, _ = jobs.Get(ctx, "job-1")
	require.NotNil(t, job.ConsumptionEvaluatedAt)
	assert.False(t, job.Consumed)
	assert.Empty(t, store.Entries("owner-1"))
}

type failingRules struct{}

func (failingRules) Rules(ctx context.Context) (Rules, error) {
	return Rules{}, errors.New("settings down")
}

func TestEngine_FallsBackToDefaultRules(t *testing.T) {
	jobs := calls.NewMemoryRepo()
	jobs.Put(calls.CallJob{ID: "job-1", OwnerID: "owner-1"})
	e := NewEngine(failingRules{}, wallet.NewService(wallet.NewMemoryStore()), jobs)

	job, _ := jobs.Get(context.Background(), "job-1")
	d, err := e.Evaluate(context.Background(), job, Outcome{WasAnswered: true, DurationSeconds: 10})
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), d.Rules)
	assert.False(t, d.Consumed)
}
