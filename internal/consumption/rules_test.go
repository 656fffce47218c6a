package consumption

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	rules Rules
	err   error
	hits  int
}

func (c *countingSource) Rules(ctx context.Context) (Rules, error) {
	c.hits++
	return c.rules, c.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCachedRules_ServesFromCacheUntilTTL(t *testing.T) {
	mr, rdb := newRedis(t)
	src := &countingSource{rules: Rules{MinDurationSeconds: 5, RequireAnswered: false}}
	c := NewCachedRules(rdb, src, time.Minute)
	ctx := context.Background()

	r, err := c.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, src.rules, r)

	r, err = c.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, src.rules, r)
	assert.Equal(t, 1, src.hits)

	mr.FastForward(2 * time.Minute)
	_, err = c.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.hits)
}

func TestCachedRules_Invalidate(t *testing.T) {
	_, rdb := newRedis(t)
	src := &countingSource{rules: DefaultRules()}
	c := NewCachedRules(rdb, src, time.Minute)
	ctx := context.Background()

	_, err := c.Rules(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx))
	_, err = c.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.hits)
}

func TestCachedRules_FallsThroughWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	src := &countingSource{rules: Rules{MinDurationSeconds: 1}}
	c := NewCachedRules(rdb, src, time.Minute)

	r, err := c.Rules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.MinDurationSeconds)
}

func TestCachedRules_SourceErrorIsReturned(t *testing.T) {
	_, rdb := newRedis(t)
	c := NewCachedRules(rdb, &countingSource{err: errors.New("db down")}, time.Minute)
	_, err := c.Rules(context.Background())
	assert.Error(t, err)
}
