package lifecycle

import (
	"context"
	"time"

	"prank-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// ReportGuard lets one delivery of a call job's end-of-call report run the
// release/promotion/consumption steps while a duplicate is in flight.
type ReportGuard interface {
	Acquire(ctx context.Context, callJobID string) (bool, error)
	Release(ctx context.Context, callJobID string) error
}

// RedisReportGuard holds a per-job lease in Redis. The lease is kept until it
// expires unless the steps fail, so a late duplicate that read the job before
// the consumption marker was set is still turned away.
type RedisReportGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisReportGuard(rdb *redis.Client, ttl time.Duration) *RedisReportGuard {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisReportGuard{rdb: rdb, ttl: ttl}
}

func reportLeaseKey(callJobID string) string { return "lifecycle:report:" + callJobID }

func (g *RedisReportGuard) Acquire(ctx context.Context, callJobID string) (bool, error) {
	return utils.AcquireSlot(ctx, g.rdb, reportLeaseKey(callJobID), 1, g.ttl)
}

func (g *RedisReportGuard) Release(ctx context.Context, callJobID string) error {
	return utils.ReleaseSlot(ctx, g.rdb, reportLeaseKey(callJobID))
}
