package consumption

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"prank-platform/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RulesSource loads the current consumption rules.
type RulesSource interface {
	Rules(ctx context.Context) (Rules, error)
}

// StaticRules always returns the same rules.
type StaticRules Rules

func (s StaticRules) Rules(ctx context.Context) (Rules, error) { return Rules(s), nil }

// SettingsRules reads rules from the settings key/value table.
type SettingsRules struct {
	db *sql.DB
}

func NewSettingsRules(db *sql.DB) *SettingsRules {
	return &SettingsRules{db: db}
}

func (s *SettingsRules) Rules(ctx context.Context) (Rules, error) {
	const q = `
SELECT key, value
FROM settings
WHERE key LIKE $1
`
	rows, err := s.db.QueryContext(ctx, q, keyPrefix+"%")
	if err != nil {
		return Rules{}, err
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Rules{}, err
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return Rules{}, err
	}
	return ParseRules(values), nil
}

const cacheKey = "settings:consumption_rules"

// CachedRules keeps the last loaded rules in Redis for TTL. Redis failures fall
// through to the underlying source.
type CachedRules struct {
	rdb  *redis.Client
	next RulesSource
	ttl  time.Duration
}

func NewCachedRules(rdb *redis.Client, next RulesSource, ttl time.Duration) *CachedRules {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedRules{rdb: rdb, next: next, ttl: ttl}
}

func (c *CachedRules) Rules(ctx context.Context) (Rules, error) {
	if c.rdb == nil {
		return c.next.Rules(ctx)
	}

	raw, err := c.rdb.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var r Rules
		if jerr := json.Unmarshal(raw, &r); jerr == nil {
			return r, nil
		}
	case !errors.Is(err, redis.Nil):
		logger.From(ctx).Warn("consumption rules cache read failed", "err", err)
	}

	r, err := c.next.Rules(ctx)
	if err != nil {
		return Rules{}, err
	}
	if b, err := json.Marshal(r); err == nil {
		if err := c.rdb.Set(ctx, cacheKey, b, c.ttl).Err(); err != nil {
			logger.From(ctx).Warn("consumption rules cache write failed", "err", err)
		}
	}
	return r, nil
}

// Invalidate drops the cached rules so the next read hits the settings table.
func (c *CachedRules) Invalidate(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, cacheKey).Err()
}
