package query

import (
	"context"
	"errors"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const cachePrefix = "spectralog:query:"

// enumCache memoizes enumeration results in Redis. Every failure is a
// silent miss; the cache can never make a query fail. A nil cache is a
// valid always-miss cache.
type enumCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func (c *enumCache) get(ctx context.Context, key string) ([]string, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, cachePrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("enumeration cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var vals []string
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, false
	}
	return vals, true
}

func (c *enumCache) set(ctx context.Context, key string, vals []string) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(vals)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cachePrefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.Debug("enumeration cache write failed", "key", key, "error", err)
	}
}
