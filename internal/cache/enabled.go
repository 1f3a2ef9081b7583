package cache

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"crashgame/internal/game"
)

const (
	ENABLED_KEY = "crash:enabled"
	ENABLED_TTL = 2 * time.Second
)

// EnabledCache answers the catalog question from Redis for a short TTL and
// falls through to the source on a miss. A Redis failure never hides the
// source's answer.
type EnabledCache struct {
	client *redis.Client
	source game.EnabledChecker
	ttl    time.Duration
}

func NewEnabledCache(client *redis.Client, source game.EnabledChecker, ttl time.Duration) *EnabledCache {
	if ttl <= 0 {
		ttl = ENABLED_TTL
	}
	return &EnabledCache{client: client, source: source, ttl: ttl}
}

func (c *EnabledCache) CrashEnabled(ctx context.Context) (bool, error) {
	val, err := c.client.Get(ctx, ENABLED_KEY).Result()
	switch {
	case err == nil:
		return val == "1", nil
	case !errors.Is(err, redis.Nil):
		log.Printf("[CACHE] Enabled flag read failed: %v", err)
	}

	enabled, err := c.source.CrashEnabled(ctx)
	if err != nil {
		return false, err
	}

	flag := "0"
	if enabled {
		flag = "1"
	}
	if err := c.client.Set(ctx, ENABLED_KEY, flag, c.ttl).Err(); err != nil {
		log.Printf("[CACHE] Enabled flag write failed: %v", err)
	}
	return enabled, nil
}

// Invalidate drops the cached flag so the next check reads the source.
func (c *EnabledCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, ENABLED_KEY).Err()
}
