package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictx/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter counts API requests per client in a sliding window kept in a
// sorted set, so every API process shares one budget per client.
type RateLimiter struct {
	c      *Client
	window *redis.Script
}

// NewRateLimiter returns a RateLimiter on c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, window: redis.NewScript(slidingWindowLua)}
}

// Allow records a hit for key and reports whether it is among the first limit
// hits of the trailing window. Rejected hits are not recorded.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	res, err := rl.window.Run(ctx, rl.c.rdb,
		[]string{rl.c.Key("ratelimit", key)},
		time.Now().UnixMicro(), window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	switch {
	case err != nil:
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	case len(res) != 2:
		return false, fmt.Errorf("redis: rate limit %s: malformed reply %v", key, res)
	}
	return res[0] == 1, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
