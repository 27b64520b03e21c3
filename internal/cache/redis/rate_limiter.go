package redis

import (
	"context"
	_ "embed"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// rateLimitSeq keeps sorted-set members unique within one nanosecond.
var rateLimitSeq atomic.Uint64

// RateLimiter implements domain.RateLimiter using a sliding window backed by
// Redis sorted sets and an atomic Lua script.
type RateLimiter struct {
	client        *Client
	slidingWindow *redis.Script
	now           func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		client:        c,
		slidingWindow: redis.NewScript(slidingWindowLua),
		now:           time.Now,
	}
}

// Allow reports whether a request for key is permitted under limit requests
// per window. Allowed requests are counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := rl.now()
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.client.Underlying(),
		[]string{rl.client.Key("ratelimit", key)},
		now.UnixMicro(),
		window.Microseconds(),
		limit,
		fmt.Sprintf("%d-%d", now.UnixNano(), rateLimitSeq.Add(1)),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
