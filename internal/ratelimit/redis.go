package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisLimiter allows limit requests per key in each fixed window. Counters
// live in Redis, so every instance pointed at the same server shares them.
type RedisLimiter struct {
	client goredis.UniversalClient
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter creates a fixed-window limiter. The client is owned by
// the caller and is not closed by Close.
func NewRedisLimiter(client goredis.UniversalClient, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: int64(limit), window: window, now: time.Now}
}

// Allow increments the key's counter for the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := l.now().UnixNano() / int64(l.window)
	k := "dytto:ratelimit:" + key + ":" + strconv.FormatInt(slot, 10)

	var incr *goredis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis: %w", err)
	}
	return incr.Val() <= l.limit, nil
}

// RetryAfter is the window length, the longest a rejected caller waits.
func (l *RedisLimiter) RetryAfter() time.Duration { return l.window }

// Close is a no-op.
func (l *RedisLimiter) Close() error { return nil }
