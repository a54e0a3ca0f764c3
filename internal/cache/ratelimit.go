package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter shared by every API instance.
type RateLimiter struct {
	rdb    redis.Cmdable
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(rdb redis.Cmdable, limit int, window time.Duration) *RateLimiter {
	if rdb == nil || limit <= 0 {
		return nil
	}
	return &RateLimiter{rdb: rdb, limit: int64(limit), window: window, now: time.Now}
}

func (l *RateLimiter) WindowKey(subject string) string {
	bucket := l.now().UnixNano() / int64(l.window)
	return fmt.Sprintf("ratelimit:%s:%d", subject, bucket)
}

// Allow counts one hit for subject and reports whether it is within the limit.
func (l *RateLimiter) Allow(ctx context.Context, subject string) (bool, int64, error) {
	if l == nil {
		return true, 0, nil
	}
	key := l.WindowKey(subject)
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return true, 0, fmt.Errorf("rate limit incr: %w", err)
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return true, n, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return n <= l.limit, n, nil
}

func (l *RateLimiter) Limit() int64 {
	if l == nil {
		return 0
	}
	return l.limit
}

// SetClock replaces the window clock.
func (l *RateLimiter) SetClock(now func() time.Time) {
	l.now = now
}
