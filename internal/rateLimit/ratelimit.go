package rateLimit

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	redisadapter "github.com/robertarktes/venue-reservations/internal/adapters/redis"
)

type RateLimiter struct {
	redis *redisadapter.Cache
	now   func() time.Time
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis, now: time.Now}
}

// Allow counts a hit in the current fixed window. Each window gets its own
// key so a counter never outlives its period.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error) {
	window := rl.now().UnixNano() / int64(period)
	fullKey := "rl:" + key + ":" + strconv.FormatInt(window, 10)

	pipe := rl.redis.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, period)

	if _, err := pipe.Exec(ctx); err != nil {
		return true, errors.Wrap(err, "rate limit counter")
	}
	return incr.Val() <= int64(rate), nil
}
