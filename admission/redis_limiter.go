// api/admission/redis_limiter.go
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	logger "github.com/amanshivam/auth/logging"
)

// RedisLimiter is the distributed variant of the sliding-window limiter: the
// window lives in a redis sorted set keyed by client identity, so the ceiling
// holds across every replica instead of per process.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

func (rl *RedisLimiter) Allow(ctx context.Context, clientID string) (bool, time.Duration, error) {
	key := fmt.Sprintf("ratelimit:%s", clientID)
	now := time.Now().UnixNano()

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", now-rl.window.Nanoseconds()))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: now})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to execute rate limit commands: %w", err)
	}

	count := countCmd.Val()
	allowed := count <= int64(rl.limit)
	logger.Debug("Rate limit check",
		zap.String("key", key),
		zap.Int64("count", count),
		zap.Int("limit", rl.limit),
		zap.Bool("allowed", allowed))

	retryAfter := time.Duration(0)
	if !allowed {
		retryAfter = rl.window
	}
	return allowed, retryAfter, nil
}
