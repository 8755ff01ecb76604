package notification

import (
	"chat-relay/errors"
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Needs a reachable redis, e.g. REDIS_URL=redis://localhost:6379/0
func redisLimiter(t *testing.T, limit int) *RedisRateLimiter {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	limiter, err := NewRedisRateLimiter(url, slog.Default(), limit, time.Minute)
	require.NoError(t, err)
	limiter.WithKey("test:ratelimit:" + uuid.NewString())
	t.Cleanup(func() {
		_ = limiter.rdb.Del(context.Background(), limiter.key).Err()
		_ = limiter.Close()
	})
	return limiter
}

func Test_Redis_Rate_Limiter_Refuses_Over_Cap(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	limiter := redisLimiter(t, 2)

	for i := 0; i < 2; i++ {
		allowed, err := limiter.CheckAndConsume(ctx)
		req.NoError(err)
		req.True(allowed)
	}
	allowed, err := limiter.CheckAndConsume(ctx)
	req.NoError(err)
	req.False(allowed)

	req.NoError(limiter.Release(ctx))
	allowed, err = limiter.CheckAndConsume(ctx)
	req.NoError(err)
	req.True(allowed)
}

func Test_Redis_Rate_Limiter_Exhaust(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	limiter := redisLimiter(t, 5)

	req.NoError(limiter.Exhaust(ctx))

	status, err := limiter.Status(ctx)
	req.NoError(err)
	req.Equal(5, status.Count)
	req.Equal(0, status.Remaining)
	req.True(status.ResetAt.After(time.Now()))
}

func Test_Redis_Rate_Limiter_Unreachable_Is_Transient(t *testing.T) {
	req := require.New(t)
	limiter, err := NewRedisRateLimiter("redis://127.0.0.1:1/0", slog.Default(), 5, time.Minute)
	req.NoError(err)
	defer func() { _ = limiter.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = limiter.CheckAndConsume(ctx)

	req.ErrorIs(err, errors.ErrTransient)
}
