package notification

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ contract.RateLimiter = (*RedisRateLimiter)(nil)

const defaultRedisKey = "relay:ratelimit:sends"

// Every script opens the window on first use: a counter without TTL gets one.
var (
	reserveScript = redis.NewScript(`
local c = tonumber(redis.call('GET', KEYS[1]) or '0')
if c >= tonumber(ARGV[1]) then return 0 end
redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then redis.call('PEXPIRE', KEYS[1], ARGV[2]) end
return 1`)

	consumeScript = redis.NewScript(`
local c = tonumber(redis.call('GET', KEYS[1]) or '0')
if c < tonumber(ARGV[1]) then redis.call('INCR', KEYS[1]) end
if redis.call('PTTL', KEYS[1]) < 0 then redis.call('PEXPIRE', KEYS[1], ARGV[2]) end
return 1`)

	releaseScript = redis.NewScript(`
local c = tonumber(redis.call('GET', KEYS[1]) or '0')
if c > 0 then redis.call('DECR', KEYS[1]) end
return 1`)

	exhaustScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1], 'KEEPTTL')
if redis.call('PTTL', KEYS[1]) < 0 then redis.call('PEXPIRE', KEYS[1], ARGV[2]) end
return 1`)
)

// RedisRateLimiter shares the send quota between relay replicas.
// Expiry of the counter key is the window reset.
type RedisRateLimiter struct {
	rdb    *redis.Client
	log    *slog.Logger
	key    string
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(url string, log *slog.Logger, limit int, window time.Duration) (*RedisRateLimiter, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisRateLimiter{
		rdb:    redis.NewClient(opt),
		log:    log,
		key:    defaultRedisKey,
		limit:  limit,
		window: window,
	}, nil
}

// WithKey isolates limiters sharing one redis, mostly for tests.
func (r *RedisRateLimiter) WithKey(key string) *RedisRateLimiter {
	r.key = key
	return r
}

func (r *RedisRateLimiter) CheckAndConsume(ctx context.Context) (bool, error) {
	allowed, err := reserveScript.Run(ctx, r.rdb, []string{r.key}, r.limit, r.window.Milliseconds()).Int()
	if err != nil {
		return false, r.transient(err)
	}
	return allowed == 1, nil
}

func (r *RedisRateLimiter) Consume(ctx context.Context) error {
	return r.run(ctx, consumeScript)
}

func (r *RedisRateLimiter) Release(ctx context.Context) error {
	return r.run(ctx, releaseScript)
}

func (r *RedisRateLimiter) Exhaust(ctx context.Context) error {
	if err := r.run(ctx, exhaustScript); err != nil {
		return err
	}
	r.log.Warn("Rate limit forced to cap", "cap", r.limit, "key", r.key)
	return nil
}

func (r *RedisRateLimiter) Status(ctx context.Context) (domain.RateLimitStatus, error) {
	pipe := r.rdb.Pipeline()
	get := pipe.Get(ctx, r.key)
	ttl := pipe.PTTL(ctx, r.key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.RateLimitStatus{}, r.transient(err)
	}

	count, err := get.Int()
	if err != nil && err != redis.Nil {
		return domain.RateLimitStatus{}, r.transient(err)
	}
	resetAt := time.Now().UTC().Add(r.window)
	if remaining := ttl.Val(); remaining > 0 {
		resetAt = time.Now().UTC().Add(remaining)
	}
	return domain.RateLimitStatus{
		Count:     count,
		Cap:       r.limit,
		ResetAt:   resetAt,
		Remaining: max(r.limit-count, 0),
	}, nil
}

func (r *RedisRateLimiter) Close() error {
	return r.rdb.Close()
}

func (r *RedisRateLimiter) run(ctx context.Context, script *redis.Script) error {
	if err := script.Run(ctx, r.rdb, []string{r.key}, r.limit, r.window.Milliseconds()).Err(); err != nil {
		return r.transient(err)
	}
	return nil
}

func (r *RedisRateLimiter) transient(err error) error {
	return fmt.Errorf("%w: redis rate limiter: %v", errors.ErrTransient, err)
}
