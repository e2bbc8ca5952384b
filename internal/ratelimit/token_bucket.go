package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/logger"
)

// TokenBucket is a distributed token bucket kept in Redis, shared by every
// process calling the board with the same identity.
type TokenBucket struct {
	client   redis.UniversalClient
	key      string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewTokenBucket returns a bucket with capacity 1, i.e. a minimum interval of
// 1/rps between admitted calls across all processes.
func NewTokenBucket(client redis.UniversalClient, key string, rps float64, log *zap.Logger) *TokenBucket {
	return &TokenBucket{
		client:   client,
		key:      key,
		capacity: 1,
		refill:   rps,
		ttl:      time.Minute,
		now:      time.Now,
		logger:   logger.OrNop(log).Named("ratelimit"),
	}
}

// Allow consumes a token if available and reports the tokens left.
func (b *TokenBucket) Allow(ctx context.Context) (bool, float64, error) {
	now := b.now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{b.key}, b.capacity, b.refill, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected token bucket reply %v", res)
	}
	allowed, _ := arr[0].(int64)
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case string:
		_, _ = fmt.Sscan(v, &tokens)
	}
	return allowed == 1, tokens, nil
}

// Wait polls the bucket until a token is granted. Redis errors are logged and
// retried after one refill interval; they never surface to the caller.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		allowed, tokens, err := b.Allow(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			b.logger.Warn("token bucket unavailable, backing off", zap.String("key", b.key), zap.Error(err))
		}
		if allowed {
			return nil
		}

		delay := b.delay(tokens)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// delay is the time until the bucket holds a whole token again.
func (b *TokenBucket) delay(tokens float64) time.Duration {
	if b.refill <= 0 {
		return time.Second
	}
	missing := math.Max(0, 1-tokens)
	if missing == 0 {
		missing = 1
	}
	d := time.Duration(missing / b.refill * float64(time.Second))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// Lua numbers are returned as integers by Redis, so the fractional token
// count is passed back as a string.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens)}
`)
