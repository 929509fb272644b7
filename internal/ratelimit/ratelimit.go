// Package ratelimit throttles API callers per actor. The Redis bucket is shared by every
// instance; Local keeps state in process and suits single-node development.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// TokenBucket implements a distributed token bucket rate limiter using Redis.
type TokenBucket struct {
	client   redis.Scripter
	capacity int
	refill   float64
	ttl      time.Duration
	prefix   string
}

func NewTokenBucket(client redis.Scripter, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		prefix:   "gigline:rl:",
	}
}

// Allow consumes a single token for key if available.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	allowed, _, err := b.Take(ctx, key)
	return allowed, err
}

// Take consumes a token and also reports the tokens left in the bucket.
func (b *TokenBucket) Take(ctx context.Context, key string) (bool, float64, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{b.prefix + key}, b.capacity, b.refill, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, nil
	}
	allowed, _ := arr[0].(int64)
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	return allowed == 1, tokens, nil
}

// Lua numbers are truncated to integers on return, so tokens is reported rounded down.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
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
return {allowed, tokens}
`)

// Local keeps one x/time/rate limiter per key.
type Local struct {
	capacity int
	refill   rate.Limit

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLocal(capacity int, refillPerSecond float64) *Local {
	return &Local{capacity: capacity, refill: rate.Limit(refillPerSecond), buckets: map[string]*rate.Limiter{}}
}

func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(l.refill, l.capacity)
		l.buckets[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow(), nil
}
