// Package ratelimit implements a redis-backed token-bucket limiter shared
// across processes: every binary (poller, processor, reminders) calling the
// job board for the same recruiter draws from one bucket instead of each
// process enforcing its own local cap.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses a redis:// DSN into a client, or returns nil with no
// error for an empty DSN so callers can wire a Limiter unconditionally.
func NewRedisClient(dsn string) (*redis.Client, error) {
	if dsn == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

// BucketConfig is one named bucket's capacity and refill rate.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64 // tokens per second
}

// FromPerSecond builds a BucketConfig that refills at perSecond tokens/sec
// with a one-second burst capacity.
func FromPerSecond(perSecond float64) BucketConfig {
	if perSecond <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{Capacity: int64(math.Ceil(perSecond)), RefillRate: perSecond}
}

// Limiter is a redis Lua token-bucket limiter keyed by an arbitrary string
// (e.g. "jobboard:<recruiter_id>"), so each recruiter's quota is tracked
// independently across every process sharing the same redis instance.
type Limiter struct {
	redis   *redis.Client
	script  *redis.Script
	mu      sync.RWMutex
	buckets map[string]BucketConfig
}

// New builds a Limiter. Passing a nil *redis.Client yields a Limiter whose
// Allow always permits the call, so callers can wire it unconditionally and
// let an unset REDIS_URL degrade to no cross-process limiting.
func New(rdb *redis.Client, buckets map[string]BucketConfig) *Limiter {
	if buckets == nil {
		buckets = map[string]BucketConfig{}
	}
	return &Limiter{redis: rdb, buckets: buckets, script: redis.NewScript(luaTokenBucketScript)}
}

const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)
last_refill = now

local allowed = 0
local retry_after = 0

if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  local shortage = cost - tokens
  if refill_rate > 0 then
    retry_after = shortage / refill_rate
  end
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 3600)

return { allowed, tokens, last_refill, retry_after }
`

// Allow draws cost tokens from key's bucket. A redis error fails open
// (allowed=true) so an unreachable redis never blocks the job board calls
// the in-process golang.org/x/time/rate limiter already throttles.
func (l *Limiter) Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error) {
	if l == nil || l.redis == nil {
		return true, 0, nil
	}
	l.mu.RLock()
	cfg, ok := l.buckets[key]
	l.mu.RUnlock()
	if !ok || cfg.Capacity <= 0 || cfg.RefillRate <= 0 {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}

	nowSec := float64(time.Now().UnixNano()) / 1e9
	res, err := l.script.Run(ctx, l.redis, []string{"ratelimit:" + key}, cfg.Capacity, cfg.RefillRate, nowSec, cost).Result()
	if err != nil {
		slog.Error("redis rate limiter script error", slog.String("key", key), slog.Any("error", err))
		return true, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 4 {
		slog.Error("redis rate limiter unexpected script result", slog.String("key", key), slog.Any("result", res))
		return true, 0, nil
	}
	allowedInt, _ := vals[0].(int64)
	retryAfterSec := toFloat64(vals[3])
	return allowedInt == 1, time.Duration(retryAfterSec * float64(time.Second)), nil
}

// Wait blocks, polling Allow, until key's bucket admits cost tokens or ctx
// is done. A redis error is treated as an immediate allow (fail open).
func (l *Limiter) Wait(ctx context.Context, key string, cost int64) error {
	for {
		allowed, retryAfter, err := l.Allow(ctx, key, cost)
		if err != nil || allowed {
			return nil
		}
		if retryAfter <= 0 {
			retryAfter = 50 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
	}
}

// SetBucketConfig registers or updates the bucket for key.
func (l *Limiter) SetBucketConfig(key string, cfg BucketConfig) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buckets == nil {
		l.buckets = map[string]BucketConfig{}
	}
	l.buckets[key] = cfg
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}
