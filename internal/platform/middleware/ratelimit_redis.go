package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and spends a bucket atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = now (unix seconds, fractional)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tostring(tokens)}
`)

// RedisLimiterStore keeps token buckets in Redis so every replica shares
// the same budget per user.
type RedisLimiterStore struct {
	client redis.Scripter
	prefix string
	rate   float64
	burst  int
	now    func() time.Time
}

func NewRedisLimiterStore(client redis.Scripter, prefix string, rate float64, burst int) *RedisLimiterStore {
	if rate <= 0 {
		rate = 1
	}
	return &RedisLimiterStore{client: client, prefix: prefix, rate: rate, burst: burst, now: time.Now}
}

func (s *RedisLimiterStore) Allow(ctx context.Context, key string) (bool, int, error) {
	now := float64(s.now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, s.client, []string{s.prefix + "ratelimit:" + key}, s.rate, s.burst, now).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis limiter: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis limiter: unexpected reply %v", res)
	}
	allowed, _ := res[0].(int64)
	var tokens float64
	if str, ok := res[1].(string); ok {
		tokens, _ = strconv.ParseFloat(str, 64)
	}
	if allowed == 1 {
		return true, 0, nil
	}
	return false, retryAfterSeconds(tokens, s.rate), nil
}
