package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a distributed token bucket over Redis, shared by all API
// replicas. One bucket per producer key.
type Limiter struct {
	client       *redis.Client
	capacity     int
	refillPerSec float64
	keyTTL       time.Duration
}

// NewLimiter constructs a limiter with the given burst capacity and refill
// rate. Bucket keys expire after keyTTL of inactivity.
func NewLimiter(client *redis.Client, capacity int, refillPerSec float64, keyTTL time.Duration) *Limiter {
	return &Limiter{
		client:       client,
		capacity:     capacity,
		refillPerSec: refillPerSec,
		keyTTL:       keyTTL,
	}
}

// Allow consumes one token for the producer if one is available and returns
// the remaining token count.
func (l *Limiter) Allow(ctx context.Context, producer string) (bool, float64, error) {
	key := "ratelimit:" + producer
	res, err := refillScript.Run(ctx, l.client, []string{key},
		l.capacity, l.refillPerSec, time.Now().UnixMilli(), l.keyTTL.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected rate limit reply: %v", res)
	}
	allowed, _ := arr[0].(int64)
	var remaining float64
	switch v := arr[1].(type) {
	case int64:
		remaining = float64(v)
	case float64:
		remaining = v
	case string:
		fmt.Sscanf(v, "%f", &remaining)
	}
	return allowed == 1, remaining, nil
}

// The script reads, refills and debits the bucket in one atomic step so
// concurrent API replicas never over-admit.
var refillScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_sec = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'refreshed_ms')
local tokens = tonumber(state[1])
local refreshed = tonumber(state[2])
if tokens == nil then tokens = capacity end
if refreshed == nil then refreshed = now_ms end

local elapsed_ms = math.max(0, now_ms - refreshed)
tokens = math.min(capacity, tokens + elapsed_ms / 1000 * refill_per_sec)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'refreshed_ms', now_ms)
if ttl_ms > 0 then redis.call('PEXPIRE', key, ttl_ms) end
return {allowed, tokens}
`)
