package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/client"
	"wallet-auth-service/internal/util"
)

const counterPrefix = "rate_limit:"

// consumeScript is a single atomic increment-and-compare. Two instances
// racing on the same key cannot both pass a budget of N-1 consumed points:
// the read, the ceiling check and the increment happen in one script.
const consumeScript = `
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local points = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if current + points > limit then
    return {0, current, redis.call('PTTL', KEYS[1])}
end
local total = redis.call('INCRBY', KEYS[1], points)
if total == points then
    redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[3]))
end
return {1, total, redis.call('PTTL', KEYS[1])}
`

// returnScript decrements floored at zero, preserving the window TTL.
const returnScript = `
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current <= 0 then
    return 0
end
local points = tonumber(ARGV[1])
if points > current then
    points = current
end
return redis.call('DECRBY', KEYS[1], points)
`

// ConsumeResult reports the outcome of a single consume attempt.
type ConsumeResult struct {
	Allowed        bool
	ConsumedPoints int
	RetryAfter     time.Duration
}

// Counter is a point-in-time read of a (limiter, subject) key.
type Counter struct {
	ConsumedPoints int
	TimeToReset    time.Duration
}

// CounterCache is the shared counter store backing the rate limiter
// engine: atomic increment-with-ceiling, decrement-with-floor, read and
// delete, keyed by (limiter name, subject).
type CounterCache struct {
	client *client.RedisClient
}

func NewCounterCache(client *client.RedisClient) *CounterCache {
	return &CounterCache{client: client}
}

func counterKey(limiterName, key string) string {
	return fmt.Sprintf("%s%s:%s", counterPrefix, limiterName, key)
}

// ConsumeToken consumes points against the limiter budget. The window TTL
// is set when the key is created and left untouched afterwards (fixed
// window semantics).
func (c *CounterCache) ConsumeToken(ctx context.Context, limiterName, key string, points, limit int, window time.Duration) (*ConsumeResult, error) {
	redisKey := counterKey(limiterName, key)

	raw, err := c.client.Eval(ctx, consumeScript, []string{redisKey},
		points, limit, window.Milliseconds())
	if err != nil {
		util.Error("Failed to consume rate limit points",
			zap.String("limiter", limiterName),
			zap.String("key", key),
			zap.Error(err))
		return nil, fmt.Errorf("failed to consume rate limit points: %w", err)
	}

	allowed, consumed, ttl, err := parseScriptReply(raw)
	if err != nil {
		return nil, err
	}

	result := &ConsumeResult{
		Allowed:        allowed,
		ConsumedPoints: consumed,
		RetryAfter:     ttl,
	}
	if !allowed && result.RetryAfter <= 0 {
		// Counter exists without a TTL, or raced with expiry. Report the
		// full window rather than a negative duration.
		result.RetryAfter = window
	}

	util.Debug("Rate limit points consumed",
		zap.String("limiter", limiterName),
		zap.String("key", key),
		zap.Bool("allowed", allowed),
		zap.Int("consumed", consumed))

	return result, nil
}

// ReturnToken refunds previously consumed points, floored at zero.
// Refunding an absent key is a no-op, never an error.
func (c *CounterCache) ReturnToken(ctx context.Context, limiterName, key string, points int) (int, error) {
	redisKey := counterKey(limiterName, key)

	raw, err := c.client.Eval(ctx, returnScript, []string{redisKey}, points)
	if err != nil {
		util.Error("Failed to return rate limit points",
			zap.String("limiter", limiterName),
			zap.String("key", key),
			zap.Error(err))
		return 0, fmt.Errorf("failed to return rate limit points: %w", err)
	}

	remaining, ok := raw.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected reply type %T from return script", raw)
	}

	util.Debug("Rate limit points returned",
		zap.String("limiter", limiterName),
		zap.String("key", key),
		zap.Int("points", points),
		zap.Int64("remaining", remaining))

	return int(remaining), nil
}

// Peek reads the counter without mutating it. An absent key is a valid
// zero-consumption result.
func (c *CounterCache) Peek(ctx context.Context, limiterName, key string) (*Counter, error) {
	redisKey := counterKey(limiterName, key)

	countStr, err := c.client.Get(ctx, redisKey)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return &Counter{}, nil
		}
		return nil, fmt.Errorf("failed to read rate limit counter: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		util.Error("Invalid counter format",
			zap.String("limiter", limiterName),
			zap.String("key", key),
			zap.String("count_str", countStr),
			zap.Error(err))
		return nil, fmt.Errorf("invalid counter format: %w", err)
	}

	ttl, err := c.client.PTTL(ctx, redisKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit counter TTL: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}

	return &Counter{ConsumedPoints: count, TimeToReset: ttl}, nil
}

// Reset clears all state for the key. Idempotent.
func (c *CounterCache) Reset(ctx context.Context, limiterName, key string) error {
	redisKey := counterKey(limiterName, key)

	if err := c.client.Del(ctx, redisKey); err != nil {
		util.Error("Failed to reset rate limit counter",
			zap.String("limiter", limiterName),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to reset rate limit counter: %w", err)
	}

	util.Debug("Rate limit counter reset",
		zap.String("limiter", limiterName),
		zap.String("key", key))

	return nil
}

func parseScriptReply(raw interface{}) (allowed bool, consumed int, ttl time.Duration, err error) {
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return false, 0, 0, fmt.Errorf("unexpected reply format from consume script")
	}

	flag, ok := reply[0].(int64)
	if !ok {
		return false, 0, 0, fmt.Errorf("unexpected reply type %T from consume script", reply[0])
	}
	count, ok := reply[1].(int64)
	if !ok {
		return false, 0, 0, fmt.Errorf("unexpected reply type %T from consume script", reply[1])
	}
	pttlMs, ok := reply[2].(int64)
	if !ok {
		return false, 0, 0, fmt.Errorf("unexpected reply type %T from consume script", reply[2])
	}

	return flag == 1, int(count), time.Duration(pttlMs) * time.Millisecond, nil
}
