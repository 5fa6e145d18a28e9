package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "bouncer:rl:"

// checkScript increments the window counter, starting a fresh window
// with a TTL when this is the first request of the count. Returning
// both values from one script keeps the increment and the expiry
// atomic under concurrent checks for the same key.
var checkScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}`)

// RedisLimiter shares rolling windows across instances through Redis.
type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (rl *RedisLimiter) Check(ctx context.Context, key string, limit int, windowDur time.Duration) (Decision, error) {
	res, err := checkScript.Run(ctx, rl.client, []string{redisKeyPrefix + key}, windowDur.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis check: %w", err)
	}

	count, ttl, err := parseScriptReply(res)
	if err != nil {
		return Decision{}, err
	}

	return decisionFor(int(count), limit, time.Duration(ttl)*time.Millisecond), nil
}

func (rl *RedisLimiter) Peek(ctx context.Context, key string, limit int, _ time.Duration) (Decision, error) {
	fullKey := redisKeyPrefix + key

	count, err := rl.client.Get(ctx, fullKey).Int()
	if err != nil {
		if err == redis.Nil {
			return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
		}
		return Decision{}, fmt.Errorf("ratelimit: redis peek: %w", err)
	}

	ttl, err := rl.client.PTTL(ctx, fullKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis peek ttl: %w", err)
	}

	d := decisionFor(count, limit, ttl)
	d.Allowed = count < limit
	return d, nil
}

func parseScriptReply(res any) (int64, int64, error) {
	values, ok := res.([]any)
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("ratelimit: unexpected script reply %T", res)
	}

	count, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("ratelimit: unexpected count type %T", values[0])
	}
	ttl, ok := values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("ratelimit: unexpected ttl type %T", values[1])
	}

	return count, ttl, nil
}
