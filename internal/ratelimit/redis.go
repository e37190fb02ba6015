package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// The bucket is a hash {tokens, ts}. Time comes from the caller so every
// gateway instance refills by the same rule.
var consumeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed > 0 then
  local add = math.floor(elapsed / interval)
  if add > 0 then
    tokens = tokens + add
    ts = ts + add * interval
  end
end
if tokens >= capacity then
  tokens = capacity
  ts = now
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', KEYS[1], ttl)
return allowed
`)

// RedisLimiter evaluates the bucket atomically on Redis so several gateway
// instances share one budget per pair. Redis failures allow the call.
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// NewRedisLimiter creates a RedisLimiter on an existing client.
func NewRedisLimiter(client *redis.Client, cfg Config, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, cfg: cfg.withDefaults(), now: time.Now, logger: logger}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Consume takes one token from the shared bucket.
func (l *RedisLimiter) Consume(ctx context.Context, agentKeyID, toolID string) bool {
	key := "ratelimit:" + bucketKey(agentKeyID, toolID)
	intervalMs := l.cfg.Interval.Milliseconds()
	// Keys expire once a bucket would be full again.
	ttlMs := intervalMs*int64(l.cfg.Capacity) + 1000

	allowed, err := consumeScript.Run(ctx, l.client, []string{key},
		l.cfg.Capacity, intervalMs, l.now().UnixMilli(), ttlMs).Int()
	if err != nil {
		l.logger.Warn("redis rate limit check failed, failing open",
			zap.String("key", key), zap.Error(err))
		return true
	}
	return allowed == 1
}
