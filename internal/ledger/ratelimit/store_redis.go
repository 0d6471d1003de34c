package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ledger:ratelimit:"

// slidingWindow trims the sorted set to the window, then adds the request if
// there is room. Running it as one script keeps concurrent instances from
// both taking the last slot.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local reset = now + window
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// RedisStore shares windows between service instances.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := s.now().UnixMilli()
	raw, err := slidingWindow.Run(ctx, s.client,
		[]string{redisKeyPrefix + key},
		now, window.Milliseconds(), limit, strconv.FormatInt(now, 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("rate limit script returned %d values", len(raw))
	}

	allowed, count := raw[0] == 1, int(raw[1])
	result := &Result{
		Allowed: allowed,
		Limit:   limit,
		ResetAt: time.UnixMilli(raw[2]),
	}
	if allowed {
		result.Remaining = limit - count
	}
	return result, nil
}
