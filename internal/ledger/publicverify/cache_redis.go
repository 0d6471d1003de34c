package publicverify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ledger:verify:"

// RedisCache shares resolutions between service instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, code string) (*CacheRecord, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read verification cache: %w", err)
	}
	var value CacheRecord
	if err := json.Unmarshal(raw, &value); err != nil {
		// A corrupt entry is treated as absent and will be overwritten.
		return nil, false, nil
	}
	return &value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, code string, value *CacheRecord) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode verification cache: %w", err)
	}
	return c.client.Set(ctx, keyPrefix+code, raw, c.ttl).Err()
}

// Delete removes codes in a single pipeline.
func (c *RedisCache) Delete(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, code := range codes {
		pipe.Del(ctx, keyPrefix+code)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidate verification cache: %w", err)
	}
	return nil
}
