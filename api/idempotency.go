package api

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyKeyPrefix = "tasklog:idem:"

// RedisDeduper stores idempotency keys in Redis so all instances agree on
// which create requests were already processed.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(callerID int64, key string) string {
	return idempotencyKeyPrefix + strconv.FormatInt(callerID, 10) + ":" + key
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, callerID int64, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(callerID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key so the caller may retry.
func (r *RedisDeduper) Remove(ctx context.Context, callerID int64, key string) error {
	return r.client.Del(ctx, r.key(callerID, key)).Err()
}
