package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// RedisKeyPrefix namespaces cache entries in Redis
	RedisKeyPrefix = "steam:cache:"

	// RedisKeyRegistry is the Redis SET holding registered keys
	RedisKeyRegistry = "steam:cache:registry"
)

// RedisBackend is a durable tier backed by Redis.
type RedisBackend struct {
	redis  *redis.Client
	prefix string
}

// NewRedisBackend creates a Redis tier.
func NewRedisBackend(redisClient *redis.Client) *RedisBackend {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisBackend{
		redis:  redisClient,
		prefix: RedisKeyPrefix,
	}
}

// Name implements Backend.
func (b *RedisBackend) Name() string { return "redis" }

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.redis.Get(ctx, b.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Set implements Backend.
// A ttl <= 0 stores the value without expiry.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := b.redis.Set(ctx, b.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.redis.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping implements Backend.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.redis.Ping(ctx).Err()
}

// Close is a no-op; the Redis client is owned by the caller.
func (b *RedisBackend) Close() error { return nil }

// RedisRegistry keeps registered keys in a Redis SET.
// SADD/SREM are atomic per call, so concurrent writers never lose a
// registration the way a read-modify-write list would.
type RedisRegistry struct {
	redis *redis.Client
	key   string
}

// NewRedisRegistry creates a registry stored under RedisKeyRegistry.
func NewRedisRegistry(redisClient *redis.Client) *RedisRegistry {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisRegistry{
		redis: redisClient,
		key:   RedisKeyRegistry,
	}
}

// Add implements Registry.
func (r *RedisRegistry) Add(ctx context.Context, key string, ttl time.Duration) error {
	pipe := r.redis.TxPipeline()
	pipe.SAdd(ctx, r.key, key)
	if ttl > 0 {
		pipe.Expire(ctx, r.key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis registry add: %w", err)
	}
	return nil
}

// Remove implements Registry.
func (r *RedisRegistry) Remove(ctx context.Context, key string) error {
	if err := r.redis.SRem(ctx, r.key, key).Err(); err != nil {
		return fmt.Errorf("redis registry remove: %w", err)
	}
	return nil
}

// Members implements Registry.
func (r *RedisRegistry) Members(ctx context.Context) ([]string, error) {
	members, err := r.redis.SMembers(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis registry members: %w", err)
	}
	return members, nil
}

// Clear implements Registry.
func (r *RedisRegistry) Clear(ctx context.Context) error {
	if err := r.redis.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis registry clear: %w", err)
	}
	return nil
}
