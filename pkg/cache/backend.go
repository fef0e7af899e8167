package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Backend is a single cache tier.
// Implementations must be safe for concurrent use and must return
// ErrCacheMiss for absent or expired keys.
type Backend interface {
	// Name identifies the tier in logs and metrics (e.g. "memory", "redis")
	Name() string

	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Ping checks that the tier is reachable
	Ping(ctx context.Context) error

	Close() error
}

// Registry tracks the keys written through a Store so they can be flushed
// in bulk. Membership is best-effort: a member may point at an entry that
// has already expired, and concurrent writers across processes may race.
type Registry interface {
	// Add inserts key and refreshes the registry TTL
	Add(ctx context.Context, key string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	Members(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}
