package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// FallbackTTL is used for entries when no default TTL is configured
	FallbackTTL = 6 * time.Hour

	// FallbackRegistryTTL is the registry TTL when no default TTL is configured
	FallbackRegistryTTL = 1 * time.Hour

	// DefaultFastTTL caps how long the fast tier may serve an entry without
	// consulting the durable tier.
	DefaultFastTTL = 30 * time.Second
)

// Config holds Store configuration.
type Config struct {
	// DefaultTTL applies to Set calls with ttl <= 0 (0 = FallbackTTL)
	DefaultTTL time.Duration

	// RegistryTTL is the lifetime of the key registry.
	// 0 = DefaultTTL when configured, else FallbackRegistryTTL.
	RegistryTTL time.Duration

	// FastTTL caps the fast tier lifetime of every entry, bounding how long a
	// process serves a key after another process deleted or flushed it.
	// 0 = DefaultFastTTL.
	FastTTL time.Duration

	// Disabled bypasses both tiers for reads and writes
	Disabled bool
}

// Store is a two-tier cache: a best-effort fast tier in front of an
// authoritative durable tier, plus a registry of written keys for bulk
// invalidation. Construct one per process and pass it to consumers.
type Store struct {
	fast     Backend
	durable  Backend
	registry Registry

	defaultTTL  time.Duration
	registryTTL time.Duration
	fastTTL     time.Duration
	disabled    atomic.Bool

	logger zerolog.Logger
}

// NewStore creates a Store. fast may be nil; durable and registry are required.
func NewStore(fast, durable Backend, registry Registry, cfg Config) *Store {
	if durable == nil {
		panic("durable backend cannot be nil")
	}
	if registry == nil {
		panic("registry cannot be nil")
	}

	defaultTTL := cfg.DefaultTTL
	registryTTL := cfg.RegistryTTL
	if registryTTL <= 0 {
		if defaultTTL > 0 {
			registryTTL = defaultTTL
		} else {
			registryTTL = FallbackRegistryTTL
		}
	}
	if defaultTTL <= 0 {
		defaultTTL = FallbackTTL
	}
	fastTTL := cfg.FastTTL
	if fastTTL <= 0 {
		fastTTL = DefaultFastTTL
	}

	s := &Store{
		fast:        fast,
		durable:     durable,
		registry:    registry,
		defaultTTL:  defaultTTL,
		registryTTL: registryTTL,
		fastTTL:     fastTTL,
		logger:      log.With().Str("component", "cache-store").Logger(),
	}
	s.disabled.Store(cfg.Disabled)
	return s
}

// SetLogger replaces the store logger.
func (s *Store) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// SetDisabled toggles the cache bypass at runtime.
func (s *Store) SetDisabled(disabled bool) {
	s.disabled.Store(disabled)
}

// Disabled reports whether the cache is bypassed.
func (s *Store) Disabled() bool {
	return s.disabled.Load()
}

// DefaultTTL returns the TTL applied when Set is called with ttl <= 0.
func (s *Store) DefaultTTL() time.Duration {
	return s.defaultTTL
}

// Get returns the cached value for rawKey.
// Returns ErrCacheMiss when the key is absent, expired, or the cache is disabled.
func (s *Store) Get(ctx context.Context, rawKey string) ([]byte, error) {
	if s.Disabled() {
		return nil, ErrCacheMiss
	}
	key := Normalize(rawKey)

	if s.fast != nil {
		if data, err := s.fast.Get(ctx, key); err == nil {
			if entry, err := decodeEntry(data); err == nil && !entry.IsExpired() {
				CacheHits.WithLabelValues(s.fast.Name()).Inc()
				s.logger.Debug().Str("key", key).Str("layer", s.fast.Name()).Msg("Cache hit")
				return entry.Data, nil
			}
			_ = s.fast.Delete(ctx, key)
		} else if !errors.Is(err, ErrCacheMiss) {
			s.logger.Debug().Err(err).Str("key", key).Msg("Fast tier get failed")
		}
	}

	data, err := s.durable.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("durable get: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Dropping corrupt cache entry")
		_ = s.durable.Delete(ctx, key)
		return nil, err
	}
	if entry.IsExpired() {
		_ = s.durable.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(s.durable.Name()).Inc()

	if s.fast != nil {
		if err := s.fast.Set(ctx, key, data, s.fastLifetime(entry.TTL())); err != nil {
			s.logger.Debug().Err(err).Str("key", key).Msg("Fast tier back-fill failed")
		}
	}

	return entry.Data, nil
}

// Set stores value under rawKey in both tiers and registers the key.
// A ttl <= 0 uses the default TTL. No-op while the cache is disabled.
func (s *Store) Set(ctx context.Context, rawKey string, value []byte, ttl time.Duration) error {
	if s.Disabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	key := Normalize(rawKey)

	data, err := encodeEntry(NewEntry(value, ttl))
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	if err := s.durable.Set(ctx, key, data, ttl); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		if s.fast != nil {
			// Drop any older copy so reads fall through to the durable tier.
			_ = s.fast.Delete(ctx, key)
		}
		return fmt.Errorf("durable set: %w", err)
	}

	if s.fast != nil {
		if err := s.fast.Set(ctx, key, data, s.fastLifetime(ttl)); err != nil {
			s.logger.Debug().Err(err).Str("key", key).Msg("Fast tier set failed")
		}
	}

	if err := s.registry.Add(ctx, key, s.registryTTL); err != nil {
		// The entry is still valid; it just won't be reached by FlushAll.
		CacheErrors.WithLabelValues("register").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to register cache key")
	}

	s.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("Cached value")
	return nil
}

// Delete removes rawKey from both tiers and the registry.
// Deletion is never gated by the disabled flag.
func (s *Store) Delete(ctx context.Context, rawKey string) error {
	key := Normalize(rawKey)

	var errs []error
	if s.fast != nil {
		if err := s.fast.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("fast delete: %w", err))
		}
	}
	if err := s.durable.Delete(ctx, key); err != nil {
		errs = append(errs, fmt.Errorf("durable delete: %w", err))
	}
	if err := s.registry.Remove(ctx, key); err != nil {
		errs = append(errs, fmt.Errorf("unregister: %w", err))
	}
	if len(errs) > 0 {
		CacheErrors.WithLabelValues("delete").Inc()
		return errors.Join(errs...)
	}
	return nil
}

// FlushAll deletes every registered key from both tiers, then clears the
// registry. Individual failures and malformed registry members do not stop
// the flush; their errors are joined into the result.
func (s *Store) FlushAll(ctx context.Context) error {
	members, err := s.registry.Members(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("flush").Inc()
		return fmt.Errorf("read registry: %w", err)
	}
	if len(members) == 0 {
		return nil
	}

	CacheFlushes.Inc()

	var errs []error
	flushed := 0
	for _, member := range members {
		if member == "" {
			continue
		}
		key := Normalize(member)
		if s.fast != nil {
			if err := s.fast.Delete(ctx, key); err != nil {
				errs = append(errs, fmt.Errorf("fast delete %s: %w", key, err))
			}
		}
		if err := s.durable.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("durable delete %s: %w", key, err))
			continue
		}
		flushed++
	}

	if err := s.registry.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear registry: %w", err))
	}

	CacheFlushedKeys.Add(float64(flushed))
	s.logger.Info().
		Int("registered", len(members)).
		Int("flushed", flushed).
		Int("errors", len(errs)).
		Msg("Cache flushed")

	if len(errs) > 0 {
		CacheErrors.WithLabelValues("flush").Inc()
		return errors.Join(errs...)
	}
	return nil
}

// GetJSON decodes the cached value for rawKey into dst.
func (s *Store) GetJSON(ctx context.Context, rawKey string, dst any) error {
	data, err := s.Get(ctx, rawKey)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}

// SetJSON encodes v as JSON and stores it under rawKey.
func (s *Store) SetJSON(ctx context.Context, rawKey string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return s.Set(ctx, rawKey, data, ttl)
}

// FastTTL returns the cap on fast tier lifetimes.
func (s *Store) FastTTL() time.Duration {
	return s.fastTTL
}

// fastLifetime is the smaller of the remaining entry lifetime and the fast
// tier cap.
func (s *Store) fastLifetime(remaining time.Duration) time.Duration {
	if remaining <= 0 || remaining > s.fastTTL {
		return s.fastTTL
	}
	return remaining
}

// Ping checks the durable tier.
func (s *Store) Ping(ctx context.Context) error {
	return s.durable.Ping(ctx)
}

// Close closes both tiers.
func (s *Store) Close() error {
	var errs []error
	if s.fast != nil {
		errs = append(errs, s.fast.Close())
	}
	errs = append(errs, s.durable.Close())
	return errors.Join(errs...)
}
