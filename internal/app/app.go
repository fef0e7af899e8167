// Package app assembles the bridge components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/steam-bridge/internal/config"
	"github.com/Sternrassler/steam-bridge/pkg/cache"
	"github.com/Sternrassler/steam-bridge/pkg/fetch"
	"github.com/Sternrassler/steam-bridge/pkg/logging"
	"github.com/Sternrassler/steam-bridge/pkg/ratelimit"
	"github.com/Sternrassler/steam-bridge/pkg/steam"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// App holds the wired components of one bridge process.
type App struct {
	Config  *config.Config
	Store   *cache.Store
	Fast    *cache.MemoryBackend
	Tracker *ratelimit.Tracker
	Gate    *fetch.Gate
	Steam   *steam.Client

	redis *redis.Client
}

// Build opens the configured cache backend and wires the store, the
// throttling tracker, the fetch gate and the Steam client on top of it.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewLogger("app")
	a := &App{Config: cfg}

	durable, registry, err := a.openDurable(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var fast cache.Backend
	if cfg.CacheBackend != config.BackendMemory {
		a.Fast = cache.NewMemoryBackend()
		fast = a.Fast
	}

	a.Store = cache.NewStore(fast, durable, registry, cache.Config{
		DefaultTTL:  cfg.CacheDefaultTTL,
		RegistryTTL: cfg.CacheRegistryTTL,
		FastTTL:     cfg.CacheFastTTL,
		Disabled:    cfg.CacheDisabled,
	})
	a.Tracker = ratelimit.NewTracker(durable, logging.NewLogger("ratelimit"))

	a.Gate, err = fetch.New(a.Store, a.Tracker, fetch.Config{
		Timeout:   cfg.FetchTimeout,
		UserAgent: cfg.UserAgent,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create fetch gate: %w", err)
	}

	steamCfg := steam.DefaultConfig(cfg.SteamAPIKey)
	steamCfg.BaseURL = cfg.SteamBaseURL
	steamCfg.TTL.Summary = cfg.ProfileTTL
	a.Steam, err = steam.New(a.Gate, a.Store, steamCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create steam client: %w", err)
	}

	if !a.Steam.HasCredential() {
		logger.Warn().Msg("STEAM_API_KEY is not set; Steam lookups will fail")
	}
	logger.Info().
		Str("backend", cfg.CacheBackend).
		Bool("cache_disabled", cfg.CacheDisabled).
		Dur("fetch_timeout", cfg.FetchTimeout).
		Msg("Components ready")
	return a, nil
}

func (a *App) openDurable(ctx context.Context, cfg *config.Config) (cache.Backend, cache.Registry, error) {
	switch cfg.CacheBackend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		a.redis = client
		return cache.NewRedisBackend(client), cache.NewRedisRegistry(client), nil

	case config.BackendBolt:
		b, err := cache.OpenBolt(cfg.BoltPath, cache.BoltOptions{Bucket: "steam"})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Registry(), nil

	case config.BackendMemory:
		return cache.NewMemoryBackend(), cache.NewMemoryRegistry(), nil
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
}

// Close releases the cache tiers and the Redis connection.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
