// Package config reads the bridge configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/steam-bridge/pkg/cache"
	"github.com/Sternrassler/steam-bridge/pkg/logging"
	"github.com/Sternrassler/steam-bridge/pkg/steam"
	"github.com/mileusna/crontab"
)

// Cache backend names accepted by CACHE_BACKEND.
const (
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Config is the runtime configuration of the bridge binaries.
type Config struct {
	SteamAPIKey  string
	SteamBaseURL string

	CacheBackend     string
	RedisURL         string
	BoltPath         string
	CacheDefaultTTL  time.Duration
	CacheRegistryTTL time.Duration
	CacheFastTTL     time.Duration
	CacheDisabled    bool
	ProfileTTL       time.Duration

	FetchTimeout time.Duration
	UserAgent    string

	Port       string
	AdminToken string

	// FlushSchedule is a crontab expression for periodic FlushAll; empty disables it.
	FlushSchedule string

	LogLevel  logging.LogLevel
	LogPretty bool
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the configuration through getenv.
func LoadFrom(getenv func(string) string) (*Config, error) {
	env := reader{getenv: getenv}

	cfg := &Config{
		SteamAPIKey:      strings.TrimSpace(env.str("STEAM_API_KEY", "")),
		SteamBaseURL:     env.str("STEAM_API_BASE_URL", steam.DefaultBaseURL),
		CacheBackend:     strings.ToLower(env.str("CACHE_BACKEND", BackendRedis)),
		RedisURL:         env.str("REDIS_URL", "redis://localhost:6379/0"),
		BoltPath:         env.str("BOLT_PATH", "steam-bridge.db"),
		CacheDefaultTTL:  env.duration("CACHE_DEFAULT_TTL", 0),
		CacheRegistryTTL: env.duration("CACHE_REGISTRY_TTL", 0),
		CacheFastTTL:     env.duration("CACHE_FAST_TTL", cache.DefaultFastTTL),
		CacheDisabled:    env.boolean("CACHE_DISABLED", false),
		ProfileTTL:       time.Duration(env.integer("PROFILE_CACHE_HOURS", 6)) * time.Hour,
		FetchTimeout:     env.duration("FETCH_TIMEOUT", 15*time.Second),
		UserAgent:        env.str("USER_AGENT", "steam-bridge/1.0"),
		Port:             env.str("PORT", "8080"),
		AdminToken:       env.str("ADMIN_TOKEN", ""),
		FlushSchedule:    strings.TrimSpace(env.str("CACHE_FLUSH_SCHEDULE", "")),
		LogPretty:        env.boolean("LOG_PRETTY", false),
	}

	level, err := logging.ParseLevel(env.str("LOG_LEVEL", "info"))
	if err != nil {
		env.fail("LOG_LEVEL", err)
	}
	cfg.LogLevel = level

	if len(env.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(env.errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case BackendRedis, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("CACHE_BACKEND must be redis, bolt or memory, got %q", c.CacheBackend)
	}
	if c.CacheBackend == BackendBolt && c.BoltPath == "" {
		return fmt.Errorf("BOLT_PATH is required for the bolt backend")
	}
	if c.ProfileTTL <= 0 {
		return fmt.Errorf("PROFILE_CACHE_HOURS must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if c.CacheFastTTL <= 0 {
		return fmt.Errorf("CACHE_FAST_TTL must be positive")
	}
	if c.FlushSchedule != "" {
		if err := validateSchedule(c.FlushSchedule); err != nil {
			return fmt.Errorf("CACHE_FLUSH_SCHEDULE: %w", err)
		}
	}
	return nil
}

// validateSchedule parses the expression with a throwaway crontab table.
func validateSchedule(schedule string) error {
	ctab := crontab.New()
	defer ctab.Shutdown()
	return ctab.AddJob(schedule, func() {})
}

type reader struct {
	getenv func(string) string
	errs   []string
}

func (r *reader) fail(key string, err error) {
	r.errs = append(r.errs, fmt.Sprintf("%s: %v", key, err))
}

func (r *reader) str(key, fallback string) string {
	if v := r.getenv(key); v != "" {
		return v
	}
	return fallback
}

func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	v := r.getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// bare integers are seconds
		secs, convErr := strconv.Atoi(v)
		if convErr != nil {
			r.fail(key, err)
			return fallback
		}
		d = time.Duration(secs) * time.Second
	}
	if d < 0 {
		r.fail(key, fmt.Errorf("negative duration %q", v))
		return fallback
	}
	return d
}

func (r *reader) integer(key string, fallback int) int {
	v := r.getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return fallback
	}
	return n
}

func (r *reader) boolean(key string, fallback bool) bool {
	v := r.getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return fallback
	}
	return b
}
