package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/steam-bridge/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	steamRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "steam_rate_limit_blocks_total",
		Help: "Total number of requests blocked during a throttling cooldown",
	})

	steamRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "steam_rate_limit_throttles_total",
		Help: "Total number of 429 responses received from the Steam Web API",
	})

	steamRateLimitCooldownSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "steam_rate_limit_cooldown_seconds",
		Help: "Length of the most recently recorded throttling cooldown",
	})
)

// Tracker records upstream throttling and gates requests while it lasts.
type Tracker struct {
	backend cache.Backend
	logger  zerolog.Logger
	now     func() time.Time
}

// NewTracker creates a new rate limit tracker storing its state in backend.
func NewTracker(backend cache.Backend, logger zerolog.Logger) *Tracker {
	if backend == nil {
		panic("rate limit backend cannot be nil")
	}
	return &Tracker{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// GetState returns the current cooldown state.
// A missing or expired record yields an inactive state.
func (t *Tracker) GetState(ctx context.Context) (*CooldownState, error) {
	data, err := t.backend.Get(ctx, KeyCooldown)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return &CooldownState{}, nil
		}
		return nil, fmt.Errorf("get cooldown: %w", err)
	}

	var state CooldownState
	if err := json.Unmarshal(data, &state); err != nil {
		t.logger.Warn().Err(err).Msg("Discarding unreadable cooldown state")
		_ = t.backend.Delete(ctx, KeyCooldown)
		return &CooldownState{}, nil
	}
	if !state.Active() {
		state.CoolingDown = false
	}
	return &state, nil
}

// RecordThrottle stores a cooldown derived from the Retry-After header of a
// 429 response and returns its length.
func (t *Tracker) RecordThrottle(ctx context.Context, headers http.Header) (time.Duration, error) {
	now := t.now()
	retryAfter := ParseRetryAfter(headers.Get("Retry-After"), now)

	state := CooldownState{
		CoolingDown: true,
		Until:       now.Add(retryAfter),
		RetryAfter:  retryAfter,
		RecordedAt:  now,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("marshal cooldown: %w", err)
	}
	if err := t.backend.Set(ctx, KeyCooldown, data, retryAfter); err != nil {
		return 0, fmt.Errorf("store cooldown: %w", err)
	}

	steamRateLimitThrottlesTotal.Inc()
	steamRateLimitCooldownSeconds.Set(retryAfter.Seconds())

	t.logger.Warn().
		Dur("retry_after", retryAfter).
		Time("until", state.Until).
		Msg("Steam API throttled - cooling down")

	return retryAfter, nil
}

// ShouldAllowRequest reports whether a request may be sent upstream.
// Returns false while a cooldown is active.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.Active() {
		t.logger.Debug().
			Dur("remaining", state.Remaining()).
			Msg("Steam API cooldown active - blocking request")
		steamRateLimitBlocksTotal.Inc()
		return false, nil
	}

	return true, nil
}

// Reset clears any recorded cooldown.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.backend.Delete(ctx, KeyCooldown); err != nil {
		return fmt.Errorf("reset cooldown: %w", err)
	}
	return nil
}

// ParseRetryAfter interprets a Retry-After header value given either as
// delay-seconds or an HTTP date. Missing, invalid or non-positive values
// fall back to DefaultRetryAfter; values above MaxRetryAfter are capped.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryAfter
	}

	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	} else {
		return DefaultRetryAfter
	}

	switch {
	case d <= 0:
		return DefaultRetryAfter
	case d > MaxRetryAfter:
		return MaxRetryAfter
	default:
		return d
	}
}
