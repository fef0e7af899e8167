// Package ratelimit tracks Steam Web API throttling and gates outbound requests.
// When the upstream answers 429 Too Many Requests, a cooldown honouring the
// Retry-After header is recorded in a cache backend so every process sharing
// that backend backs off together.
package ratelimit

import (
	"time"
)

// KeyCooldown is the backend key holding the active cooldown.
const KeyCooldown = "steam:rate_limit:cooldown"

const (
	// DefaultRetryAfter is used when a 429 carries no usable Retry-After header.
	DefaultRetryAfter = 60 * time.Second

	// MaxRetryAfter caps absurd Retry-After values so a bad header cannot
	// silence the bridge for hours.
	MaxRetryAfter = 15 * time.Minute
)

// CooldownState describes the current throttling state.
type CooldownState struct {
	// CoolingDown is true while requests must not be sent upstream.
	CoolingDown bool `json:"cooling_down"`

	// Until is when the cooldown ends.
	Until time.Time `json:"until"`

	// RetryAfter is the duration requested by the last 429.
	RetryAfter time.Duration `json:"retry_after"`

	// RecordedAt is when the last 429 was seen.
	RecordedAt time.Time `json:"recorded_at"`
}

// Remaining returns the time left in the cooldown, or 0 when none is active.
func (s *CooldownState) Remaining() time.Duration {
	if !s.CoolingDown {
		return 0
	}
	d := time.Until(s.Until)
	if d < 0 {
		return 0
	}
	return d
}

// Active reports whether the cooldown still applies at the current time.
func (s *CooldownState) Active() bool {
	return s.Remaining() > 0
}
