// Package fetch provides the outbound HTTP gate for the Steam bridge:
// validated JSON GET requests with timeouts, error classification,
// throttling cooldowns, response caching and request coalescing.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/steam-bridge/pkg/cache"
	"github.com/Sternrassler/steam-bridge/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for upstream requests.
var (
	steamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steam_requests_total",
		Help: "Total Steam Web API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	steamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "steam_request_duration_seconds",
		Help:    "Steam Web API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{"endpoint"})

	steamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steam_errors_total",
		Help: "Total Steam Web API errors by class",
	}, []string{"class"})

	steamCoalescedRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "steam_coalesced_requests_total",
		Help: "Total requests served by another caller's in-flight fetch",
	})
)

// Config holds the gate configuration.
type Config struct {
	// Timeout bounds a single upstream request (default 15s)
	Timeout time.Duration

	// UserAgent is sent with every request
	UserAgent string

	// MaxBodyBytes caps the accepted response size (default 10 MiB)
	MaxBodyBytes int64
}

// DefaultConfig returns the default gate configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:      15 * time.Second,
		UserAgent:    "steam-bridge/1.0",
		MaxBodyBytes: 10 << 20,
	}
}

// Gate performs validated JSON GET requests against the upstream.
type Gate struct {
	httpClient *http.Client
	store      *cache.Store
	limiter    *ratelimit.Tracker
	group      singleflight.Group
	config     Config
	logger     zerolog.Logger
}

// New creates a gate. limiter may be nil to disable cooldown tracking.
func New(store *cache.Store, limiter *ratelimit.Tracker, cfg Config) (*Gate, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}

	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}

	return &Gate{
		httpClient: &http.Client{},
		store:      store,
		limiter:    limiter,
		config:     cfg,
		logger:     log.With().Str("component", "fetch-gate").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (g *Gate) SetHTTPClient(client *http.Client) {
	g.httpClient = client
}

// SetLogger replaces the gate logger.
func (g *Gate) SetLogger(logger zerolog.Logger) {
	g.logger = logger
}

// Store returns the cache store backing Request.
func (g *Gate) Store() *cache.Store {
	return g.store
}

// Timeout returns the default per-request timeout.
func (g *Gate) Timeout() time.Duration {
	return g.config.Timeout
}

// Request returns the JSON body at rawURL, served from cache when possible.
// The cache key is the normalized URL. forceRefresh skips the cache lookup
// but still stores a successful response. Failures are never cached.
// Concurrent misses for the same URL share one upstream request.
func (g *Gate) Request(ctx context.Context, rawURL string, forceRefresh bool) (json.RawMessage, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	key := cache.Normalize(rawURL)

	if !forceRefresh {
		data, err := g.store.Get(ctx, key)
		if err == nil {
			return json.RawMessage(data), nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			g.logger.Warn().Err(err).Str("endpoint", u.Path).Msg("Cache get error")
		}
	}

	return g.do(ctx, key, func(ctx context.Context) ([]byte, error) {
		body, err := g.fetch(ctx, u, g.config.Timeout)
		if err != nil {
			return nil, err
		}
		if err := g.store.Set(ctx, key, body, 0); err != nil {
			g.logger.Warn().Err(err).Str("endpoint", u.Path).Msg("Failed to cache response")
		}
		return body, nil
	})
}

// Fetch performs an uncached GET of rawURL with the default timeout.
func (g *Gate) Fetch(ctx context.Context, rawURL string) (json.RawMessage, error) {
	return g.FetchTimeout(ctx, rawURL, g.config.Timeout)
}

// FetchTimeout performs an uncached GET of rawURL bounded by timeout.
func (g *Gate) FetchTimeout(ctx context.Context, rawURL string, timeout time.Duration) (json.RawMessage, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = g.config.Timeout
	}
	body, err := g.fetch(ctx, u, timeout)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// do runs fn at most once per key across concurrent callers. The flight is
// detached from the first caller's cancellation; each caller still stops
// waiting when its own context ends.
func (g *Gate) do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) (json.RawMessage, error) {
	ch := g.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, &Error{
			Kind:  ErrUpstreamUnavailable,
			Class: ErrorClassNetwork,
			Err:   ctx.Err(),
		}
	case res := <-ch:
		if res.Shared {
			steamCoalescedRequestsTotal.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		// Callers may share one result slice; hand each its own copy.
		data := res.Val.([]byte)
		return json.RawMessage(bytes.Clone(data)), nil
	}
}

func (g *Gate) fetch(ctx context.Context, u *url.URL, timeout time.Duration) ([]byte, error) {
	endpoint := u.Path

	if g.limiter != nil {
		allowed, err := g.limiter.ShouldAllowRequest(ctx)
		if err != nil {
			g.logger.Warn().Err(err).Msg("Rate limit check failed")
		} else if !allowed {
			steamRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			steamErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return nil, &Error{
				Kind:     ErrUpstreamUnavailable,
				Class:    ErrorClassRateLimit,
				Endpoint: endpoint,
				Message:  "throttling cooldown active",
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidInput, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.config.UserAgent)

	startTime := time.Now()
	defer func() {
		steamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	g.logger.Debug().Str("endpoint", endpoint).Msg("Executing Steam request")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		// *url.Error embeds the full URL, query string and API key included.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		steamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		steamRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		g.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Steam request failed")
		return nil, &Error{
			Kind:     ErrUpstreamUnavailable,
			Class:    ErrorClassNetwork,
			Endpoint: endpoint,
			Err:      err,
		}
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	steamRequestsTotal.WithLabelValues(endpoint, status).Inc()

	if resp.StatusCode != http.StatusOK {
		class := classifyStatus(resp.StatusCode)
		steamErrorsTotal.WithLabelValues(string(class)).Inc()
		if resp.StatusCode == http.StatusTooManyRequests && g.limiter != nil {
			if _, err := g.limiter.RecordThrottle(ctx, resp.Header); err != nil {
				g.logger.Warn().Err(err).Msg("Failed to record throttling cooldown")
			}
		}
		g.logger.Warn().
			Str("endpoint", endpoint).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Steam request error")
		return nil, &Error{
			Kind:       ErrUpstreamUnavailable,
			Class:      class,
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, g.config.MaxBodyBytes+1))
	if err != nil {
		steamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &Error{
			Kind:     ErrUpstreamUnavailable,
			Class:    ErrorClassNetwork,
			Endpoint: endpoint,
			Message:  "read body",
			Err:      err,
		}
	}

	switch {
	case int64(len(body)) > g.config.MaxBodyBytes:
		return nil, g.malformed(endpoint, "response body too large")
	case len(bytes.TrimSpace(body)) == 0:
		return nil, g.malformed(endpoint, "empty response body")
	case !json.Valid(body):
		return nil, g.malformed(endpoint, "invalid JSON")
	}

	g.logger.Debug().
		Str("endpoint", endpoint).
		Int("bytes", len(body)).
		Dur("duration", time.Since(startTime)).
		Msg("Steam request succeeded")

	return body, nil
}

func (g *Gate) malformed(endpoint, msg string) error {
	steamErrorsTotal.WithLabelValues(string(ErrorClassMalformed)).Inc()
	g.logger.Warn().Str("endpoint", endpoint).Msg("Malformed Steam response: " + msg)
	return &Error{
		Kind:     ErrMalformedResponse,
		Class:    ErrorClassMalformed,
		Endpoint: endpoint,
		Message:  msg,
	}
}

// ValidateURL accepts only absolute http(s) URLs with a host.
func ValidateURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, &Error{Kind: ErrInvalidInput, Message: "empty URL"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidInput, Message: "unparseable URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{Kind: ErrInvalidInput, Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return nil, &Error{Kind: ErrInvalidInput, Message: "URL has no host"}
	}
	return u, nil
}
