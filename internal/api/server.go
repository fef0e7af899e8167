// Package api exposes the bridge over HTTP with gin.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/steam-bridge/pkg/cache"
	"github.com/Sternrassler/steam-bridge/pkg/fetch"
	"github.com/Sternrassler/steam-bridge/pkg/logging"
	"github.com/Sternrassler/steam-bridge/pkg/metrics"
	"github.com/Sternrassler/steam-bridge/pkg/ratelimit"
	"github.com/Sternrassler/steam-bridge/pkg/steam"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Error codes returned in the envelope's data.message.
const (
	CodeNoSteamIDs      = "no_steamids"
	CodeInvalidSteamIDs = "invalid_steamids"
	CodeMissingAPIKey   = "missing_api_key"
	CodeRemoteError     = "remote_error"
	CodeNotFound        = "not_found"
	CodeInvalidInput    = "invalid_input"
	CodeUnauthorized    = "unauthorized"
	CodeCacheError      = "cache_error"
)

const adminTokenHeader = "X-Admin-Token"

// Envelope is the response body of every /v1 and /admin endpoint.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// ErrorData is the data of a failed response.
type ErrorData struct {
	Message string `json:"message"`
	// Partial carries whatever was resolved before the failure.
	Partial any `json:"partial,omitempty"`
}

// Options configures optional parts of the server.
type Options struct {
	// AdminToken enables the /admin routes when set.
	AdminToken string

	// Tracker enables the throttling reset route.
	Tracker *ratelimit.Tracker

	// ReadyTimeout bounds the readiness ping (default 2s).
	ReadyTimeout time.Duration
}

// Server serves the bridge API.
type Server struct {
	steam  *steam.Client
	store  *cache.Store
	opts   Options
	logger zerolog.Logger
}

// New creates a server. steamClient and store are required.
func New(steamClient *steam.Client, store *cache.Store, opts Options) *Server {
	if steamClient == nil {
		panic("steam client cannot be nil")
	}
	if store == nil {
		panic("cache store cannot be nil")
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 2 * time.Second
	}
	return &Server{
		steam:  steamClient,
		store:  store,
		opts:   opts,
		logger: logging.NewLogger("api"),
	}
}

// SetLogger replaces the server logger.
func (s *Server) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.health)
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/status", s.onlineStatus)
	v1.POST("/status", s.onlineStatus)

	players := v1.Group("/players/:steamid")
	players.GET("", s.playerSummary)
	players.GET("/profile", s.playerProfile)
	players.GET("/friends", s.playerFriends)
	players.GET("/games/owned", s.ownedGames)
	players.GET("/games/recent", s.recentGames)

	if s.opts.AdminToken != "" {
		admin := r.Group("/admin", s.requireAdmin())
		admin.POST("/cache/flush", s.flushCache)
		admin.DELETE("/cache/:key", s.deleteCacheKey)
		admin.DELETE("/players/:steamid/cache", s.invalidatePlayer)
		if s.opts.Tracker != nil {
			admin.GET("/ratelimit", s.rateLimitState)
			admin.DELETE("/ratelimit", s.resetRateLimit)
		}
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.ReadyTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Readiness check failed")
		c.String(http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	c.String(http.StatusOK, "READY")
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := s.logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Int("status_code", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	}
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	token := []byte(s.opts.AdminToken)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(adminTokenHeader))
		if subtle.ConstantTimeCompare(got, token) != 1 {
			abort(c, http.StatusUnauthorized, ErrorData{Message: CodeUnauthorized})
			return
		}
		c.Next()
	}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

func abort(c *gin.Context, status int, data ErrorData) {
	c.AbortWithStatusJSON(status, Envelope{Success: false, Data: data})
}

// fail maps a Steam client error onto a status code and error code.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, steam.ErrMissingCredential):
		abort(c, http.StatusInternalServerError, ErrorData{Message: CodeMissingAPIKey})
	case errors.Is(err, fetch.ErrInvalidInput):
		abort(c, http.StatusBadRequest, ErrorData{Message: CodeInvalidInput})
	case errors.Is(err, fetch.ErrNotFound):
		abort(c, http.StatusNotFound, ErrorData{Message: CodeNotFound})
	default:
		s.logger.Warn().Err(err).Str("route", c.FullPath()).Msg("Steam lookup failed")
		abort(c, http.StatusBadGateway, ErrorData{Message: CodeRemoteError})
	}
}

// splitIDs splits a comma separated list, dropping blanks.
func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
