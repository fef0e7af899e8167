package api

import (
	"errors"
	"net/http"

	"github.com/Sternrassler/steam-bridge/pkg/fetch"
	"github.com/gin-gonic/gin"
)

func (s *Server) flushCache(c *gin.Context) {
	if err := s.store.FlushAll(c.Request.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Cache flush incomplete")
		abort(c, http.StatusInternalServerError, ErrorData{Message: CodeCacheError})
		return
	}
	s.logger.Info().Msg("Cache flushed")
	ok(c, gin.H{"flushed": true})
}

// deleteCacheKey removes one entry by raw or normalized key.
func (s *Server) deleteCacheKey(c *gin.Context) {
	key := c.Param("key")
	if err := s.store.Delete(c.Request.Context(), key); err != nil {
		s.logger.Error().Err(err).Str("cache_key", key).Msg("Cache delete failed")
		abort(c, http.StatusInternalServerError, ErrorData{Message: CodeCacheError})
		return
	}
	ok(c, gin.H{"deleted": key})
}

func (s *Server) invalidatePlayer(c *gin.Context) {
	if err := s.steam.InvalidatePlayer(c.Request.Context(), c.Param("steamid")); err != nil {
		if errors.Is(err, fetch.ErrInvalidInput) {
			s.fail(c, err)
			return
		}
		s.logger.Error().Err(err).Str("steam_id", c.Param("steamid")).Msg("Player invalidation failed")
		abort(c, http.StatusInternalServerError, ErrorData{Message: CodeCacheError})
		return
	}
	ok(c, gin.H{"invalidated": c.Param("steamid")})
}

func (s *Server) rateLimitState(c *gin.Context) {
	state, err := s.opts.Tracker.GetState(c.Request.Context())
	if err != nil {
		abort(c, http.StatusInternalServerError, ErrorData{Message: CodeCacheError})
		return
	}
	ok(c, state)
}

func (s *Server) resetRateLimit(c *gin.Context) {
	if err := s.opts.Tracker.Reset(c.Request.Context()); err != nil {
		abort(c, http.StatusInternalServerError, ErrorData{Message: CodeCacheError})
		return
	}
	s.logger.Info().Msg("Throttling cooldown cleared")
	ok(c, gin.H{"reset": true})
}
