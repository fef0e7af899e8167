package api

import (
	"errors"
	"net/http"

	"github.com/Sternrassler/steam-bridge/pkg/steam"
	"github.com/gin-gonic/gin"
)

// onlineStatus answers GET or POST /v1/status with steamids=a,b,c.
func (s *Server) onlineStatus(c *gin.Context) {
	raw := c.Query("steamids")
	if raw == "" {
		raw = c.PostForm("steamids")
	}
	ids := splitIDs(raw)
	if len(ids) == 0 {
		abort(c, http.StatusBadRequest, ErrorData{Message: CodeNoSteamIDs})
		return
	}
	if len(steam.FilterSteamIDs(ids)) == 0 {
		abort(c, http.StatusBadRequest, ErrorData{Message: CodeInvalidSteamIDs})
		return
	}
	if !s.steam.HasCredential() {
		abort(c, http.StatusInternalServerError, ErrorData{Message: CodeMissingAPIKey})
		return
	}

	statuses, err := s.steam.GetBulkOnlineStatus(c.Request.Context(), ids)
	if err != nil {
		if errors.Is(err, steam.ErrPartialResult) {
			s.logger.Warn().Err(err).Int("resolved", len(statuses)).Msg("Online status lookup incomplete")
			abort(c, http.StatusBadGateway, ErrorData{Message: CodeRemoteError, Partial: statuses})
			return
		}
		s.fail(c, err)
		return
	}
	ok(c, statuses)
}

func (s *Server) playerSummary(c *gin.Context) {
	summary, err := s.steam.GetPlayerSummary(c.Request.Context(), c.Param("steamid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, summary)
}

func (s *Server) playerProfile(c *gin.Context) {
	profile, err := s.steam.GetProfile(c.Request.Context(), c.Param("steamid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, profile)
}

func (s *Server) playerFriends(c *gin.Context) {
	friends, err := s.steam.GetFriends(c.Request.Context(), c.Param("steamid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, friends)
}

func (s *Server) ownedGames(c *gin.Context) {
	games, err := s.steam.GetOwnedGames(c.Request.Context(), c.Param("steamid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, games)
}

func (s *Server) recentGames(c *gin.Context) {
	games, err := s.steam.GetRecentGames(c.Request.Context(), c.Param("steamid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, games)
}
