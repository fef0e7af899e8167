// Package testutil provides testing utilities for the Steam bridge.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Steam Web API paths served by MockSteam.
const (
	PathPlayerSummaries = "/ISteamUser/GetPlayerSummaries/v2/"
	PathSteamLevel      = "/IPlayerService/GetSteamLevel/v1/"
	PathFriendList      = "/ISteamUser/GetFriendList/v1/"
	PathRecentGames     = "/IPlayerService/GetRecentlyPlayedGames/v1/"
	PathOwnedGames      = "/IPlayerService/GetOwnedGames/v1/"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockPlayer is the subset of a player summary the mock returns.
type MockPlayer struct {
	SteamID      string `json:"steamid"`
	PersonaName  string `json:"personaname"`
	ProfileURL   string `json:"profileurl"`
	AvatarFull   string `json:"avatarfull"`
	PersonaState int    `json:"personastate"`
}

// MockSteam is a configurable mock Steam Web API server for testing.
// Without a custom handler, GetPlayerSummaries answers from the players
// registered with AddPlayer and every other path returns 404.
type MockSteam struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	players  map[string]MockPlayer

	requestCount int
	pathCount    map[string]int
	lastQuery    map[string]string
	lastHeader   http.Header
}

// NewMockSteam creates a new mock Steam server.
func NewMockSteam() *MockSteam {
	mock := &MockSteam{
		handlers:  make(map[string]http.HandlerFunc),
		players:   make(map[string]MockPlayer),
		pathCount: make(map[string]int),
		lastQuery: make(map[string]string),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCount[r.URL.Path]++
		mock.lastQuery[r.URL.Path] = r.URL.RawQuery
		mock.lastHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSteam) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSteam) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockSteam) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.pathCount = make(map[string]int)
	m.lastQuery = make(map[string]string)
	m.lastHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSteam) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockSteam) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// AddPlayer registers a player served by the default GetPlayerSummaries handler.
func (m *MockSteam) AddPlayer(p MockPlayer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[p.SteamID] = p
}

// SetLevel configures GetSteamLevel to report level for every player.
func (m *MockSteam) SetLevel(level int) {
	m.SetResponse(PathSteamLevel, NewJSONResponse(map[string]any{
		"response": map[string]any{"player_level": level},
	}))
}

// SetFriends configures GetFriendList to return the given friend IDs.
func (m *MockSteam) SetFriends(ids ...string) {
	friends := make([]map[string]any, 0, len(ids))
	for i, id := range ids {
		friends = append(friends, map[string]any{
			"steamid":      id,
			"relationship": "friend",
			"friend_since": 1500000000 + i,
		})
	}
	m.SetResponse(PathFriendList, NewJSONResponse(map[string]any{
		"friendslist": map[string]any{"friends": friends},
	}))
}

// SetGames configures path (owned or recent games) to return games.
func (m *MockSteam) SetGames(path string, games ...map[string]any) {
	m.SetResponse(path, NewJSONResponse(map[string]any{
		"response": map[string]any{
			"game_count": len(games),
			"games":      games,
		},
	}))
}

// RequestCount returns the number of requests made to the server.
func (m *MockSteam) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns the number of requests made to path.
func (m *MockSteam) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCount[path]
}

// LastQuery returns the raw query string of the last request to path.
func (m *MockSteam) LastQuery(path string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery[path]
}

// LastHeader returns the headers of the last request.
func (m *MockSteam) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

func (m *MockSteam) defaultHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != PathPlayerSummaries {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{}`))
		return
	}

	players := []MockPlayer{}
	m.mu.RLock()
	for _, id := range strings.Split(r.URL.Query().Get("steamids"), ",") {
		if p, ok := m.players[id]; ok {
			players = append(players, p)
		}
	}
	m.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"response": map[string]any{"players": players},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewJSONResponse creates a 200 OK response with v encoded as JSON.
func NewJSONResponse(v any) MockResponse {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter time.Duration) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `<html><body>Too Many Requests</body></html>`,
		Headers: map[string]string{
			"Retry-After": strconv.Itoa(int(retryAfter.Seconds())),
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `<html><body>Internal Server Error</body></html>`,
	}
}

// NewForbiddenResponse creates the 403 Steam returns for a bad API key.
func NewForbiddenResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `<html><body>Forbidden</body></html>`,
	}
}

// NewMalformedResponse creates a 200 OK response whose body is not JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"response": `,
	}
}

// NewEmptyResponse creates a 200 OK response with an empty body.
func NewEmptyResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusOK}
}
