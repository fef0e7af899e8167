package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Sternrassler/steam-bridge/internal/testutil"
	"github.com/Sternrassler/steam-bridge/pkg/cache"
	"github.com/Sternrassler/steam-bridge/pkg/fetch"
	"github.com/Sternrassler/steam-bridge/pkg/ratelimit"
	"github.com/Sternrassler/steam-bridge/pkg/steam"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	testToken = "admin-secret"
	playerOne = "76561198000000001"
	playerTwo = "76561198000000002"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router  *gin.Engine
	store   *cache.Store
	tracker *ratelimit.Tracker
	mock    *testutil.MockSteam
}

type envOptions struct {
	apiKey   string
	durable  cache.Backend
	registry cache.Registry
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	mock := testutil.NewMockSteam()
	t.Cleanup(mock.Close)

	if opts.durable == nil {
		opts.durable = cache.NewMemoryBackend()
	}
	if opts.registry == nil {
		opts.registry = cache.NewMemoryRegistry()
	}
	store := cache.NewStore(nil, opts.durable, opts.registry, cache.Config{})
	store.SetLogger(zerolog.Nop())

	tracker := ratelimit.NewTracker(cache.NewMemoryBackend(), zerolog.Nop())
	gate, err := fetch.New(store, tracker, fetch.DefaultConfig())
	if err != nil {
		t.Fatalf("fetch.New failed: %v", err)
	}
	gate.SetLogger(zerolog.Nop())

	cfg := steam.DefaultConfig(opts.apiKey)
	cfg.BaseURL = mock.URL()
	client, err := steam.New(gate, store, cfg)
	if err != nil {
		t.Fatalf("steam.New failed: %v", err)
	}
	client.SetLogger(zerolog.Nop())

	srv := New(client, store, Options{AdminToken: testToken, Tracker: tracker})
	srv.SetLogger(zerolog.Nop())

	return &testEnv{router: srv.Router(), store: store, tracker: tracker, mock: mock}
}

func (e *testEnv) do(method, target string, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not an envelope: %v (%s)", err, rec.Body.String())
	}
	return env
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	env := decodeEnvelope(t, rec)
	if env.Success {
		t.Fatalf("expected a failed envelope, got %s", rec.Body.String())
	}
	var data ErrorData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("bad error data: %v", err)
	}
	return data.Message
}

func TestNew_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New should panic without a steam client")
		}
	}()
	New(nil, nil, Options{})
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, envOptions{apiKey: "k"})

	rec := env.do("GET", "/health", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("/health = %d %q", rec.Code, rec.Body.String())
	}

	rec = env.do("GET", "/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("/ready = %d", rec.Code)
	}

	rec = env.do("GET", "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "steam_cache_misses_total") {
		t.Errorf("/metrics = %d", rec.Code)
	}
}

type downBackend struct{ *cache.MemoryBackend }

func (downBackend) Ping(context.Context) error { return errors.New("connection refused") }

func TestReady_BackendDown(t *testing.T) {
	env := newTestEnv(t, envOptions{apiKey: "k", durable: downBackend{cache.NewMemoryBackend()}})

	rec := env.do("GET", "/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/ready = %d, want 503", rec.Code)
	}
}

func TestOnlineStatus_Errors(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		target     string
		wantStatus int
		wantCode   string
	}{
		{name: "no ids", apiKey: "k", target: "/v1/status", wantStatus: 400, wantCode: CodeNoSteamIDs},
		{name: "blank ids", apiKey: "k", target: "/v1/status?steamids=" + url.QueryEscape(" , "), wantStatus: 400, wantCode: CodeNoSteamIDs},
		{name: "non numeric", apiKey: "k", target: "/v1/status?steamids=abc,x1", wantStatus: 400, wantCode: CodeInvalidSteamIDs},
		{name: "missing key", apiKey: "", target: "/v1/status?steamids=1", wantStatus: 500, wantCode: CodeMissingAPIKey},
		{name: "ids checked before key", apiKey: "", target: "/v1/status", wantStatus: 400, wantCode: CodeNoSteamIDs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{apiKey: tt.apiKey})

			rec := env.do("GET", tt.target, "", nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if env.mock.RequestCount() != 0 {
				t.Error("rejected request reached upstream")
			}
		})
	}
}

func TestOnlineStatus(t *testing.T) {
	env := newTestEnv(t, envOptions{apiKey: "k"})
	env.mock.AddPlayer(testutil.MockPlayer{SteamID: playerOne, PersonaState: 1})
	env.mock.AddPlayer(testutil.MockPlayer{SteamID: playerTwo, PersonaState: 0})

	for _, method := range []string{"GET", "POST"} {
		t.Run(method, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if method == "GET" {
				rec = env.do("GET", "/v1/status?steamids="+playerOne+",abc,"+playerTwo, "", nil)
			} else {
				rec = env.do("POST", "/v1/status", "steamids="+playerOne+","+playerTwo, nil)
			}
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
			}
			body := decodeEnvelope(t, rec)
			var data map[string]string
			if err := json.Unmarshal(body.Data, &data); err != nil {
				t.Fatal(err)
			}
			if data[playerOne] != "Online" || data[playerTwo] != "Offline" || len(data) != 2 {
				t.Errorf("data = %v", data)
			}
		})
	}
}

func TestOnlineStatus_RemoteErrorKeepsPartialData(t *testing.T) {
	env := newTestEnv(t, envOptions{apiKey: "k"})
	env.mock.AddPlayer(testutil.MockPlayer{SteamID: playerOne, PersonaState: 1})

	if rec := env.do("GET", "/v1/status?steamids="+playerOne, "", nil); rec.Code != http.StatusOK {
		t.Fatalf("warmup status = %d", rec.Code)
	}

	env.mock.SetResponse(testutil.PathPlayerSummaries, testutil.NewServerErrorResponse())
	rec := env.do("GET", "/v1/status?steamids="+playerOne+","+playerTwo, "", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	var body struct {
		Data struct {
			Message string            `json:"message"`
			Partial map[string]string `json:"partial"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Data.Message != CodeRemoteError {
		t.Errorf("message = %q", body.Data.Message)
	}
	if body.Data.Partial[playerOne] != "Online" {
		t.Errorf("partial = %v, want cached status of %s", body.Data.Partial, playerOne)
	}
}

func TestPlayerRoutes(t *testing.T) {
	env := newTestEnv(t, envOptions{apiKey: "k"})
	env.mock.AddPlayer(testutil.MockPlayer{SteamID: playerOne, PersonaName: "gabe", PersonaState: 1})
	env.mock.SetLevel(42)
	env.mock.SetFriends(playerTwo)
	env.mock.SetGames(testutil.PathOwnedGames,
		map[string]any{"appid": 10, "name": "Counter-Strike", "playtime_forever": 5},
		map[string]any{"appid": 570, "name": "Dota 2", "playtime_forever": 900},
	)
	env.mock.SetGames(testutil.PathRecentGames)

	tests := []struct {
		path  string
		check func(t *testing.T, data json.RawMessage)
	}{
		{
			path: "/v1/players/" + playerOne,
			check: func(t *testing.T, data json.RawMessage) {
				var s steam.PlayerSummary
				json.Unmarshal(data, &s)
				if s.DisplayName != "gabe" || s.Level != 42 {
					t.Errorf("summary = %+v", s)
				}
			},
		},
		{
			path: "/v1/players/" + playerOne + "/friends",
			check: func(t *testing.T, data json.RawMessage) {
				var f []steam.Friend
				json.Unmarshal(data, &f)
				if len(f) != 1 || f[0].SteamID != playerTwo {
					t.Errorf("friends = %+v", f)
				}
			},
		},
		{
			path: "/v1/players/" + playerOne + "/games/owned",
			check: func(t *testing.T, data json.RawMessage) {
				var g []steam.Game
				json.Unmarshal(data, &g)
				if len(g) != 2 {
					t.Errorf("owned = %+v", g)
				}
			},
		},
		{
			path: "/v1/players/" + playerOne + "/games/recent",
			check: func(t *testing.T, data json.RawMessage) {
				if string(data) != "[]" {
					t.Errorf("recent = %s, want []", data)
				}
			},
		},
		{
			path: "/v1/players/" + playerOne + "/profile",
			check: func(t *testing.T, data json.RawMessage) {
				var p steam.Profile
				json.Unmarshal(data, &p)
				if p.Summary == nil || p.Summary.DisplayName != "gabe" {
					t.Fatalf("profile = %s", data)
				}
				if len(p.OwnedGames) != 2 || p.OwnedGames[0].AppID != 570 {
					t.Errorf("owned games not sorted by playtime: %+v", p.OwnedGames)
				}
				if p.FriendCount != 1 {
					t.Errorf("FriendCount = %d", p.FriendCount)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := env.do("GET", tt.path, "", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
			}
			body := decodeEnvelope(t, rec)
			if !body.Success {
				t.Fatal("expected success")
			}
			tt.check(t, body.Data)
		})
	}
}

func TestPlayerRoutes_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		path       string
		setup      func(m *testutil.MockSteam)
		wantStatus int
		wantCode   string
	}{
		{name: "invalid id", apiKey: "k", path: "/v1/players/abc", wantStatus: 400, wantCode: CodeInvalidInput},
		{name: "missing key", apiKey: "", path: "/v1/players/" + playerOne, wantStatus: 500, wantCode: CodeMissingAPIKey},
		{name: "unknown player", apiKey: "k", path: "/v1/players/" + playerOne, wantStatus: 404, wantCode: CodeNotFound},
		{
			name:   "upstream down",
			apiKey: "k",
			path:   "/v1/players/" + playerOne + "/friends",
			setup: func(m *testutil.MockSteam) {
				m.SetResponse(testutil.PathFriendList, testutil.NewServerErrorResponse())
			},
			wantStatus: 502,
			wantCode:   CodeRemoteError,
		},
		{
			name:   "malformed",
			apiKey: "k",
			path:   "/v1/players/" + playerOne + "/games/owned",
			setup: func(m *testutil.MockSteam) {
				m.SetResponse(testutil.PathOwnedGames, testutil.NewMalformedResponse())
			},
			wantStatus: 502,
			wantCode:   CodeRemoteError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{apiKey: tt.apiKey})
			if tt.setup != nil {
				tt.setup(env.mock)
			}
			rec := env.do("GET", tt.path, "", nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if strings.Contains(rec.Body.String(), "key=") {
				t.Error("response leaks the upstream URL")
			}
		})
	}
}

func TestAdmin_Auth(t *testing.T) {
	env := newTestEnv(t, envOptions{apiKey: "k"})

	for _, token := range []string{"", "wrong"} {
		rec := env.do("POST", "/admin/cache/flush", "", map[string]string{adminTokenHeader: token})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rec.Code)
		}
	}
}

func TestAdmin_DisabledWithoutToken(t *testing.T) {
	store := cache.NewStore(nil, cache.NewMemoryBackend(), cache.NewMemoryRegistry(), cache.Config{})
	gate, _ := fetch.New(store, nil, fetch.DefaultConfig())
	client, _ := steam.New(gate, store, steam.DefaultConfig("k"))
	router := New(client, store, Options{}).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/admin/cache/flush", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when no admin token is configured", rec.Code)
	}
}

func TestAdmin_CacheRoutes(t *testing.T) {
	env := newTestEnv(t, envOptions{apiKey: "k"})
	auth := map[string]string{adminTokenHeader: testToken}
	ctx := context.Background()

	env.store.Set(ctx, "alpha", []byte(`1`), 0)
	env.store.Set(ctx, "beta", []byte(`2`), 0)

	rec := env.do("DELETE", "/admin/cache/alpha", "", auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if _, err := env.store.Get(ctx, "alpha"); !errors.Is(err, cache.ErrCacheMiss) {
		t.Error("alpha should be gone")
	}
	if _, err := env.store.Get(ctx, "beta"); err != nil {
		t.Error("beta should survive a single delete")
	}

	rec = env.do("POST", "/admin/cache/flush", "", auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("flush status = %d", rec.Code)
	}
	if _, err := env.store.Get(ctx, "beta"); !errors.Is(err, cache.ErrCacheMiss) {
		t.Error("beta should be flushed")
	}
}

type brokenRegistry struct{ *cache.MemoryRegistry }

func (brokenRegistry) Members(context.Context) ([]string, error) {
	return nil, errors.New("registry unavailable")
}

func TestAdmin_FlushFailure(t *testing.T) {
	env := newTestEnv(t, envOptions{apiKey: "k", registry: brokenRegistry{cache.NewMemoryRegistry()}})

	rec := env.do("POST", "/admin/cache/flush", "", map[string]string{adminTokenHeader: testToken})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if code := errorCode(t, rec); code != CodeCacheError {
		t.Errorf("code = %q", code)
	}
}

func TestAdmin_InvalidatePlayer(t *testing.T) {
	env := newTestEnv(t, envOptions{apiKey: "k"})
	env.mock.AddPlayer(testutil.MockPlayer{SteamID: playerOne, PersonaName: "gabe"})
	auth := map[string]string{adminTokenHeader: testToken}

	env.do("GET", "/v1/players/"+playerOne, "", nil)
	env.do("GET", "/v1/players/"+playerOne, "", nil)
	if got := env.mock.PathCount(testutil.PathPlayerSummaries); got != 1 {
		t.Fatalf("summary requests = %d, want 1", got)
	}

	if rec := env.do("DELETE", "/admin/players/"+playerOne+"/cache", "", auth); rec.Code != http.StatusOK {
		t.Fatalf("invalidate status = %d", rec.Code)
	}
	env.do("GET", "/v1/players/"+playerOne, "", nil)
	if got := env.mock.PathCount(testutil.PathPlayerSummaries); got != 2 {
		t.Errorf("summary requests = %d, want a refetch after invalidation", got)
	}

	if rec := env.do("DELETE", "/admin/players/abc/cache", "", auth); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", rec.Code)
	}
}

func TestAdmin_RateLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{apiKey: "k"})
	env.mock.SetResponse(testutil.PathPlayerSummaries, testutil.NewRateLimitResponse(0))
	auth := map[string]string{adminTokenHeader: testToken}

	if rec := env.do("GET", "/v1/players/"+playerOne, "", nil); rec.Code != http.StatusBadGateway {
		t.Fatalf("throttled status = %d, want 502", rec.Code)
	}

	rec := env.do("GET", "/admin/ratelimit", "", auth)
	var body struct {
		Data ratelimit.CooldownState `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Data.CoolingDown {
		t.Error("expected an active cooldown after a 429")
	}

	if rec := env.do("DELETE", "/admin/ratelimit", "", auth); rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	allowed, err := env.tracker.ShouldAllowRequest(context.Background())
	if err != nil || !allowed {
		t.Errorf("ShouldAllowRequest = %v, %v after reset", allowed, err)
	}
}
