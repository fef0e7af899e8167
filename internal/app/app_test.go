package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/steam-bridge/internal/config"
	"github.com/Sternrassler/steam-bridge/internal/testutil"
	"github.com/Sternrassler/steam-bridge/pkg/fetch"
	"github.com/redis/go-redis/v9"
)

const testSteamID = "76561198000000001"

func testConfig(backend, baseURL string) *config.Config {
	return &config.Config{
		SteamAPIKey:  "test-key",
		SteamBaseURL: baseURL,
		CacheBackend: backend,
		RedisURL:     "redis://localhost:6379/15",
		ProfileTTL:   6 * time.Hour,
		FetchTimeout: 5 * time.Second,
		UserAgent:    "steam-bridge-test",
	}
}

func TestBuild_Memory(t *testing.T) {
	mock := testutil.NewMockSteam()
	defer mock.Close()
	mock.AddPlayer(testutil.MockPlayer{SteamID: testSteamID, PersonaName: "gabe", PersonaState: 1})
	mock.SetLevel(10)

	a, err := Build(context.Background(), testConfig(config.BackendMemory, mock.URL()))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer a.Close()

	if a.Fast != nil {
		t.Error("memory backend should run without a separate fast tier")
	}

	summary, err := a.Steam.GetPlayerSummary(context.Background(), testSteamID)
	if err != nil {
		t.Fatalf("GetPlayerSummary failed: %v", err)
	}
	if summary.DisplayName != "gabe" || summary.Level != 10 {
		t.Errorf("summary = %+v", summary)
	}
	if got := mock.LastHeader().Get("User-Agent"); got != "steam-bridge-test" {
		t.Errorf("User-Agent = %q", got)
	}

	// second call is served from the cache
	before := mock.RequestCount()
	if _, err := a.Steam.GetPlayerSummary(context.Background(), testSteamID); err != nil {
		t.Fatal(err)
	}
	if mock.RequestCount() != before {
		t.Error("expected a cache hit")
	}
}

func TestBuild_Bolt(t *testing.T) {
	mock := testutil.NewMockSteam()
	defer mock.Close()
	mock.AddPlayer(testutil.MockPlayer{SteamID: testSteamID, PersonaName: "gabe"})

	cfg := testConfig(config.BackendBolt, mock.URL())
	cfg.BoltPath = filepath.Join(t.TempDir(), "bridge.db")

	a, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if a.Fast == nil {
		t.Error("bolt backend should get a memory fast tier")
	}
	if _, err := a.Steam.GetPlayerSummary(context.Background(), testSteamID); err != nil {
		t.Fatalf("GetPlayerSummary failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// reopen: the durable tier still has the summary
	a, err = Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer a.Close()

	before := mock.RequestCount()
	if _, err := a.Steam.GetPlayerSummary(context.Background(), testSteamID); err != nil {
		t.Fatal(err)
	}
	if mock.RequestCount() != before {
		t.Error("expected the summary from the bolt file")
	}
}

func TestBuild_Redis(t *testing.T) {
	probe := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := probe.Ping(ctx).Err(); err != nil {
		probe.Close()
		t.Skipf("Redis not available: %v", err)
	}
	probe.FlushDB(context.Background())
	probe.Close()

	a, err := Build(context.Background(), testConfig(config.BackendRedis, "http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer a.Close()

	if err := a.Store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "bad redis url",
			mutate:  func(c *config.Config) { c.CacheBackend = config.BackendRedis; c.RedisURL = "mysql://nope" },
			wantErr: "REDIS_URL",
		},
		{
			name:    "redis unreachable",
			mutate:  func(c *config.Config) { c.CacheBackend = config.BackendRedis; c.RedisURL = "redis://127.0.0.1:1/0" },
			wantErr: "connect to redis",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *config.Config) { c.CacheBackend = "memcached" },
			wantErr: "unknown cache backend",
		},
		{
			name:    "bad base url",
			mutate:  func(c *config.Config) { c.SteamBaseURL = "ftp://example.com" },
			wantErr: "base url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(config.BackendMemory, "http://127.0.0.1:1")
			tt.mutate(cfg)

			_, err := Build(context.Background(), cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Build error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuild_MissingKey(t *testing.T) {
	cfg := testConfig(config.BackendMemory, "http://127.0.0.1:1")
	cfg.SteamAPIKey = ""

	a, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build should succeed without a key: %v", err)
	}
	defer a.Close()

	_, err = a.Steam.GetPlayerSummary(context.Background(), testSteamID)
	if !errors.Is(err, fetch.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for a missing key, got %v", err)
	}
}
