// Package steam is the Steam Web API client of the bridge. Each operation
// has its own cache key namespace and TTL and is built on the fetch gate
// and the cache store.
package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Sternrassler/steam-bridge/pkg/batch"
	"github.com/Sternrassler/steam-bridge/pkg/cache"
	"github.com/Sternrassler/steam-bridge/pkg/fetch"
	"github.com/Sternrassler/steam-bridge/pkg/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the public Steam Web API.
const DefaultBaseURL = "https://api.steampowered.com"

// Upstream endpoint paths.
const (
	PathPlayerSummaries = "/ISteamUser/GetPlayerSummaries/v2/"
	PathSteamLevel      = "/IPlayerService/GetSteamLevel/v1/"
	PathFriendList      = "/ISteamUser/GetFriendList/v1/"
	PathRecentGames     = "/IPlayerService/GetRecentlyPlayedGames/v1/"
	PathOwnedGames      = "/IPlayerService/GetOwnedGames/v1/"
)

// Per-call timeouts.
const (
	summaryTimeout = 10 * time.Second
	friendsTimeout = 20 * time.Second
	gamesTimeout   = 15 * time.Second
)

var (
	// ErrMissingCredential is returned when no API key is configured.
	ErrMissingCredential = fmt.Errorf("%w: missing Steam API key", fetch.ErrInvalidInput)

	// ErrPartialResult marks a bulk result that lacks the IDs whose
	// upstream lookup failed.
	ErrPartialResult = errors.New("partial result")

	steamIDPattern = regexp.MustCompile(`^\d+$`)
)

// TTLConfig holds per-entity cache lifetimes.
type TTLConfig struct {
	Summary time.Duration
	Level   time.Duration
	Friends time.Duration
	Owned   time.Duration
	Recent  time.Duration
	Status  time.Duration
}

// DefaultTTLConfig returns the standard cache lifetimes.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Summary: 6 * time.Hour,
		Level:   12 * time.Hour,
		Friends: 6 * time.Hour,
		Owned:   12 * time.Hour,
		Recent:  3 * time.Hour,
		Status:  30 * time.Second,
	}
}

// Config holds the client configuration.
type Config struct {
	// APIKey is the Steam Web API key. Operations fail with
	// ErrMissingCredential while it is empty.
	APIKey string

	// BaseURL overrides the upstream (default DefaultBaseURL)
	BaseURL string

	// TTL holds cache lifetimes; zero fields use the defaults
	TTL TTLConfig

	// MaxIDsPerRequest caps IDs per GetPlayerSummaries call (default 100)
	MaxIDsPerRequest int

	// MaxConcurrency bounds parallel chunk requests in bulk lookups (default 4)
	MaxConcurrency int
}

// DefaultConfig returns a configuration for the public Steam Web API.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:           apiKey,
		BaseURL:          DefaultBaseURL,
		TTL:              DefaultTTLConfig(),
		MaxIDsPerRequest: batch.DefaultConfig().MaxPerRequest,
		MaxConcurrency:   batch.DefaultConfig().MaxConcurrency,
	}
}

// Client is the Steam Web API client.
type Client struct {
	gate     *fetch.Gate
	store    *cache.Store
	config   Config
	group    singleflight.Group
	statuses *batch.Fetcher[player]
	logger   zerolog.Logger
}

// New creates a new Steam client.
func New(gate *fetch.Gate, store *cache.Store, cfg Config) (*Client, error) {
	if gate == nil {
		return nil, fmt.Errorf("fetch gate is required")
	}
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if _, err := fetch.ValidateURL(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.TTL = withDefaultTTLs(cfg.TTL)

	c := &Client{
		gate:   gate,
		store:  store,
		config: cfg,
		logger: logging.NewLogger("steam-client"),
	}
	c.statuses = batch.NewFetcher(c.fetchPlayers, batch.Config{
		MaxPerRequest:  cfg.MaxIDsPerRequest,
		MaxConcurrency: cfg.MaxConcurrency,
	})
	return c, nil
}

func withDefaultTTLs(ttl TTLConfig) TTLConfig {
	def := DefaultTTLConfig()
	pick := func(v, fallback time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return fallback
	}
	return TTLConfig{
		Summary: pick(ttl.Summary, def.Summary),
		Level:   pick(ttl.Level, def.Level),
		Friends: pick(ttl.Friends, def.Friends),
		Owned:   pick(ttl.Owned, def.Owned),
		Recent:  pick(ttl.Recent, def.Recent),
		Status:  pick(ttl.Status, def.Status),
	}
}

// SetLogger replaces the client logger.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// HasCredential reports whether an API key is configured.
func (c *Client) HasCredential() bool {
	return c.config.APIKey != ""
}

// GetPlayerSummary returns the summary of one player, including the Steam level.
// A failed level lookup leaves Level at 0. Unknown players yield fetch.ErrNotFound.
func (c *Client) GetPlayerSummary(ctx context.Context, steamID string) (*PlayerSummary, error) {
	if err := c.checkCredential(); err != nil {
		return nil, err
	}
	steamID, err := ValidateSteamID(steamID)
	if err != nil {
		return nil, err
	}

	return cached(ctx, c, CacheKey(NamespaceSummary, steamID), c.config.TTL.Summary,
		func(ctx context.Context) (*PlayerSummary, error) {
			players, err := c.fetchPlayers(ctx, []string{steamID})
			if err != nil {
				return nil, err
			}
			p, ok := players[steamID]
			if !ok {
				return nil, &fetch.Error{
					Kind:     fetch.ErrNotFound,
					Endpoint: PathPlayerSummaries,
					Message:  "no player " + steamID,
				}
			}
			summary := p.summary()
			summary.Level = c.level(ctx, steamID)
			return summary, nil
		})
}

// level resolves the Steam level under its own cache entry.
func (c *Client) level(ctx context.Context, steamID string) int {
	level, err := cached(ctx, c, CacheKey(NamespaceLevel, steamID), c.config.TTL.Level,
		func(ctx context.Context) (int, error) {
			var resp steamLevelResponse
			err := c.getJSON(ctx, PathSteamLevel, url.Values{"steamid": {steamID}}, summaryTimeout, &resp)
			if err != nil {
				return 0, err
			}
			if resp.Response == nil || resp.Response.PlayerLevel == nil {
				return 0, malformed(PathSteamLevel, "missing player_level")
			}
			return *resp.Response.PlayerLevel, nil
		})
	if err != nil {
		c.logger.Warn().Err(err).Str("steam_id", steamID).Msg("Level lookup failed - defaulting to 0")
		return 0
	}
	return level
}

// GetFriends returns the friend list of a player.
// A player without friends yields an empty, non-nil slice.
func (c *Client) GetFriends(ctx context.Context, steamID string) ([]Friend, error) {
	if err := c.checkCredential(); err != nil {
		return nil, err
	}
	steamID, err := ValidateSteamID(steamID)
	if err != nil {
		return nil, err
	}

	return cached(ctx, c, CacheKey(NamespaceFriends, steamID), c.config.TTL.Friends,
		func(ctx context.Context) ([]Friend, error) {
			var resp friendListResponse
			err := c.getJSON(ctx, PathFriendList, url.Values{
				"steamid":      {steamID},
				"relationship": {"friend"},
			}, friendsTimeout, &resp)
			if err != nil {
				return nil, err
			}
			if resp.FriendsList == nil {
				return nil, malformed(PathFriendList, "missing friendslist")
			}
			if resp.FriendsList.Friends == nil {
				return []Friend{}, nil
			}
			return resp.FriendsList.Friends, nil
		})
}

// GetOwnedGames returns the games a player owns, including free-to-play titles.
func (c *Client) GetOwnedGames(ctx context.Context, steamID string) ([]Game, error) {
	return c.games(ctx, steamID, NamespaceOwned, PathOwnedGames, c.config.TTL.Owned, url.Values{
		"include_appinfo":           {"true"},
		"include_played_free_games": {"true"},
	})
}

// GetRecentGames returns the games a player played in the last two weeks.
func (c *Client) GetRecentGames(ctx context.Context, steamID string) ([]Game, error) {
	return c.games(ctx, steamID, NamespaceRecent, PathRecentGames, c.config.TTL.Recent, url.Values{})
}

func (c *Client) games(ctx context.Context, steamID, namespace, path string, ttl time.Duration, params url.Values) ([]Game, error) {
	if err := c.checkCredential(); err != nil {
		return nil, err
	}
	steamID, err := ValidateSteamID(steamID)
	if err != nil {
		return nil, err
	}

	return cached(ctx, c, CacheKey(namespace, steamID), ttl,
		func(ctx context.Context) ([]Game, error) {
			params.Set("steamid", steamID)
			var resp gamesResponse
			if err := c.getJSON(ctx, path, params, gamesTimeout, &resp); err != nil {
				return nil, err
			}
			if resp.Response == nil {
				return nil, malformed(path, "missing response")
			}
			// Private profiles and players without games answer with an
			// empty response object.
			if resp.Response.Games == nil {
				return []Game{}, nil
			}
			return resp.Response.Games, nil
		})
}

// GetBulkOnlineStatus returns the online status of every valid ID in ids.
// Blank, non-numeric and duplicate IDs are dropped. Cached statuses are
// served directly; the rest are looked up in as few upstream requests as
// the per-request ID limit allows. IDs unknown upstream are absent from the
// result. When a lookup fails the statuses obtained so far are returned with
// an error wrapping ErrPartialResult and the upstream cause.
func (c *Client) GetBulkOnlineStatus(ctx context.Context, ids []string) (map[string]OnlineStatus, error) {
	if err := c.checkCredential(); err != nil {
		return nil, err
	}
	steamIDs := FilterSteamIDs(ids)
	if len(steamIDs) == 0 {
		return nil, &fetch.Error{Kind: fetch.ErrInvalidInput, Message: "no valid steam ids"}
	}

	result := make(map[string]OnlineStatus, len(steamIDs))
	misses := make([]string, 0, len(steamIDs))
	for _, id := range steamIDs {
		var status OnlineStatus
		if err := c.store.GetJSON(ctx, CacheKey(NamespaceStatus, id), &status); err == nil {
			result[id] = status
			continue
		}
		misses = append(misses, id)
	}

	c.logger.Debug().
		Int("requested", len(steamIDs)).
		Int("cached", len(result)).
		Int("to_query", len(misses)).
		Msg("Bulk online status lookup")

	if len(misses) == 0 {
		return result, nil
	}

	players, fetchErr := c.statuses.FetchAll(ctx, misses)
	for id, p := range players {
		status := StatusFromPersonaState(p.PersonaState)
		result[id] = status
		if err := c.store.SetJSON(ctx, CacheKey(NamespaceStatus, id), status, c.config.TTL.Status); err != nil {
			c.logger.Warn().Err(err).Str("steam_id", id).Msg("Failed to cache online status")
		}
	}

	if fetchErr != nil {
		c.logger.Warn().
			Err(fetchErr).
			Int("returned", len(result)).
			Int("requested", len(steamIDs)).
			Msg("Bulk online status lookup incomplete")
		return result, fmt.Errorf("%w: %w", ErrPartialResult, fetchErr)
	}
	return result, nil
}

// GetProfile returns the aggregate profile of a player. The summary is
// required; friends and game lists fall back to empty lists on failure and
// are named in Profile.Degraded. Game lists are sorted by playtime.
func (c *Client) GetProfile(ctx context.Context, steamID string) (*Profile, error) {
	summary, err := c.GetPlayerSummary(ctx, steamID)
	if err != nil {
		return nil, err
	}
	steamID = summary.SteamID

	profile := &Profile{
		Summary:     summary,
		Status:      summary.Status(),
		Friends:     []Friend{},
		RecentGames: []Game{},
		OwnedGames:  []Game{},
	}

	var (
		g                    errgroup.Group
		friendsErr, ownedErr error
		recentErr            error
	)
	g.Go(func() error {
		friends, err := c.GetFriends(ctx, steamID)
		if err == nil {
			profile.Friends = friends
		}
		friendsErr = err
		return nil
	})
	g.Go(func() error {
		games, err := c.GetRecentGames(ctx, steamID)
		if err == nil {
			profile.RecentGames = games
		}
		recentErr = err
		return nil
	})
	g.Go(func() error {
		games, err := c.GetOwnedGames(ctx, steamID)
		if err == nil {
			profile.OwnedGames = games
		}
		ownedErr = err
		return nil
	})
	_ = g.Wait()

	for _, part := range []struct {
		name string
		err  error
	}{
		{"friends", friendsErr},
		{"recent_games", recentErr},
		{"owned_games", ownedErr},
	} {
		if part.err != nil {
			profile.Degraded = append(profile.Degraded, part.name)
			c.logger.Warn().Err(part.err).Str("steam_id", steamID).Str("section", part.name).Msg("Profile section unavailable")
		}
	}

	SortByPlaytime(profile.RecentGames)
	SortByPlaytime(profile.OwnedGames)
	profile.FriendCount = len(profile.Friends)
	profile.GameCount = len(profile.OwnedGames)

	return profile, nil
}

// InvalidatePlayer removes every cached entry of a player.
func (c *Client) InvalidatePlayer(ctx context.Context, steamID string) error {
	steamID, err := ValidateSteamID(steamID)
	if err != nil {
		return err
	}
	var errs []error
	for _, key := range PlayerCacheKeys(steamID) {
		if err := c.store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fetchPlayers looks up summaries for up to one chunk of IDs, keyed by Steam ID.
func (c *Client) fetchPlayers(ctx context.Context, ids []string) (map[string]player, error) {
	var resp playerSummariesResponse
	err := c.getJSON(ctx, PathPlayerSummaries, url.Values{"steamids": {strings.Join(ids, ",")}}, summaryTimeout, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Response == nil {
		return nil, malformed(PathPlayerSummaries, "missing response")
	}
	players := make(map[string]player, len(resp.Response.Players))
	for _, p := range resp.Response.Players {
		if p.SteamID != "" {
			players[p.SteamID] = p
		}
	}
	return players, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, timeout time.Duration, dst any) error {
	params.Set("key", c.config.APIKey)
	body, err := c.gate.FetchTimeout(ctx, c.config.BaseURL+path+"?"+params.Encode(), timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &fetch.Error{
			Kind:     fetch.ErrMalformedResponse,
			Class:    fetch.ErrorClassMalformed,
			Endpoint: path,
			Message:  "unexpected JSON shape",
			Err:      err,
		}
	}
	return nil
}

func (c *Client) checkCredential() error {
	if !c.HasCredential() {
		return ErrMissingCredential
	}
	return nil
}

// cached serves rawKey from the store, or loads, stores and returns it.
// Concurrent misses for the same key share one load; each caller decodes its
// own copy of the result. Failed loads are never stored.
func cached[T any](ctx context.Context, c *Client, rawKey string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var v T
	err := c.store.GetJSON(ctx, rawKey, &v)
	if err == nil {
		c.logger.Debug().Str("key", rawKey).Msg("Cache hit")
		return v, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn().Err(err).Str("key", rawKey).Msg("Cache get error")
	}

	ch := c.group.DoChan(rawKey, func() (any, error) {
		// The flight outlives a single caller; the gate bounds it with its timeout.
		loaded, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(loaded)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", rawKey, err)
		}
		if err := c.store.Set(context.WithoutCancel(ctx), rawKey, data, ttl); err != nil {
			c.logger.Warn().Err(err).Str("key", rawKey).Msg("Failed to cache value")
		}
		return data, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, &fetch.Error{Kind: fetch.ErrUpstreamUnavailable, Class: fetch.ErrorClassNetwork, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		var out T
		if err := json.Unmarshal(res.Val.([]byte), &out); err != nil {
			return zero, fmt.Errorf("decode %s: %w", rawKey, err)
		}
		return out, nil
	}
}

func malformed(path, msg string) error {
	return &fetch.Error{
		Kind:     fetch.ErrMalformedResponse,
		Class:    fetch.ErrorClassMalformed,
		Endpoint: path,
		Message:  msg,
	}
}

// ValidateSteamID trims id and requires it to be all digits.
func ValidateSteamID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if !steamIDPattern.MatchString(id) {
		return "", &fetch.Error{Kind: fetch.ErrInvalidInput, Message: fmt.Sprintf("invalid steam id %q", id)}
	}
	return id, nil
}

// FilterSteamIDs trims ids and keeps the numeric ones, without duplicates,
// in their original order.
func FilterSteamIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if !steamIDPattern.MatchString(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
