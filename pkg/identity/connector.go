// Package identity links Steam OpenID sign-ins to application users.
//
// The OpenID verification handshake and the user database stay with the
// embedding application; they are plugged in through the Verifier and
// UserStore interfaces. The connector decides what a verified callback
// means: link the Steam account to the signed-in user, log an existing
// user in, or register a new one.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/Sternrassler/steam-bridge/pkg/logging"
	"github.com/Sternrassler/steam-bridge/pkg/steam"
	"github.com/rs/zerolog"
)

const (
	// OpenIDEndpoint is the Steam OpenID 2.0 provider.
	OpenIDEndpoint = "https://steamcommunity.com/openid/login"

	openIDNamespace  = "http://specs.openid.net/auth/2.0"
	identifierSelect = "http://specs.openid.net/auth/2.0/identifier_select"

	// FallbackUsername is used when a persona name has no usable characters.
	FallbackUsername = "steam_user"

	// FallbackDisplayName is used when the persona name is unknown.
	FallbackDisplayName = "Steam User"

	maxUsernameAttempts = 1000
)

var (
	// ErrInvalidCallback indicates a callback that is not a positive OpenID assertion.
	ErrInvalidCallback = errors.New("invalid openid callback")

	// ErrInvalidClaimedID indicates a claimed identifier that is not a Steam ID URL.
	ErrInvalidClaimedID = errors.New("invalid claimed id")

	// ErrVerificationFailed indicates the provider rejected the assertion.
	ErrVerificationFailed = errors.New("openid verification failed")

	// ErrSteamIDTaken indicates the Steam account is linked to another user.
	ErrSteamIDTaken = errors.New("steam account already linked to another user")

	// ErrNotSignedIn indicates an operation that needs a signed-in user.
	ErrNotSignedIn = errors.New("no signed-in user")

	claimedIDPattern = regexp.MustCompile(`^https?://steamcommunity\.com/openid/id/(\d+)$`)
	usernameStrip    = regexp.MustCompile(`[^A-Za-z0-9 _.@-]+`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// Verifier checks an OpenID positive assertion with the provider.
// It returns whether the assertion is valid and the claimed identifier it
// vouches for.
type Verifier interface {
	Verify(ctx context.Context, params url.Values) (verified bool, claimedID string, err error)
}

// NewUser describes a user to register.
type NewUser struct {
	Username    string
	Email       string
	DisplayName string
	SteamID     string
}

// UserStore is the application's user database.
type UserStore interface {
	// FindBySteamID returns the user linked to steamID, if any.
	FindBySteamID(ctx context.Context, steamID string) (userID string, found bool, err error)

	// CreateUser registers a user already linked to u.SteamID.
	CreateUser(ctx context.Context, u NewUser) (userID string, err error)

	LinkSteamID(ctx context.Context, userID, steamID string) error
	UnlinkSteamID(ctx context.Context, userID string) error
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
}

// ProfileSource provides persona names for new registrations.
// *steam.Client satisfies it.
type ProfileSource interface {
	GetPlayerSummary(ctx context.Context, steamID string) (*steam.PlayerSummary, error)
}

// Outcome is what a callback did.
type Outcome string

const (
	OutcomeLinked     Outcome = "steam_connected"
	OutcomeLoggedIn   Outcome = "steam_logged_in"
	OutcomeRegistered Outcome = "steam_registered"
)

// Result describes a handled callback.
type Result struct {
	Outcome Outcome
	UserID  string
	SteamID string
}

// Connector handles Steam sign-in callbacks.
type Connector struct {
	verifier Verifier
	users    UserStore
	profiles ProfileSource
	logger   zerolog.Logger
}

// NewConnector creates a connector. profiles may be nil, in which case new
// users are named after their Steam ID.
func NewConnector(verifier Verifier, users UserStore, profiles ProfileSource) *Connector {
	if verifier == nil {
		panic("verifier cannot be nil")
	}
	if users == nil {
		panic("user store cannot be nil")
	}
	return &Connector{
		verifier: verifier,
		users:    users,
		profiles: profiles,
		logger:   logging.NewLogger("identity"),
	}
}

// SetLogger replaces the connector logger.
func (c *Connector) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// LoginURL builds the checkid_setup redirect to the Steam OpenID provider.
func LoginURL(returnTo, realm string) (string, error) {
	for _, u := range []string{returnTo, realm} {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return "", fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidCallback, u)
		}
	}
	params := url.Values{
		"openid.ns":         {openIDNamespace},
		"openid.mode":       {"checkid_setup"},
		"openid.return_to":  {returnTo},
		"openid.realm":      {realm},
		"openid.identity":   {identifierSelect},
		"openid.claimed_id": {identifierSelect},
	}
	return OpenIDEndpoint + "?" + params.Encode(), nil
}

// ParseClaimedID extracts the Steam ID from an OpenID claimed identifier.
func ParseClaimedID(claimedID string) (string, error) {
	m := claimedIDPattern.FindStringSubmatch(claimedID)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidClaimedID, claimedID)
	}
	return m[1], nil
}

// HandleCallback processes the provider's redirect back to the application.
// currentUserID is the signed-in user, or empty for anonymous visitors.
func (c *Connector) HandleCallback(ctx context.Context, params url.Values, currentUserID string) (*Result, error) {
	if params.Get("openid.mode") != "id_res" {
		return nil, fmt.Errorf("%w: mode %q", ErrInvalidCallback, params.Get("openid.mode"))
	}
	claimedID := params.Get("openid.claimed_id")
	steamID, err := ParseClaimedID(claimedID)
	if err != nil {
		return nil, err
	}

	verified, vouched, err := c.verifier.Verify(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	if !verified || (vouched != "" && vouched != claimedID) {
		c.logger.Warn().Str("steam_id", steamID).Msg("OpenID assertion rejected")
		return nil, ErrVerificationFailed
	}

	existing, found, err := c.users.FindBySteamID(ctx, steamID)
	if err != nil {
		return nil, fmt.Errorf("find user by steam id: %w", err)
	}

	if currentUserID != "" {
		if found && existing != currentUserID {
			c.logger.Warn().
				Str("steam_id", steamID).
				Str("user_id", currentUserID).
				Msg("Steam account already linked to another user")
			return nil, ErrSteamIDTaken
		}
		if err := c.users.LinkSteamID(ctx, currentUserID, steamID); err != nil {
			return nil, fmt.Errorf("link steam id: %w", err)
		}
		c.logger.Info().Str("steam_id", steamID).Str("user_id", currentUserID).Msg("Steam account connected")
		return &Result{Outcome: OutcomeLinked, UserID: currentUserID, SteamID: steamID}, nil
	}

	if found {
		c.logger.Info().Str("steam_id", steamID).Str("user_id", existing).Msg("Steam login")
		return &Result{Outcome: OutcomeLoggedIn, UserID: existing, SteamID: steamID}, nil
	}

	userID, err := c.register(ctx, steamID)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("steam_id", steamID).Str("user_id", userID).Msg("Registered user from Steam")
	return &Result{Outcome: OutcomeRegistered, UserID: userID, SteamID: steamID}, nil
}

// Disconnect removes the Steam link of a signed-in user.
func (c *Connector) Disconnect(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrNotSignedIn
	}
	if err := c.users.UnlinkSteamID(ctx, userID); err != nil {
		return fmt.Errorf("unlink steam id: %w", err)
	}
	c.logger.Info().Str("user_id", userID).Msg("Steam account disconnected")
	return nil
}

func (c *Connector) register(ctx context.Context, steamID string) (string, error) {
	persona := c.personaName(ctx, steamID)

	base := persona
	if base == "" {
		base = "steam_" + steamID
	}
	username, err := c.uniqueUsername(ctx, base)
	if err != nil {
		return "", err
	}

	email := fmt.Sprintf("steam_%s@users.local", steamID)
	exists, err := c.users.EmailExists(ctx, email)
	if err != nil {
		return "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		email = fmt.Sprintf("steam_%s_%s@users.local", steamID, randomSuffix())
	}

	displayName := persona
	if displayName == "" {
		displayName = FallbackDisplayName
	}

	userID, err := c.users.CreateUser(ctx, NewUser{
		Username:    username,
		Email:       email,
		DisplayName: displayName,
		SteamID:     steamID,
	})
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return userID, nil
}

// personaName looks up the persona name; failures leave it empty.
func (c *Connector) personaName(ctx context.Context, steamID string) string {
	if c.profiles == nil {
		return ""
	}
	summary, err := c.profiles.GetPlayerSummary(ctx, steamID)
	if err != nil {
		c.logger.Warn().Err(err).Str("steam_id", steamID).Msg("Persona lookup failed")
		return ""
	}
	return strings.TrimSpace(summary.DisplayName)
}

func (c *Connector) uniqueUsername(ctx context.Context, base string) (string, error) {
	username := SanitizeUsername(base)
	if username == "" {
		username = FallbackUsername
	}

	candidate := username
	for suffix := 1; suffix <= maxUsernameAttempts; suffix++ {
		exists, err := c.users.UsernameExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check username: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = username + "_" + strconv.Itoa(suffix)
	}
	return "", fmt.Errorf("no free username for %q after %d attempts", username, maxUsernameAttempts)
}

// SanitizeUsername keeps ASCII letters, digits, spaces and _ . @ -,
// collapsing whitespace runs.
func SanitizeUsername(name string) string {
	name = usernameStrip.ReplaceAllString(name, "")
	name = whitespaceRun.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

func randomSuffix() string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "000000"
	}
	return hex.EncodeToString(b)
}
