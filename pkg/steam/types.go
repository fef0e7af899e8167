package steam

import (
	"cmp"
	"slices"
)

// OnlineStatus is the coarse presence of a player.
type OnlineStatus string

const (
	StatusOnline  OnlineStatus = "Online"
	StatusOffline OnlineStatus = "Offline"
)

// StatusFromPersonaState maps a Steam persona state to an OnlineStatus.
// Any state above 0 (online, busy, away, snooze, looking to trade/play) counts as online.
func StatusFromPersonaState(state int) OnlineStatus {
	if state > 0 {
		return StatusOnline
	}
	return StatusOffline
}

// PlayerSummary is the composite profile header for one player.
type PlayerSummary struct {
	SteamID      string `json:"steamid"`
	DisplayName  string `json:"name"`
	ProfileURL   string `json:"profile_url"`
	AvatarURL    string `json:"avatar"`
	PersonaState int    `json:"persona_state"`
	Level        int    `json:"level"`
}

// Status returns the online status derived from the persona state.
func (s *PlayerSummary) Status() OnlineStatus {
	return StatusFromPersonaState(s.PersonaState)
}

// Game is an owned or recently played game.
type Game struct {
	AppID           int    `json:"appid"`
	Name            string `json:"name"`
	PlaytimeForever int    `json:"playtime_forever"`
	Playtime2Weeks  int    `json:"playtime_2weeks,omitempty"`
	ImgIconURL      string `json:"img_icon_url,omitempty"`
}

// Friend is one entry of a friend list.
type Friend struct {
	SteamID      string `json:"steamid"`
	Relationship string `json:"relationship"`
	FriendSince  int64  `json:"friend_since"`
}

// Profile is the aggregate view of a player.
type Profile struct {
	Summary     *PlayerSummary `json:"summary"`
	Status      OnlineStatus   `json:"status"`
	Friends     []Friend       `json:"friends"`
	FriendCount int            `json:"friend_count"`
	RecentGames []Game         `json:"recent_games"`
	OwnedGames  []Game         `json:"owned_games"`
	GameCount   int            `json:"game_count"`

	// Degraded names the sections that could not be loaded and are empty.
	Degraded []string `json:"degraded,omitempty"`
}

// SortByPlaytime orders games by total playtime, most played first.
func SortByPlaytime(games []Game) {
	slices.SortStableFunc(games, func(a, b Game) int {
		return cmp.Compare(b.PlaytimeForever, a.PlaytimeForever)
	})
}

// Upstream payloads.

type player struct {
	SteamID      string `json:"steamid"`
	PersonaName  string `json:"personaname"`
	ProfileURL   string `json:"profileurl"`
	AvatarFull   string `json:"avatarfull"`
	PersonaState int    `json:"personastate"`
}

func (p player) summary() *PlayerSummary {
	return &PlayerSummary{
		SteamID:      p.SteamID,
		DisplayName:  p.PersonaName,
		ProfileURL:   p.ProfileURL,
		AvatarURL:    p.AvatarFull,
		PersonaState: p.PersonaState,
	}
}

type playerSummariesResponse struct {
	Response *struct {
		Players []player `json:"players"`
	} `json:"response"`
}

type steamLevelResponse struct {
	Response *struct {
		PlayerLevel *int `json:"player_level"`
	} `json:"response"`
}

type friendListResponse struct {
	FriendsList *struct {
		Friends []Friend `json:"friends"`
	} `json:"friendslist"`
}

type gamesResponse struct {
	Response *struct {
		GameCount int    `json:"game_count"`
		Games     []Game `json:"games"`
	} `json:"response"`
}
