package broker

import "encoding/json"

// Queue payloads. Field names are part of the wire contract shared with the
// game servers and the AI service.

// CreateMatch asks a game server to materialize a match. AI mirrors whether
// any AI players take part.
type CreateMatch struct {
	Game      string   `json:"game"`
	Players   []string `json:"players"`
	AIPlayers []string `json:"ai_players"`
	Mode      string   `json:"mode"`
	AI        bool     `json:"ai"`
}

// CreatedMatch is the game server's confirmation carrying the per-player
// write tokens and the shared read token
type CreatedMatch struct {
	Region      string            `json:"region"`
	PlayerWrite map[string]string `json:"player_write"`
	Game        string            `json:"game"`
	Mode        string            `json:"mode"`
	AI          bool              `json:"ai"`
	AIPlayers   []string          `json:"ai_players"`
	Read        string            `json:"read"`
	URLPub      string            `json:"url_pub"`
	URLPriv     string            `json:"url_priv"`
}

// Close reasons reported by game servers
const (
	ReasonAllPlayersDisconnected = "AllPlayersDisconnected"
	ReasonPlayerDidNotJoin       = "PlayerDidNotJoin"
)

// MatchAbruptClose reports a match that ended without a result
type MatchAbruptClose struct {
	MatchID string `json:"match_id"`
	Reason  string `json:"reason"`
}

// Ranking carries the raw per-player performance log of one finished match
type Ranking struct {
	Performances map[string][]string `json:"performances"`
}

// MatchResult is the final outcome of a match, keyed by the read token
type MatchResult struct {
	MatchID  string            `json:"match_id"`
	Winners  map[string]int    `json:"winners"`
	Losers   map[string]int    `json:"losers"`
	Ranking  Ranking           `json:"ranking"`
	EventLog []json.RawMessage `json:"event_log"`
}

// Performance is one scoring dimension of a game
type Performance struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// RankingConf describes how the ranking service should score a game
type RankingConf struct {
	MaxStars     int           `json:"max_stars"`
	Description  string        `json:"description"`
	Performances []Performance `json:"performances"`
}

// GameServerCreate is a game server's registration request
type GameServerCreate struct {
	Region      string      `json:"region"`
	Game        string      `json:"game"`
	Mode        string      `json:"mode"`
	MinPlayers  int         `json:"min_players"`
	MaxPlayers  int         `json:"max_players"`
	ServerPub   string      `json:"server_pub"`
	ServerPriv  string      `json:"server_priv"`
	RankingConf RankingConf `json:"ranking_conf"`
}

// Task instructs the AI service to drive one computer player in a match
type Task struct {
	AILevel int      `json:"ai_level"`
	Game    string   `json:"game"`
	Mode    string   `json:"mode"`
	Address string   `json:"address"`
	Read    string   `json:"read"`
	Write   string   `json:"write"`
	Players []string `json:"players"`
}

// AIPlayerRegister announces a computer player available for AI lobbies
type AIPlayerRegister struct {
	Game        string `json:"game"`
	Mode        string `json:"mode"`
	ELO         int    `json:"elo"`
	DisplayName string `json:"display_name"`
}
