package connector

import "matchfabric/internal/state"

// Search is the client's request to be matched into a game
type Search struct {
	Region         string `json:"region"`
	SessionToken   string `json:"session_token"`
	Game           string `json:"game"`
	Mode           string `json:"mode"`
	AI             bool   `json:"ai"`
	AllowReconnect bool   `json:"allow_reconnect"`
}

// Host is the client's request to open a room
type Host struct {
	SessionToken string `json:"session_token"`
	Region       string `json:"region"`
	Game         string `json:"game"`
	Mode         string `json:"mode"`
	Public       bool   `json:"public"`
}

// JoinPub joins an open public room by its id
type JoinPub struct {
	SessionToken string `json:"session_token"`
	HostID       string `json:"host_id"`
}

// JoinPriv joins a private room by its join token
type JoinPriv struct {
	SessionToken string `json:"session_token"`
	JoinToken    string `json:"join_token"`
}

// Match is the payload delivered to a client whose game is ready
type Match struct {
	Address string   `json:"address"`
	Read    string   `json:"read"`
	Write   string   `json:"write"`
	Players []string `json:"players"`
	Game    string   `json:"game"`
	Mode    string   `json:"mode"`
}

// HostInfo is the payload returned after a room was opened
type HostInfo struct {
	HostID    string `json:"host_id"`
	JoinToken string `json:"join_token"`
}

// MatchFromActive builds the client payload for one player of an active match
func MatchFromActive(am state.ActiveMatch, playerID string) Match {
	players := make([]string, 0, len(am.PlayerWrite))
	for id := range am.PlayerWrite {
		players = append(players, id)
	}
	return Match{
		Address: am.ServerPub,
		Read:    am.Read,
		Write:   am.PlayerWrite[playerID],
		Players: players,
		Game:    am.Game,
		Mode:    am.Mode,
	}
}
