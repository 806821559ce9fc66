package api

import "matchfabric/internal/state"

// Response shapes. Private server addresses and write tokens never appear in
// listings; write tokens are only handed out via the authenticated lookup.

// ActiveMatch is the public view of a live match
type ActiveMatch struct {
	UUID    string   `json:"uuid"`
	Game    string   `json:"game"`
	Mode    string   `json:"mode"`
	AI      bool     `json:"ai"`
	Address string   `json:"address"`
	Region  string   `json:"region"`
	Read    string   `json:"read"`
	Players []string `json:"players"`
}

func activeMatchView(m state.ActiveMatch) ActiveMatch {
	players := make([]string, 0, len(m.PlayerWrite))
	for p := range m.PlayerWrite {
		players = append(players, p)
	}
	return ActiveMatch{
		UUID:    m.ID,
		Game:    m.Game,
		Mode:    m.Mode,
		AI:      m.AI,
		Address: m.ServerPub,
		Region:  m.Region,
		Read:    m.Read,
		Players: players,
	}
}

// GameServer is the public view of a registered server
type GameServer struct {
	UUID       string `json:"uuid"`
	Region     string `json:"region"`
	Game       string `json:"game"`
	Mode       string `json:"mode"`
	Address    string `json:"address"`
	Healthy    bool   `json:"healthy"`
	MinPlayers int    `json:"min_players"`
	MaxPlayers int    `json:"max_players"`
}

func gameServerView(s state.GameServer) GameServer {
	return GameServer{
		UUID:       s.ID,
		Region:     s.Region,
		Game:       s.Game,
		Mode:       s.Mode,
		Address:    s.ServerPub,
		Healthy:    s.Healthy,
		MinPlayers: s.MinPlayers,
		MaxPlayers: s.MaxPlayers,
	}
}

// HostRequest is the public view of an open room. The join token stays
// private.
type HostRequest struct {
	UUID            string   `json:"uuid"`
	HostPlayerID    string   `json:"host_player_id"`
	Game            string   `json:"game"`
	Mode            string   `json:"mode"`
	Region          string   `json:"region"`
	ReservedPlayers []string `json:"reserved_players"`
	JoinedPlayers   []string `json:"joined_players"`
	StartRequested  bool     `json:"start_requested"`
	MinPlayers      int      `json:"min_players"`
	MaxPlayers      int      `json:"max_players"`
}

func hostRequestView(r state.HostRequest) HostRequest {
	return HostRequest{
		UUID:            r.ID,
		HostPlayerID:    r.PlayerID,
		Game:            r.Game,
		Mode:            r.Mode,
		Region:          r.Region,
		ReservedPlayers: r.ReservedPlayers,
		JoinedPlayers:   r.JoinedPlayers,
		StartRequested:  r.StartRequested,
		MinPlayers:      r.MinPlayers,
		MaxPlayers:      r.MaxPlayers,
	}
}

// AIPlayer is the public view of a registered computer player
type AIPlayer struct {
	UUID        string `json:"uuid"`
	Game        string `json:"game"`
	Mode        string `json:"mode"`
	ELO         int    `json:"elo"`
	DisplayName string `json:"display_name"`
}

func aiPlayerView(p state.AIPlayer) AIPlayer {
	return AIPlayer{
		UUID:        p.ID,
		Game:        p.Game,
		Mode:        p.Mode,
		ELO:         p.ELO,
		DisplayName: p.DisplayName,
	}
}
