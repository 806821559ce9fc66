package state

import "time"

// Entity kinds. The kind doubles as the id suffix and the event channel
// discriminator.
const (
	KindGameServer  = "game_servers"
	KindSearcher    = "searchers"
	KindHostRequest = "host_requests"
	KindActiveMatch = "active_matches"
	KindAIPlayer    = "ai_players"
)

// GameServer is one registered game server of the fleet. Healthy tracks
// whether a heartbeat arrived within the client timeout window.
type GameServer struct {
	ID         string
	Region     string
	Game       string
	Mode       string
	ServerPub  string
	ServerPriv string
	Healthy    bool
	MinPlayers int
	MaxPlayers int
}

func encodeGameServer(w *fieldWriter, v GameServer) {
	w.str("region", v.Region)
	w.str("game", v.Game)
	w.str("mode", v.Mode)
	w.str("server_pub", v.ServerPub)
	w.str("server_priv", v.ServerPriv)
	w.boolean("healthy", v.Healthy)
	w.num("min_players", v.MinPlayers)
	w.num("max_players", v.MaxPlayers)
}

func decodeGameServer(r *fieldReader, id string) GameServer {
	return GameServer{
		ID:         id,
		Region:     r.str("region"),
		Game:       r.str("game"),
		Mode:       r.str("mode"),
		ServerPub:  r.str("server_pub"),
		ServerPriv: r.str("server_priv"),
		Healthy:    r.boolean("healthy"),
		MinPlayers: r.num("min_players"),
		MaxPlayers: r.num("max_players"),
	}
}

// GameServerUpdate is a partial update; nil fields are left untouched
type GameServerUpdate struct {
	Region     *string
	Game       *string
	Mode       *string
	ServerPub  *string
	ServerPriv *string
	Healthy    *bool
	MinPlayers *int
	MaxPlayers *int
}

func (u GameServerUpdate) appendFields(w *fieldWriter) {
	if u.Region != nil {
		w.str("region", *u.Region)
	}
	if u.Game != nil {
		w.str("game", *u.Game)
	}
	if u.Mode != nil {
		w.str("mode", *u.Mode)
	}
	if u.ServerPub != nil {
		w.str("server_pub", *u.ServerPub)
	}
	if u.ServerPriv != nil {
		w.str("server_priv", *u.ServerPriv)
	}
	if u.Healthy != nil {
		w.boolean("healthy", *u.Healthy)
	}
	if u.MinPlayers != nil {
		w.num("min_players", *u.MinPlayers)
	}
	if u.MaxPlayers != nil {
		w.num("max_players", *u.MaxPlayers)
	}
}

// GameServers opens the game-server collection on the store
func GameServers(s *Store) *Collection[GameServer] {
	return newCollection(s, KindGameServer, encodeGameServer, decodeGameServer)
}

// Searcher is one pending request by a player to be matched into a game
type Searcher struct {
	ID         string
	PlayerID   string
	ELO        int
	Game       string
	Mode       string
	AI         bool
	Region     string
	MinPlayers int
	MaxPlayers int
	WaitStart  time.Time
}

func encodeSearcher(w *fieldWriter, v Searcher) {
	w.str("player_id", v.PlayerID)
	w.num("elo", v.ELO)
	w.str("game", v.Game)
	w.str("mode", v.Mode)
	w.boolean("ai", v.AI)
	w.str("region", v.Region)
	w.num("min_players", v.MinPlayers)
	w.num("max_players", v.MaxPlayers)
	w.unixTime("wait_start", v.WaitStart)
}

func decodeSearcher(r *fieldReader, id string) Searcher {
	return Searcher{
		ID:         id,
		PlayerID:   r.str("player_id"),
		ELO:        r.num("elo"),
		Game:       r.str("game"),
		Mode:       r.str("mode"),
		AI:         r.boolean("ai"),
		Region:     r.str("region"),
		MinPlayers: r.num("min_players"),
		MaxPlayers: r.num("max_players"),
		WaitStart:  r.unixTime("wait_start"),
	}
}

// SearcherUpdate is a partial update; nil fields are left untouched
type SearcherUpdate struct {
	ELO       *int
	WaitStart *time.Time
}

func (u SearcherUpdate) appendFields(w *fieldWriter) {
	if u.ELO != nil {
		w.num("elo", *u.ELO)
	}
	if u.WaitStart != nil {
		w.unixTime("wait_start", *u.WaitStart)
	}
}

// Searchers opens the searcher collection on the store
func Searchers(s *Store) *Collection[Searcher] {
	return newCollection(s, KindSearcher, encodeSearcher, decodeSearcher)
}

// HostRequest is a pending room opened by one player. An empty JoinToken
// means the room is public.
type HostRequest struct {
	ID              string
	PlayerID        string
	Game            string
	Mode            string
	Region          string
	JoinToken       string
	ReservedPlayers []string
	JoinedPlayers   []string
	StartRequested  bool
	MinPlayers      int
	MaxPlayers      int
	WaitStart       time.Time
}

func encodeHostRequest(w *fieldWriter, v HostRequest) {
	w.str("player_id", v.PlayerID)
	w.str("game", v.Game)
	w.str("mode", v.Mode)
	w.str("region", v.Region)
	w.str("join_token", v.JoinToken)
	w.strs("reserved_players", v.ReservedPlayers)
	w.strs("joined_players", v.JoinedPlayers)
	w.boolean("start_requested", v.StartRequested)
	w.num("min_players", v.MinPlayers)
	w.num("max_players", v.MaxPlayers)
	w.unixTime("wait_start", v.WaitStart)
}

func decodeHostRequest(r *fieldReader, id string) HostRequest {
	return HostRequest{
		ID:              id,
		PlayerID:        r.str("player_id"),
		Game:            r.str("game"),
		Mode:            r.str("mode"),
		Region:          r.str("region"),
		JoinToken:       r.str("join_token"),
		ReservedPlayers: r.strs("reserved_players"),
		JoinedPlayers:   r.strs("joined_players"),
		StartRequested:  r.boolean("start_requested"),
		MinPlayers:      r.num("min_players"),
		MaxPlayers:      r.num("max_players"),
		WaitStart:       r.unixTime("wait_start"),
	}
}

// HostRequestUpdate is a partial update; nil fields are left untouched
type HostRequestUpdate struct {
	JoinedPlayers   *[]string
	ReservedPlayers *[]string
	StartRequested  *bool
}

func (u HostRequestUpdate) appendFields(w *fieldWriter) {
	if u.JoinedPlayers != nil {
		w.strs("joined_players", *u.JoinedPlayers)
	}
	if u.ReservedPlayers != nil {
		w.strs("reserved_players", *u.ReservedPlayers)
	}
	if u.StartRequested != nil {
		w.boolean("start_requested", *u.StartRequested)
	}
}

// HostRequests opens the host-request collection on the store
func HostRequests(s *Store) *Collection[HostRequest] {
	return newCollection(s, KindHostRequest, encodeHostRequest, decodeHostRequest)
}

// ActiveMatch is a live game bound to a game server. Read is the shared
// spectator token; PlayerWrite maps each player to their write token.
type ActiveMatch struct {
	ID          string
	Game        string
	Mode        string
	AI          bool
	ServerPub   string
	ServerPriv  string
	Region      string
	Read        string
	PlayerWrite map[string]string
}

func encodeActiveMatch(w *fieldWriter, v ActiveMatch) {
	w.str("game", v.Game)
	w.str("mode", v.Mode)
	w.boolean("ai", v.AI)
	w.str("server_pub", v.ServerPub)
	w.str("server_priv", v.ServerPriv)
	w.str("region", v.Region)
	w.str("read", v.Read)
	w.strMap("player_write", v.PlayerWrite)
}

func decodeActiveMatch(r *fieldReader, id string) ActiveMatch {
	return ActiveMatch{
		ID:          id,
		Game:        r.str("game"),
		Mode:        r.str("mode"),
		AI:          r.boolean("ai"),
		ServerPub:   r.str("server_pub"),
		ServerPriv:  r.str("server_priv"),
		Region:      r.str("region"),
		Read:        r.str("read"),
		PlayerWrite: r.strMap("player_write"),
	}
}

// ActiveMatches opens the active-match collection on the store
func ActiveMatches(s *Store) *Collection[ActiveMatch] {
	return newCollection(s, KindActiveMatch, encodeActiveMatch, decodeActiveMatch)
}

// AIPlayer is a registered computer player available for AI lobbies
type AIPlayer struct {
	ID          string
	Game        string
	Mode        string
	ELO         int
	DisplayName string
}

func encodeAIPlayer(w *fieldWriter, v AIPlayer) {
	w.str("game", v.Game)
	w.str("mode", v.Mode)
	w.num("elo", v.ELO)
	w.str("display_name", v.DisplayName)
}

func decodeAIPlayer(r *fieldReader, id string) AIPlayer {
	return AIPlayer{
		ID:          id,
		Game:        r.str("game"),
		Mode:        r.str("mode"),
		ELO:         r.num("elo"),
		DisplayName: r.str("display_name"),
	}
}

// AIPlayers opens the AI-player collection on the store
func AIPlayers(s *Store) *Collection[AIPlayer] {
	return newCollection(s, KindAIPlayer, encodeAIPlayer, decodeAIPlayer)
}
