package agent

import (
	"context"
	"log"

	"matchfabric/internal/broker"
	"matchfabric/internal/ranking"
	"matchfabric/internal/state"
)

// TaskPublisher is the broker surface for outbound AI tasks
type TaskPublisher interface {
	CreateAITask(t broker.Task) error
}

// Options switches off ranking submissions for local runs and tests
type Options struct {
	DisableRanking bool
}

// Agent converts inbound game-server traffic into state mutations and
// outbound ranking and AI-task calls
type Agent struct {
	gameServers   *state.Collection[state.GameServer]
	activeMatches *state.Collection[state.ActiveMatch]
	aiPlayers     *state.Collection[state.AIPlayer]

	tasks TaskPublisher
	rank  *ranking.Client
	opts  Options
}

// New creates an agent over the shared store
func New(store *state.Store, tasks TaskPublisher, rank *ranking.Client, opts Options) *Agent {
	return &Agent{
		gameServers:   state.GameServers(store),
		activeMatches: state.ActiveMatches(store),
		aiPlayers:     state.AIPlayers(store),
		tasks:         tasks,
		rank:          rank,
		opts:          opts,
	}
}

// Run registers every queue consumer and starts the healthcheck sweep
func (a *Agent) Run(ctx context.Context, comm *broker.Communicator) error {
	tracker := NewTracker(a.gameServers)
	go tracker.Run(ctx)

	if err := comm.OnGameCreate(func(create broker.GameServerCreate) string {
		return a.HandleGameCreate(ctx, create)
	}); err != nil {
		return err
	}
	if err := comm.OnMatchCreated(func(m broker.CreatedMatch) {
		a.HandleMatchCreated(ctx, m)
	}); err != nil {
		return err
	}
	if err := comm.OnMatchResult(func(r broker.MatchResult) {
		a.HandleMatchResult(ctx, r)
	}); err != nil {
		return err
	}
	if err := comm.OnMatchAbruptClose(func(m broker.MatchAbruptClose) {
		a.HandleAbruptClose(ctx, m)
	}); err != nil {
		return err
	}
	if err := comm.OnHealthCheck(func(clientID string) {
		tracker.Refresh(ctx, clientID)
	}); err != nil {
		return err
	}
	return comm.OnAIRegister(func(p broker.AIPlayerRegister) {
		a.HandleAIRegister(ctx, p)
	})
}

// HandleGameCreate registers a game server, deduplicating on the public
// address and game. Returns the server's row id either way.
func (a *Agent) HandleGameCreate(ctx context.Context, create broker.GameServerCreate) string {
	existing, err := a.gameServers.Find(ctx, func(s state.GameServer) bool {
		return s.ServerPub == create.ServerPub && s.Game == create.Game
	})
	if err == nil {
		log.Printf("[AGENT] Game server already registered: %s", existing.ID)
		return existing.ID
	}

	id, err := a.gameServers.Insert(ctx, state.GameServer{
		Region:     create.Region,
		Game:       create.Game,
		Mode:       create.Mode,
		ServerPub:  create.ServerPub,
		ServerPriv: create.ServerPriv,
		Healthy:    true,
		MinPlayers: create.MinPlayers,
		MaxPlayers: create.MaxPlayers,
	})
	if err != nil {
		log.Printf("[AGENT] Failed to insert game server: %v", err)
		return ""
	}
	log.Printf("[AGENT] Game server registered: %s (%s/%s in %s)", id, create.Game, create.Mode, create.Region)

	if !a.opts.DisableRanking {
		perfs := make([]ranking.Performance, 0, len(create.RankingConf.Performances))
		for _, p := range create.RankingConf.Performances {
			perfs = append(perfs, ranking.Performance{Name: p.Name, Weight: p.Weight})
		}
		err := a.rank.InitGame(ctx, ranking.Game{
			GameName:        create.Game,
			GameMode:        create.Mode,
			MaxStars:        create.RankingConf.MaxStars,
			Description:     create.RankingConf.Description,
			PerformanceList: perfs,
		})
		if err != nil {
			log.Printf("[AGENT] Ranking game init failed: %v", err)
		}
	}
	return id
}

// HandleMatchCreated records the live match and dispatches one AI task per
// computer player. The match is inserted before any task goes out so that
// reconnect lookups never race the AI service.
func (a *Agent) HandleMatchCreated(ctx context.Context, m broker.CreatedMatch) {
	id, err := a.activeMatches.Insert(ctx, state.ActiveMatch{
		Game:        m.Game,
		Mode:        m.Mode,
		AI:          m.AI,
		ServerPub:   m.URLPub,
		ServerPriv:  m.URLPriv,
		Region:      m.Region,
		Read:        m.Read,
		PlayerWrite: m.PlayerWrite,
	})
	if err != nil {
		log.Printf("[AGENT] Failed to insert active match: %v", err)
		return
	}
	log.Printf("[AGENT] Match activated: %s (read=%s)", id, m.Read)

	players := make([]string, 0, len(m.PlayerWrite))
	for p := range m.PlayerWrite {
		players = append(players, p)
	}

	for _, ai := range m.AIPlayers {
		task := broker.Task{
			AILevel: a.aiLevel(ctx, ai),
			Game:    m.Game,
			Mode:    m.Mode,
			Address: m.URLPub,
			Read:    m.Read,
			Write:   m.PlayerWrite[ai],
			Players: players,
		}
		if err := a.tasks.CreateAITask(task); err != nil {
			log.Printf("[AGENT] Failed to publish AI task for %s: %v", ai, err)
		}
	}
}

// aiLevel grades the computer player by its rating; unknown players play at
// the lowest level
func (a *Agent) aiLevel(ctx context.Context, aiID string) int {
	player, err := a.aiPlayers.Get(ctx, aiID)
	if err != nil {
		return 1
	}
	level := player.ELO/1000 + 1
	if level < 1 {
		level = 1
	}
	return level
}

// HandleMatchResult closes the match and submits its ranking projection
func (a *Agent) HandleMatchResult(ctx context.Context, r broker.MatchResult) {
	match, err := a.activeMatches.Find(ctx, func(m state.ActiveMatch) bool {
		return m.Read == r.MatchID
	})
	if err != nil {
		log.Printf("[AGENT] Result for unknown match %s: %v", r.MatchID, err)
		return
	}

	if err := a.activeMatches.Remove(ctx, match.ID); err != nil {
		log.Printf("[AGENT] Failed to remove match %s: %v", match.ID, err)
		return
	}
	log.Printf("[AGENT] Match finished: %s (read=%s)", match.ID, r.MatchID)

	if a.opts.DisableRanking {
		return
	}
	if err := a.rank.InitMatch(ctx, ProjectResult(r, match)); err != nil {
		log.Printf("[AGENT] Ranking match init failed: %v", err)
	}
}

// HandleAbruptClose drops the match without a ranking submission
func (a *Agent) HandleAbruptClose(ctx context.Context, m broker.MatchAbruptClose) {
	match, err := a.activeMatches.Find(ctx, func(am state.ActiveMatch) bool {
		return am.Read == m.MatchID
	})
	if err != nil {
		log.Printf("[AGENT] Abrupt close for unknown match %s: %v", m.MatchID, err)
		return
	}

	if err := a.activeMatches.Remove(ctx, match.ID); err != nil {
		log.Printf("[AGENT] Failed to remove match %s: %v", match.ID, err)
		return
	}
	log.Printf("[AGENT] Match closed abruptly: %s (reason=%s)", match.ID, m.Reason)
}

// HandleAIRegister records a computer player, deduplicating on game, mode and
// display name
func (a *Agent) HandleAIRegister(ctx context.Context, p broker.AIPlayerRegister) {
	_, err := a.aiPlayers.Find(ctx, func(ai state.AIPlayer) bool {
		return ai.Game == p.Game && ai.Mode == p.Mode && ai.DisplayName == p.DisplayName
	})
	if err == nil {
		return
	}

	id, err := a.aiPlayers.Insert(ctx, state.AIPlayer{
		Game:        p.Game,
		Mode:        p.Mode,
		ELO:         p.ELO,
		DisplayName: p.DisplayName,
	})
	if err != nil {
		log.Printf("[AGENT] Failed to insert AI player: %v", err)
		return
	}
	log.Printf("[AGENT] AI player registered: %s (%s)", id, p.DisplayName)
}
