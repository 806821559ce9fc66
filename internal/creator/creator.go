package creator

import (
	"context"
	"log"

	"matchfabric/internal/broker"
	"matchfabric/internal/state"
)

// Publisher is the broker surface the creator needs
type Publisher interface {
	CreateMatch(m broker.CreateMatch) error
}

// Creator turns assembled match proposals into creation requests for the
// game servers
type Creator struct {
	searchers *state.Collection[state.Searcher]
	publisher Publisher
}

// New creates a creator over the shared store
func New(store *state.Store, publisher Publisher) *Creator {
	return &Creator{searchers: state.Searchers(store), publisher: publisher}
}

// Register hooks the creator into the aggregator
func (c *Creator) Register(ctx context.Context, agg *state.Aggregator) {
	agg.OnMatch(func(m state.Match) {
		c.HandleMatch(ctx, m)
	})
}

// HandleMatch resolves the proposal's searcher rows to player ids. AI player
// rows and searcher rows that no longer resolve carry their id as-is into the
// AI list; entries that are not row ids at all (host-room members) pass
// through as player ids. All-AI proposals are dropped.
func (c *Creator) HandleMatch(ctx context.Context, m state.Match) {
	players := make([]string, 0, len(m.Players))
	aiPlayers := []string{}

	for _, rowID := range m.Players {
		switch state.KindOf(rowID) {
		case state.KindSearcher:
			searcher, err := c.searchers.Get(ctx, rowID)
			if err != nil {
				log.Printf("[CREATOR] Searcher not found, treating as AI: %s", rowID)
				aiPlayers = append(aiPlayers, rowID)
				continue
			}
			players = append(players, searcher.PlayerID)
		case state.KindAIPlayer:
			aiPlayers = append(aiPlayers, rowID)
		default:
			players = append(players, rowID)
		}
	}

	if len(players) == 0 {
		log.Printf("[CREATOR] Dropping all-AI proposal: game=%s mode=%s", m.Game, m.Mode)
		return
	}

	req := broker.CreateMatch{
		Game:      m.Game,
		Players:   players,
		AIPlayers: aiPlayers,
		Mode:      m.Mode,
		AI:        len(aiPlayers) > 0,
	}
	if err := c.publisher.CreateMatch(req); err != nil {
		log.Printf("[CREATOR] Failed to publish match creation: %v", err)
		return
	}
	log.Printf("[CREATOR] Match creation requested: game=%s mode=%s players=%d ai=%d", m.Game, m.Mode, len(players), len(aiPlayers))
}
