package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchfabric/internal/broker"
	"matchfabric/internal/state"
)

type taskRecorder struct {
	mu    sync.Mutex
	tasks []broker.Task
}

func (r *taskRecorder) CreateAITask(t broker.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *taskRecorder) snapshot() []broker.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broker.Task(nil), r.tasks...)
}

func setupAgentTest(t *testing.T) (*Agent, *state.Store, *taskRecorder) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := state.NewStore(rdb)
	tasks := &taskRecorder{}
	return New(store, tasks, nil, Options{DisableRanking: true}), store, tasks
}

func TestGameCreateRegistersHealthyServer(t *testing.T) {
	agent, store, _ := setupAgentTest(t)
	ctx := context.Background()

	id := agent.HandleGameCreate(ctx, broker.GameServerCreate{
		Region:     "eu",
		Game:       "schnapsen",
		Mode:       "duo",
		MinPlayers: 2,
		MaxPlayers: 2,
		ServerPub:  "wss://game.example.com",
		ServerPriv: "srv-1",
	})
	require.NotEmpty(t, id)

	server, err := state.GameServers(store).Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, server.Healthy)
	assert.Equal(t, "srv-1", server.ServerPriv)
}

func TestGameCreateDeduplicatesOnAddressAndGame(t *testing.T) {
	agent, store, _ := setupAgentTest(t)
	ctx := context.Background()

	create := broker.GameServerCreate{
		Region: "eu", Game: "schnapsen", Mode: "duo",
		MinPlayers: 2, MaxPlayers: 2,
		ServerPub: "wss://game.example.com", ServerPriv: "srv-1",
	}
	first := agent.HandleGameCreate(ctx, create)
	second := agent.HandleGameCreate(ctx, create)
	assert.Equal(t, first, second)

	rows, err := state.GameServers(store).All(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// Same address serving a different game is a separate registration
	create.Game = "skat"
	third := agent.HandleGameCreate(ctx, create)
	assert.NotEqual(t, first, third)
}

func TestMatchCreatedInsertsMatchAndDispatchesAITasks(t *testing.T) {
	agent, store, tasks := setupAgentTest(t)
	ctx := context.Background()

	aiID, err := state.AIPlayers(store).Insert(ctx, state.AIPlayer{
		Game: "schnapsen", Mode: "duo", ELO: 2300, DisplayName: "bot",
	})
	require.NoError(t, err)

	agent.HandleMatchCreated(ctx, broker.CreatedMatch{
		Region:      "eu",
		Game:        "schnapsen",
		Mode:        "duo",
		AI:          true,
		AIPlayers:   []string{aiID},
		Read:        "r",
		URLPub:      "wss://game.example.com",
		URLPriv:     "srv-1",
		PlayerWrite: map[string]string{"A": "wA", aiID: "wBot"},
	})

	match, err := state.ActiveMatches(store).Find(ctx, func(m state.ActiveMatch) bool { return m.Read == "r" })
	require.NoError(t, err)
	assert.Equal(t, "wss://game.example.com", match.ServerPub)
	assert.Equal(t, map[string]string{"A": "wA", aiID: "wBot"}, match.PlayerWrite)

	got := tasks.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "wBot", got[0].Write)
	assert.Equal(t, "r", got[0].Read)
	assert.Equal(t, "wss://game.example.com", got[0].Address)
	assert.Equal(t, 3, got[0].AILevel)
	assert.ElementsMatch(t, []string{"A", aiID}, got[0].Players)
}

func TestMatchResultRemovesMatch(t *testing.T) {
	agent, store, _ := setupAgentTest(t)
	ctx := context.Background()

	id, err := state.ActiveMatches(store).Insert(ctx, state.ActiveMatch{
		Game: "schnapsen", Mode: "duo", Read: "r",
		PlayerWrite: map[string]string{"A": "wA", "B": "wB"},
	})
	require.NoError(t, err)

	agent.HandleMatchResult(ctx, broker.MatchResult{
		MatchID: "r",
		Winners: map[string]int{"A": 3},
		Losers:  map[string]int{"B": 1},
	})

	_, err = state.ActiveMatches(store).Get(ctx, id)
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestMatchResultForUnknownMatch(t *testing.T) {
	agent, store, _ := setupAgentTest(t)
	ctx := context.Background()

	id, err := state.ActiveMatches(store).Insert(ctx, state.ActiveMatch{
		Game: "schnapsen", Mode: "duo", Read: "r",
		PlayerWrite: map[string]string{"A": "wA"},
	})
	require.NoError(t, err)

	agent.HandleMatchResult(ctx, broker.MatchResult{MatchID: "other"})

	// The unrelated match stays
	_, err = state.ActiveMatches(store).Get(ctx, id)
	assert.NoError(t, err)
}

func TestAbruptCloseRemovesMatchWithoutRanking(t *testing.T) {
	agent, store, _ := setupAgentTest(t)
	ctx := context.Background()

	id, err := state.ActiveMatches(store).Insert(ctx, state.ActiveMatch{
		Game: "schnapsen", Mode: "duo", Read: "r",
		PlayerWrite: map[string]string{"A": "wA", "B": "wB"},
	})
	require.NoError(t, err)

	agent.HandleAbruptClose(ctx, broker.MatchAbruptClose{
		MatchID: "r",
		Reason:  broker.ReasonAllPlayersDisconnected,
	})

	_, err = state.ActiveMatches(store).Get(ctx, id)
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestAIRegisterDeduplicates(t *testing.T) {
	agent, store, _ := setupAgentTest(t)
	ctx := context.Background()

	register := broker.AIPlayerRegister{Game: "schnapsen", Mode: "duo", ELO: 1500, DisplayName: "bot"}
	agent.HandleAIRegister(ctx, register)
	agent.HandleAIRegister(ctx, register)

	rows, err := state.AIPlayers(store).All(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	register.DisplayName = "other-bot"
	agent.HandleAIRegister(ctx, register)

	rows, err = state.AIPlayers(store).All(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestProjectResult(t *testing.T) {
	result := broker.MatchResult{
		MatchID: "r",
		Winners: map[string]int{"A": 3},
		Losers:  map[string]int{"B": 1},
		Ranking: broker.Ranking{
			Performances: map[string][]string{
				"A": {"card", "card", "trick"},
				"B": {"card"},
			},
		},
	}
	match := state.ActiveMatch{Game: "schnapsen", Mode: "duo"}

	projected := ProjectResult(result, match)
	assert.Equal(t, "schnapsen", projected.GameName)
	assert.Equal(t, "duo", projected.GameMode)
	require.Len(t, projected.PlayerMatchList, 2)

	a := projected.PlayerMatchList[0]
	assert.Equal(t, "A", a.PlayerID)
	assert.Equal(t, "card", a.PlayerPerformances[0].Name)
	assert.Equal(t, 2, a.PlayerPerformances[0].Count)
	assert.Equal(t, "trick", a.PlayerPerformances[1].Name)
	assert.Equal(t, 1, a.PlayerPerformances[1].Count)
	assert.Equal(t, "point", a.PlayerPerformances[2].Name)
	assert.Equal(t, 3, a.PlayerPerformances[2].Count)

	b := projected.PlayerMatchList[1]
	assert.Equal(t, "B", b.PlayerID)
	assert.Equal(t, "card", b.PlayerPerformances[0].Name)
	assert.Equal(t, 1, b.PlayerPerformances[0].Count)
	assert.Equal(t, "point", b.PlayerPerformances[1].Name)
	assert.Equal(t, 1, b.PlayerPerformances[1].Count)
}

func TestProjectResultOrdersWinnersThenLosersByPoints(t *testing.T) {
	result := broker.MatchResult{
		Winners: map[string]int{"A": 3, "C": 7},
		Losers:  map[string]int{"B": 2, "D": 5},
	}

	projected := ProjectResult(result, state.ActiveMatch{Game: "skat", Mode: "quad"})
	order := []string{}
	for _, pm := range projected.PlayerMatchList {
		order = append(order, pm.PlayerID)
	}
	assert.Equal(t, []string{"C", "A", "D", "B"}, order)
}

func TestTrackerFlipsHealthOnFirstRefresh(t *testing.T) {
	_, store, _ := setupAgentTest(t)
	ctx := context.Background()
	servers := state.GameServers(store)

	id, err := servers.Insert(ctx, state.GameServer{
		Game: "schnapsen", Mode: "duo", ServerPriv: "srv-1", Healthy: false,
	})
	require.NoError(t, err)

	tracker := NewTracker(servers)
	tracker.Refresh(ctx, "srv-1")

	server, err := servers.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, server.Healthy)
}

func TestTrackerEvictsSilentServers(t *testing.T) {
	_, store, _ := setupAgentTest(t)
	ctx := context.Background()
	servers := state.GameServers(store)

	id, err := servers.Insert(ctx, state.GameServer{
		Game: "schnapsen", Mode: "duo", ServerPriv: "srv-1", Healthy: false,
	})
	require.NoError(t, err)

	now := time.Now()
	tracker := NewTracker(servers)
	tracker.now = func() time.Time { return now }

	tracker.Refresh(ctx, "srv-1")
	assert.True(t, tracker.Check(ctx))

	// Repeated refreshes within the window keep the server alive
	now = now.Add(20 * time.Second)
	tracker.Refresh(ctx, "srv-1")
	now = now.Add(20 * time.Second)
	assert.True(t, tracker.Check(ctx))

	server, err := servers.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, server.Healthy)

	// Silence beyond the timeout flips it back and evicts the entry
	now = now.Add(ClientTimeout)
	assert.False(t, tracker.Check(ctx))

	server, err = servers.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, server.Healthy)
}
