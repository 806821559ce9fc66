package state

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb), mr
}

func TestInsertGetRoundtrip(t *testing.T) {
	store, _ := setupTestStore(t)
	servers := GameServers(store)
	ctx := context.Background()

	id, err := servers.Insert(ctx, GameServer{
		Region:     "eu",
		Game:       "schnapsen",
		Mode:       "duo",
		ServerPub:  "wss://game.example.com",
		ServerPriv: "srv-1",
		Healthy:    true,
		MinPlayers: 2,
		MaxPlayers: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, KindGameServer, KindOf(id))

	got, err := servers.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "eu", got.Region)
	assert.Equal(t, "schnapsen", got.Game)
	assert.Equal(t, "duo", got.Mode)
	assert.Equal(t, "wss://game.example.com", got.ServerPub)
	assert.Equal(t, "srv-1", got.ServerPriv)
	assert.True(t, got.Healthy)
	assert.Equal(t, 2, got.MinPlayers)
	assert.Equal(t, 2, got.MaxPlayers)
}

func TestGetUnknownID(t *testing.T) {
	store, _ := setupTestStore(t)
	servers := GameServers(store)

	_, err := servers.Get(context.Background(), "999:game_servers")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIDsAreSequentialPerStore(t *testing.T) {
	store, _ := setupTestStore(t)
	servers := GameServers(store)
	searchers := Searchers(store)
	ctx := context.Background()

	first, err := servers.Insert(ctx, GameServer{Game: "schnapsen"})
	require.NoError(t, err)
	second, err := searchers.Insert(ctx, Searcher{PlayerID: "p1"})
	require.NoError(t, err)

	assert.Equal(t, "1:game_servers", first)
	assert.Equal(t, "2:searchers", second)
}

func TestPartialUpdateMergesOnlyPresentFields(t *testing.T) {
	store, _ := setupTestStore(t)
	servers := GameServers(store)
	ctx := context.Background()

	id, err := servers.Insert(ctx, GameServer{
		Region: "eu", Game: "schnapsen", Mode: "duo", Healthy: true, MinPlayers: 2, MaxPlayers: 2,
	})
	require.NoError(t, err)

	unhealthy := false
	require.NoError(t, servers.Update(ctx, id, GameServerUpdate{Healthy: &unhealthy}))

	got, err := servers.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Healthy)
	assert.Equal(t, "eu", got.Region)
	assert.Equal(t, "schnapsen", got.Game)
	assert.Equal(t, 2, got.MaxPlayers)
}

func TestVectorUpdateLeavesNoStaleEntries(t *testing.T) {
	store, _ := setupTestStore(t)
	hosts := HostRequests(store)
	ctx := context.Background()

	id, err := hosts.Insert(ctx, HostRequest{
		PlayerID:      "host",
		Game:          "schnapsen",
		Mode:          "duo",
		JoinedPlayers: []string{"host", "p2", "p3"},
		MinPlayers:    2,
		MaxPlayers:    4,
	})
	require.NoError(t, err)

	shrunk := []string{"host"}
	require.NoError(t, hosts.Update(ctx, id, HostRequestUpdate{JoinedPlayers: &shrunk}))

	got, err := hosts.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"host"}, got.JoinedPlayers)
}

func TestMapFieldRoundtrip(t *testing.T) {
	store, _ := setupTestStore(t)
	matches := ActiveMatches(store)
	ctx := context.Background()

	id, err := matches.Insert(ctx, ActiveMatch{
		Game: "schnapsen", Mode: "duo", Read: "r",
		PlayerWrite: map[string]string{"A": "wA", "B": "wB"},
	})
	require.NoError(t, err)

	got, err := matches.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "wA", "B": "wB"}, got.PlayerWrite)
}

func TestRemoveDeletesEveryField(t *testing.T) {
	store, mr := setupTestStore(t)
	searchers := Searchers(store)
	ctx := context.Background()

	id, err := searchers.Insert(ctx, Searcher{PlayerID: "p1", Game: "schnapsen", Mode: "duo"})
	require.NoError(t, err)

	require.NoError(t, searchers.Remove(ctx, id))

	_, err = searchers.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	// The id allocator key survives; nothing of the row may
	for _, key := range mr.Keys() {
		assert.False(t, strings.HasPrefix(key, id), "stale key %s", key)
	}
}

func TestRemoveUnknownID(t *testing.T) {
	store, _ := setupTestStore(t)
	err := Searchers(store).Remove(context.Background(), "42:searchers")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTTLExpiresRow(t *testing.T) {
	store, mr := setupTestStore(t)
	searchers := Searchers(store).WithTTL(60 * time.Second)
	ctx := context.Background()

	id, err := searchers.Insert(ctx, Searcher{PlayerID: "p1", Game: "schnapsen", Mode: "duo"})
	require.NoError(t, err)

	_, err = searchers.Get(ctx, id)
	require.NoError(t, err)

	mr.FastForward(61 * time.Second)

	_, err = searchers.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateGrownVectorInheritsRowTTL(t *testing.T) {
	store, mr := setupTestStore(t)
	hosts := HostRequests(store).WithTTL(60 * time.Second)
	ctx := context.Background()

	id, err := hosts.Insert(ctx, HostRequest{
		PlayerID:      "host",
		Game:          "schnapsen",
		Mode:          "duo",
		JoinedPlayers: []string{"host"},
		MinPlayers:    2,
		MaxPlayers:    4,
	})
	require.NoError(t, err)

	grown := []string{"host", "p2", "p3"}
	require.NoError(t, hosts.Update(ctx, id, HostRequestUpdate{JoinedPlayers: &grown}))

	mr.FastForward(61 * time.Second)

	// The index keys added by the update must expire with the row
	for _, key := range mr.Keys() {
		assert.False(t, strings.HasPrefix(key, id), "orphaned key %s", key)
	}
}

func TestFilterMatchesPredicate(t *testing.T) {
	store, _ := setupTestStore(t)
	searchers := Searchers(store)
	ctx := context.Background()

	_, err := searchers.Insert(ctx, Searcher{PlayerID: "p1", Game: "schnapsen", Mode: "duo"})
	require.NoError(t, err)
	_, err = searchers.Insert(ctx, Searcher{PlayerID: "p2", Game: "skat", Mode: "trio"})
	require.NoError(t, err)

	schnapsen, err := searchers.Filter(ctx, func(s Searcher) bool { return s.Game == "schnapsen" })
	require.NoError(t, err)
	require.Len(t, schnapsen, 1)
	assert.Equal(t, "p1", schnapsen[0].PlayerID)

	all, err := searchers.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAtMostOneFindMatch(t *testing.T) {
	store, _ := setupTestStore(t)
	searchers := Searchers(store)
	ctx := context.Background()

	_, err := searchers.Find(ctx, func(s Searcher) bool { return true })
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := searchers.Insert(ctx, Searcher{PlayerID: "p1", Game: "schnapsen"})
	require.NoError(t, err)

	found, err := searchers.Find(ctx, func(s Searcher) bool { return s.PlayerID == "p1" })
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestEventsFirePerKind(t *testing.T) {
	store, _ := setupTestStore(t)
	searchers := Searchers(store)
	servers := GameServers(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan string, 8)
	searchers.OnInsert(ctx, func(id string) { events <- "insert:" + id })
	searchers.OnUpdate(ctx, func(id string) { events <- "update:" + id })
	searchers.OnDelete(ctx, func(id string) { events <- "remove:" + id })

	// Subscriptions are established asynchronously
	time.Sleep(50 * time.Millisecond)

	// Another kind must not leak into the searcher subscription
	_, err := servers.Insert(ctx, GameServer{Game: "schnapsen"})
	require.NoError(t, err)

	id, err := searchers.Insert(ctx, Searcher{PlayerID: "p1", Game: "schnapsen"})
	require.NoError(t, err)

	elo := 1400
	require.NoError(t, searchers.Update(ctx, id, SearcherUpdate{ELO: &elo}))
	require.NoError(t, searchers.Remove(ctx, id))

	var got []string
	waitFor(t, 2*time.Second, func() bool {
		for {
			select {
			case ev := <-events:
				got = append(got, ev)
			default:
				return len(got) >= 3
			}
		}
	})

	assert.Equal(t, []string{"insert:" + id, "update:" + id, "remove:" + id}, got)
}
