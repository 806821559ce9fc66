package state

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type matchRecorder struct {
	mu      sync.Mutex
	matches []Match
}

func (r *matchRecorder) record(m Match) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches = append(r.matches, m)
}

func (r *matchRecorder) snapshot() []Match {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Match(nil), r.matches...)
}

func startAggregator(t *testing.T, store *Store) (*Aggregator, *matchRecorder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	agg := NewAggregator(store)
	rec := &matchRecorder{}
	agg.OnMatch(rec.record)
	go agg.Run(ctx)

	// Let the pattern subscription settle before publishing
	time.Sleep(50 * time.Millisecond)
	return agg, rec
}

func publishShard(t *testing.T, store *Store, shard, suffix, payload string) {
	t.Helper()
	channel := fmt.Sprintf("%s:match:%s", shard, suffix)
	require.NoError(t, store.Client().Publish(context.Background(), channel, payload).Err())
}

func TestAggregatorAssemblesProposal(t *testing.T) {
	store, _ := setupTestStore(t)
	_, rec := startAggregator(t, store)

	publishShard(t, store, "shard-1", "region", "eu")
	publishShard(t, store, "shard-1", "game", "schnapsen")
	publishShard(t, store, "shard-1", "mode", "duo")
	publishShard(t, store, "shard-1", "ai", "0")
	publishShard(t, store, "shard-1", "players:0", "1:searchers")
	publishShard(t, store, "shard-1", "players:1", "2:searchers")
	publishShard(t, store, "shard-1", "done", "2")

	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 1 })

	m := rec.snapshot()[0]
	assert.Equal(t, "eu", m.Region)
	assert.Equal(t, "schnapsen", m.Game)
	assert.Equal(t, "duo", m.Mode)
	assert.False(t, m.AI)
	assert.Equal(t, []string{"1:searchers", "2:searchers"}, m.Players)
}

func TestAggregatorToleratesEarlyDone(t *testing.T) {
	store, _ := setupTestStore(t)
	_, rec := startAggregator(t, store)

	// done arrives before the last player entry; the buffered count must
	// still complete the shard
	publishShard(t, store, "shard-2", "region", "eu")
	publishShard(t, store, "shard-2", "game", "schnapsen")
	publishShard(t, store, "shard-2", "mode", "duo")
	publishShard(t, store, "shard-2", "ai", "1")
	publishShard(t, store, "shard-2", "players:0", "1:searchers")
	publishShard(t, store, "shard-2", "done", "2")
	publishShard(t, store, "shard-2", "players:1", "7:ai_players")

	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 1 })

	m := rec.snapshot()[0]
	assert.True(t, m.AI)
	assert.Equal(t, []string{"1:searchers", "7:ai_players"}, m.Players)
}

func TestAggregatorInterleavedShards(t *testing.T) {
	store, _ := setupTestStore(t)
	_, rec := startAggregator(t, store)

	publishShard(t, store, "a", "region", "eu")
	publishShard(t, store, "b", "region", "na")
	publishShard(t, store, "a", "game", "schnapsen")
	publishShard(t, store, "b", "game", "skat")
	publishShard(t, store, "a", "mode", "duo")
	publishShard(t, store, "b", "mode", "trio")
	publishShard(t, store, "a", "ai", "0")
	publishShard(t, store, "b", "ai", "0")
	publishShard(t, store, "a", "players:0", "1:searchers")
	publishShard(t, store, "b", "players:0", "2:searchers")
	publishShard(t, store, "a", "players:1", "3:searchers")
	publishShard(t, store, "b", "players:1", "4:searchers")
	publishShard(t, store, "a", "done", "2")
	publishShard(t, store, "b", "done", "2")

	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 2 })

	games := map[string][]string{}
	for _, m := range rec.snapshot() {
		games[m.Game] = m.Players
	}
	assert.Equal(t, []string{"1:searchers", "3:searchers"}, games["schnapsen"])
	assert.Equal(t, []string{"2:searchers", "4:searchers"}, games["skat"])
}

func TestAggregatorDropsMalformedShardAndStaysLive(t *testing.T) {
	store, _ := setupTestStore(t)
	_, rec := startAggregator(t, store)

	// Player count above the announced total drops only this shard
	publishShard(t, store, "bad", "region", "eu")
	publishShard(t, store, "bad", "game", "schnapsen")
	publishShard(t, store, "bad", "mode", "duo")
	publishShard(t, store, "bad", "ai", "0")
	publishShard(t, store, "bad", "players:0", "1:searchers")
	publishShard(t, store, "bad", "players:1", "2:searchers")
	publishShard(t, store, "bad", "done", "1")

	publishShard(t, store, "good", "region", "eu")
	publishShard(t, store, "good", "game", "schnapsen")
	publishShard(t, store, "good", "mode", "duo")
	publishShard(t, store, "good", "ai", "0")
	publishShard(t, store, "good", "players:0", "3:searchers")
	publishShard(t, store, "good", "done", "1")

	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 1 })
	assert.Equal(t, []string{"3:searchers"}, rec.snapshot()[0].Players)
}

func TestAggregatorEvictsStaleShards(t *testing.T) {
	store, _ := setupTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var offset atomic.Int64
	agg := NewAggregator(store)
	agg.now = func() time.Time { return time.Now().Add(time.Duration(offset.Load())) }
	rec := &matchRecorder{}
	agg.OnMatch(rec.record)
	go agg.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// A proposal that never finishes announcing
	publishShard(t, store, "stalled", "region", "eu")
	publishShard(t, store, "stalled", "game", "schnapsen")
	publishShard(t, store, "stalled", "mode", "duo")
	publishShard(t, store, "stalled", "ai", "0")
	publishShard(t, store, "stalled", "players:0", "1:searchers")
	time.Sleep(100 * time.Millisecond)

	offset.Store(int64(shardTTL + time.Second))

	// The late done meets a freshly evicted shard and cannot complete it
	publishShard(t, store, "stalled", "done", "1")
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestAggregatorRemovesMatchedSearchers(t *testing.T) {
	store, _ := setupTestStore(t)
	searchers := Searchers(store)
	aiPlayers := AIPlayers(store)
	ctx := context.Background()

	searcherID, err := searchers.Insert(ctx, Searcher{PlayerID: "A", Game: "schnapsen", Mode: "duo"})
	require.NoError(t, err)
	aiID, err := aiPlayers.Insert(ctx, AIPlayer{Game: "schnapsen", Mode: "duo", DisplayName: "bot"})
	require.NoError(t, err)

	_, rec := startAggregator(t, store)

	publishShard(t, store, "s", "region", "eu")
	publishShard(t, store, "s", "game", "schnapsen")
	publishShard(t, store, "s", "mode", "duo")
	publishShard(t, store, "s", "ai", "1")
	publishShard(t, store, "s", "players:0", searcherID)
	publishShard(t, store, "s", "players:1", aiID)
	publishShard(t, store, "s", "done", "2")

	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 1 })

	// The searcher row is consumed, the AI player row stays registered
	waitFor(t, 2*time.Second, func() bool {
		_, err := searchers.Get(ctx, searcherID)
		return err != nil
	})
	_, err = aiPlayers.Get(ctx, aiID)
	assert.NoError(t, err)
}

func TestAggregatorHandlerBarrierBeforeCleanup(t *testing.T) {
	store, _ := setupTestStore(t)
	searchers := Searchers(store)
	ctx := context.Background()

	searcherID, err := searchers.Insert(ctx, Searcher{PlayerID: "A", Game: "schnapsen", Mode: "duo"})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	agg := NewAggregator(store)
	sawRow := make(chan bool, 1)
	agg.OnMatch(func(m Match) {
		// The row must still be readable while handlers run
		_, err := searchers.Get(ctx, m.Players[0])
		sawRow <- err == nil
	})
	go agg.Run(runCtx)
	time.Sleep(50 * time.Millisecond)

	publishShard(t, store, "s", "region", "eu")
	publishShard(t, store, "s", "game", "schnapsen")
	publishShard(t, store, "s", "mode", "duo")
	publishShard(t, store, "s", "ai", "0")
	publishShard(t, store, "s", "players:0", searcherID)
	publishShard(t, store, "s", "done", "1")

	select {
	case ok := <-sawRow:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}
