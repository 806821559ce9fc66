package state

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

// shardTTL bounds how long a partial proposal may wait for its remaining
// messages before it is discarded
const shardTTL = 10 * time.Second

// Match is a transient match proposal assembled from shard messages. Players
// holds searcher row ids, not player ids; the consumer resolves them.
type Match struct {
	Region  string
	Game    string
	Mode    string
	AI      bool
	Players []string
}

// shard accumulates the messages of one candidate match. Messages of a shard
// may interleave with other shards and arrive in any order; expected stays -1
// until the done message is seen.
type shard struct {
	region    string
	game      string
	mode      string
	ai        bool
	hasScalar map[string]bool
	players   []string
	expected  int
	created   time.Time
}

func (sh *shard) complete() bool {
	return sh.expected >= 0 &&
		len(sh.players) == sh.expected &&
		sh.hasScalar["region"] && sh.hasScalar["game"] &&
		sh.hasScalar["mode"] && sh.hasScalar["ai"]
}

// Aggregator fuses per-shard match hints from the store's pub/sub into Match
// proposals and dispatches them to registered handlers. It is the single
// consumer of the "*:match:*" channel pattern.
type Aggregator struct {
	store     *Store
	searchers *Collection[Searcher]
	now       func() time.Time

	mu       sync.Mutex
	handlers []func(Match)
}

// NewAggregator creates an aggregator over the given store
func NewAggregator(store *Store) *Aggregator {
	return &Aggregator{store: store, searchers: Searchers(store), now: time.Now}
}

func (a *Aggregator) newShard() *shard {
	return &shard{hasScalar: make(map[string]bool), expected: -1, created: a.now()}
}

// evictStale drops partial shards that stopped receiving messages. Their
// producer re-announces the group on its next sweep.
func (a *Aggregator) evictStale(shards map[string]*shard) {
	cutoff := a.now().Add(-shardTTL)
	for id, sh := range shards {
		if sh.created.Before(cutoff) {
			log.Printf("[AGGREGATOR] Dropping stale shard %s", id)
			delete(shards, id)
		}
	}
}

// OnMatch registers a handler invoked once per assembled proposal. Handlers
// run in parallel goroutines; searcher cleanup waits for all of them.
func (a *Aggregator) OnMatch(fn func(Match)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, fn)
}

// Run consumes shard messages until the context is cancelled. A malformed
// shard aborts only that proposal; the loop stays live.
func (a *Aggregator) Run(ctx context.Context) {
	pubsub := a.store.rdb.PSubscribe(ctx, "*:match:*")
	defer pubsub.Close()

	log.Printf("[AGGREGATOR] Subscribed to match proposals")

	shards := make(map[string]*shard)
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			a.handleMessage(ctx, shards, msg.Channel, msg.Payload)
		}
	}
}

func (a *Aggregator) handleMessage(ctx context.Context, shards map[string]*shard, channel, payload string) {
	parts := strings.Split(channel, ":")
	if len(parts) < 3 || parts[1] != "match" {
		return
	}
	uuid := parts[0]

	a.evictStale(shards)

	sh, ok := shards[uuid]
	if !ok {
		sh = a.newShard()
		shards[uuid] = sh
	}

	last := parts[len(parts)-1]
	switch {
	case last == "region" || last == "game" || last == "mode":
		if !sh.hasScalar[last] {
			sh.hasScalar[last] = true
			switch last {
			case "region":
				sh.region = payload
			case "game":
				sh.game = payload
			case "mode":
				sh.mode = payload
			}
		}
	case last == "ai":
		sh.hasScalar["ai"] = true
		sh.ai = payload == "1"
	case last == "done":
		expected, err := strconv.Atoi(payload)
		if err != nil {
			log.Printf("[AGGREGATOR] Dropping shard %s: bad done payload %q", uuid, payload)
			delete(shards, uuid)
			return
		}
		sh.expected = expected
		if len(sh.players) > expected {
			log.Printf("[AGGREGATOR] Dropping shard %s: %d players, expected %d", uuid, len(sh.players), expected)
			delete(shards, uuid)
			return
		}
	case len(parts) >= 2 && parts[len(parts)-2] == "players":
		sh.players = append(sh.players, payload)
		if sh.expected >= 0 && len(sh.players) > sh.expected {
			log.Printf("[AGGREGATOR] Dropping shard %s: %d players, expected %d", uuid, len(sh.players), sh.expected)
			delete(shards, uuid)
			return
		}
	default:
		return
	}

	// The done payload is buffered, so completion is re-checked on every
	// message to tolerate done arriving before the last player entry.
	if sh.complete() {
		delete(shards, uuid)
		a.dispatch(ctx, Match{
			Region:  sh.region,
			Game:    sh.game,
			Mode:    sh.mode,
			AI:      sh.ai,
			Players: append([]string(nil), sh.players...),
		})
	}
}

// dispatch fans the proposal out to every handler, waits for all of them,
// then removes the matched searcher rows
func (a *Aggregator) dispatch(ctx context.Context, m Match) {
	a.mu.Lock()
	handlers := append([]func(Match){}, a.handlers...)
	a.mu.Unlock()

	log.Printf("[AGGREGATOR] Match assembled: game=%s mode=%s region=%s players=%d", m.Game, m.Mode, m.Region, len(m.Players))

	go func() {
		var wg sync.WaitGroup
		for _, fn := range handlers {
			wg.Add(1)
			go func(fn func(Match)) {
				defer wg.Done()
				fn(m)
			}(fn)
		}
		wg.Wait()

		// Only searcher rows are consumed; AI player rows stay registered
		for _, player := range m.Players {
			if KindOf(player) != KindSearcher {
				continue
			}
			if err := a.searchers.Remove(ctx, player); err != nil {
				log.Printf("[AGGREGATOR] Failed to remove searcher %s: %v", player, err)
			}
		}
	}()
}
