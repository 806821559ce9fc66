package matchmaking

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"matchfabric/internal/state"
)

// Config tunes the pairing sweep. The allowed rating spread of a group grows
// with the longest wait inside it, so nobody queues forever.
type Config struct {
	MaxELODiff          int
	WaitTimeToELOFactor float64
	Interval            time.Duration
}

// DefaultConfig returns the pairing defaults
func DefaultConfig() Config {
	return Config{
		MaxELODiff:          150,
		WaitTimeToELOFactor: 5.0,
		Interval:            time.Second,
	}
}

// Sweeper periodically walks the searcher pool and announces every formed
// group as one shard over pub/sub. Started host rooms are announced the same
// way and consumed.
type Sweeper struct {
	rdb          *redis.Client
	searchers    *state.Collection[state.Searcher]
	hostRequests *state.Collection[state.HostRequest]
	aiPlayers    *state.Collection[state.AIPlayer]
	cfg          Config
	now          func() time.Time

	// pending suppresses re-announcing rows whose removal is still in flight
	pending map[string]time.Time
}

// NewSweeper creates a sweeper over the shared store
func NewSweeper(store *state.Store, cfg Config) *Sweeper {
	return &Sweeper{
		rdb:          store.Client(),
		searchers:    state.Searchers(store),
		hostRequests: state.HostRequests(store),
		aiPlayers:    state.AIPlayers(store),
		cfg:          cfg,
		now:          time.Now,
		pending:      make(map[string]time.Time),
	}
}

// Run sweeps on the configured interval until the context is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("[MATCHMAKING] Sweep started: max_elo_diff=%d factor=%.1f", s.cfg.MaxELODiff, s.cfg.WaitTimeToELOFactor)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pairing pass over host rooms and the searcher pool
func (s *Sweeper) Sweep(ctx context.Context) {
	s.expirePending()
	s.sweepHosts(ctx)
	s.sweepSearchers(ctx)
}

func (s *Sweeper) expirePending() {
	cutoff := s.now().Add(-10 * time.Second)
	for id, at := range s.pending {
		if at.Before(cutoff) {
			delete(s.pending, id)
		}
	}
}

func (s *Sweeper) sweepHosts(ctx context.Context) {
	ready, err := s.hostRequests.Filter(ctx, func(r state.HostRequest) bool {
		return r.StartRequested && len(r.JoinedPlayers) >= r.MinPlayers
	})
	if err != nil {
		log.Printf("[MATCHMAKING] Host sweep failed: %v", err)
		return
	}

	for _, room := range ready {
		if _, busy := s.pending[room.ID]; busy {
			continue
		}
		s.announce(ctx, proposal{
			region:  room.Region,
			game:    room.Game,
			mode:    room.Mode,
			ai:      false,
			players: room.JoinedPlayers,
		})
		s.pending[room.ID] = s.now()
		if err := s.hostRequests.Remove(ctx, room.ID); err != nil {
			log.Printf("[MATCHMAKING] Failed to consume host room %s: %v", room.ID, err)
		}
	}
}

type groupKey struct {
	game   string
	mode   string
	region string
	ai     bool
}

func (s *Sweeper) sweepSearchers(ctx context.Context) {
	all, err := s.searchers.All(ctx)
	if err != nil {
		log.Printf("[MATCHMAKING] Searcher sweep failed: %v", err)
		return
	}

	groups := make(map[groupKey][]state.Searcher)
	for _, searcher := range all {
		if _, busy := s.pending[searcher.ID]; busy {
			continue
		}
		key := groupKey{game: searcher.Game, mode: searcher.Mode, region: searcher.Region, ai: searcher.AI}
		groups[key] = append(groups[key], searcher)
	}

	for key, pool := range groups {
		if key.ai {
			s.formAILobbies(ctx, key, pool)
		} else {
			s.formGroups(ctx, key, pool)
		}
	}
}

// formGroups slides over the ELO-sorted pool and emits every window of
// max_players whose spread fits the wait-widened allowance
func (s *Sweeper) formGroups(ctx context.Context, key groupKey, pool []state.Searcher) {
	sort.Slice(pool, func(i, j int) bool { return pool[i].ELO < pool[j].ELO })

	i := 0
	for i < len(pool) {
		size := pool[i].MaxPlayers
		if size < 2 || i+size > len(pool) {
			i++
			continue
		}

		window := pool[i : i+size]
		spread := window[len(window)-1].ELO - window[0].ELO
		if spread > s.allowance(window) {
			i++
			continue
		}

		ids := make([]string, 0, len(window))
		for _, searcher := range window {
			ids = append(ids, searcher.ID)
			s.pending[searcher.ID] = s.now()
		}
		s.announce(ctx, proposal{
			region:  key.region,
			game:    key.game,
			mode:    key.mode,
			ai:      false,
			players: ids,
		})
		i += size
	}
}

// formAILobbies fills each AI-willing searcher's table with the closest-rated
// registered computer players
func (s *Sweeper) formAILobbies(ctx context.Context, key groupKey, pool []state.Searcher) {
	available, err := s.aiPlayers.Filter(ctx, func(ai state.AIPlayer) bool {
		return ai.Game == key.game && ai.Mode == key.mode
	})
	if err != nil {
		log.Printf("[MATCHMAKING] AI player lookup failed: %v", err)
		return
	}

	for _, searcher := range pool {
		needed := searcher.MaxPlayers - 1
		if needed < 1 || len(available) < needed {
			continue
		}

		sort.Slice(available, func(i, j int) bool {
			di := abs(available[i].ELO - searcher.ELO)
			dj := abs(available[j].ELO - searcher.ELO)
			return di < dj
		})

		ids := []string{searcher.ID}
		for _, ai := range available[:needed] {
			ids = append(ids, ai.ID)
		}
		s.pending[searcher.ID] = s.now()
		s.announce(ctx, proposal{
			region:  key.region,
			game:    key.game,
			mode:    key.mode,
			ai:      true,
			players: ids,
		})
	}
}

// allowance widens the base ELO spread by the longest wait in the window
func (s *Sweeper) allowance(window []state.Searcher) int {
	oldest := s.now()
	for _, searcher := range window {
		if searcher.WaitStart.Before(oldest) {
			oldest = searcher.WaitStart
		}
	}
	waited := s.now().Sub(oldest).Seconds()
	return s.cfg.MaxELODiff + int(s.cfg.WaitTimeToELOFactor*waited)
}

type proposal struct {
	region  string
	game    string
	mode    string
	ai      bool
	players []string
}

// announce publishes one proposal as a shard. The done message goes out last
// on the same connection, so consumers see it after every other entry.
func (s *Sweeper) announce(ctx context.Context, p proposal) {
	shard := uuid.New().String()
	ai := "0"
	if p.ai {
		ai = "1"
	}

	s.emit(ctx, shard, "region", p.region)
	s.emit(ctx, shard, "game", p.game)
	s.emit(ctx, shard, "mode", p.mode)
	s.emit(ctx, shard, "ai", ai)
	for i, player := range p.players {
		s.emit(ctx, shard, fmt.Sprintf("players:%d", i), player)
	}
	s.emit(ctx, shard, "done", fmt.Sprintf("%d", len(p.players)))

	log.Printf("[MATCHMAKING] Proposal announced: game=%s mode=%s region=%s players=%d ai=%s", p.game, p.mode, p.region, len(p.players), ai)
}

func (s *Sweeper) emit(ctx context.Context, shard, suffix, payload string) {
	channel := fmt.Sprintf("%s:match:%s", shard, suffix)
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		log.Printf("[MATCHMAKING] Failed to publish %s: %v", channel, err)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
