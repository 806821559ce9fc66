package connector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"matchfabric/internal/ezauth"
	"matchfabric/internal/ranking"
	"matchfabric/internal/state"
)

const defaultELO = 1250

// Options switches off the external auth and ranking calls for local runs
// and tests. SearcherTTL bounds how long abandoned searcher and host rows
// survive; zero means no expiry.
type Options struct {
	DisableAuth bool
	DisableELO  bool
	SearcherTTL time.Duration
}

// Handler owns one client session. All session state is guarded by a single
// mutex because socket callbacks may fire concurrently.
type Handler struct {
	gameServers   *state.Collection[state.GameServer]
	searchers     *state.Collection[state.Searcher]
	hostRequests  *state.Collection[state.HostRequest]
	activeMatches *state.Collection[state.ActiveMatch]

	auth *ezauth.Client
	rank *ranking.Client
	opts Options

	mu       sync.Mutex
	profile  *ezauth.Profile
	searchID string
	joined   bool
}

// NewHandler creates a session handler over the shared store
func NewHandler(store *state.Store, auth *ezauth.Client, rank *ranking.Client, opts Options) *Handler {
	return &Handler{
		gameServers:   state.GameServers(store),
		searchers:     state.Searchers(store).WithTTL(opts.SearcherTTL),
		hostRequests:  state.HostRequests(store).WithTTL(opts.SearcherTTL),
		activeMatches: state.ActiveMatches(store),
		auth:          auth,
		rank:          rank,
		opts:          opts,
	}
}

// SearcherID returns the id of this session's searcher or host-request row
func (h *Handler) SearcherID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.searchID
}

// UserID returns the authorized player's id, or "" before authorization
func (h *Handler) UserID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.profile == nil {
		return ""
	}
	return h.profile.ID
}

// authorize resolves and memoizes the session profile. With auth disabled a
// random identity is fabricated so the rest of the pipeline stays exercised.
func (h *Handler) authorize(ctx context.Context, sessionToken string) (*ezauth.Profile, error) {
	h.mu.Lock()
	if h.profile != nil {
		p := h.profile
		h.mu.Unlock()
		return p, nil
	}
	h.mu.Unlock()

	var profile *ezauth.Profile
	if h.opts.DisableAuth {
		id := uuid.New().String()
		log.Printf("[CONNECTOR] Auth disabled, generated user %s for session %q", id, sessionToken)
		profile = &ezauth.Profile{
			ID:        id,
			Username:  "guest-" + id[:8],
			Email:     fmt.Sprintf("guest-%s@example.com", id[:8]),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
	} else {
		p, err := h.auth.Validate(ctx, sessionToken)
		if err != nil {
			log.Printf("[CONNECTOR] Authorization failed: %v", err)
			return nil, ErrPlayerUnauthorized
		}
		profile = p
	}

	h.mu.Lock()
	h.profile = profile
	h.mu.Unlock()
	return profile, nil
}

func (h *Handler) elo(ctx context.Context, playerID, game, mode string) int {
	if h.opts.DisableELO {
		return defaultELO
	}
	stars, err := h.rank.PlayerStars(ctx, playerID, game, mode)
	if err != nil {
		log.Printf("[CONNECTOR] Failed to get player stars: %v", err)
		return defaultELO
	}
	return stars
}

func (h *Handler) healthyServers(ctx context.Context, game, mode, region string) ([]state.GameServer, error) {
	return h.gameServers.Filter(ctx, func(s state.GameServer) bool {
		return s.Healthy && s.Game == game && s.Mode == mode && s.Region == region
	})
}

// HandleSearch queues the player for matchmaking. A reconnecting player whose
// match is still live gets it back via AlreadyPlayingError; any stale
// searcher row of theirs is cleared.
func (h *Handler) HandleSearch(ctx context.Context, data Search) error {
	profile, err := h.authorize(ctx, data.SessionToken)
	if err != nil {
		return err
	}

	if data.AllowReconnect {
		active, err := h.activeMatches.Find(ctx, func(m state.ActiveMatch) bool {
			_, ok := m.PlayerWrite[profile.ID]
			return ok
		})
		if err == nil {
			if stale, ferr := h.searchers.Find(ctx, func(s state.Searcher) bool {
				return s.PlayerID == profile.ID
			}); ferr == nil {
				if rerr := h.searchers.Remove(ctx, stale.ID); rerr != nil {
					log.Printf("[CONNECTOR] Failed to clear stale searcher %s: %v", stale.ID, rerr)
				}
			}
			return &AlreadyPlayingError{Match: active}
		}
	}

	servers, err := h.healthyServers(ctx, data.Game, data.Mode, data.Region)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		return ErrNoServerOnline
	}

	if existing, err := h.searchers.Find(ctx, func(s state.Searcher) bool {
		return s.PlayerID == profile.ID
	}); err == nil {
		h.mu.Lock()
		h.searchID = existing.ID
		h.mu.Unlock()
		return nil
	}

	elo := h.elo(ctx, profile.ID, data.Game, data.Mode)
	sample := servers[0]

	id, err := h.searchers.Insert(ctx, state.Searcher{
		PlayerID:   profile.ID,
		ELO:        elo,
		Game:       data.Game,
		Mode:       data.Mode,
		AI:         data.AI,
		Region:     data.Region,
		MinPlayers: sample.MinPlayers,
		MaxPlayers: sample.MaxPlayers,
		WaitStart:  time.Now(),
	})
	if err != nil {
		return err
	}
	log.Printf("[CONNECTOR] Searcher inserted: %s", id)

	h.mu.Lock()
	h.searchID = id
	h.mu.Unlock()
	return nil
}

// HandleHost opens a room and returns its join token. Public rooms carry an
// empty token.
func (h *Handler) HandleHost(ctx context.Context, data Host) (string, error) {
	profile, err := h.authorize(ctx, data.SessionToken)
	if err != nil {
		return "", err
	}

	servers, err := h.healthyServers(ctx, data.Game, data.Mode, data.Region)
	if err != nil {
		return "", err
	}
	if len(servers) == 0 {
		return "", ErrNoServerFound
	}

	if existing, err := h.hostRequests.Find(ctx, func(r state.HostRequest) bool {
		return r.PlayerID == profile.ID
	}); err == nil {
		return "", &AlreadyHostingError{Host: existing}
	}

	joinToken := ""
	if !data.Public {
		joinToken = uuid.New().String()
	}

	sample := servers[0]
	id, err := h.hostRequests.Insert(ctx, state.HostRequest{
		PlayerID:      profile.ID,
		Game:          data.Game,
		Mode:          data.Mode,
		Region:        data.Region,
		JoinToken:     joinToken,
		JoinedPlayers: []string{profile.ID},
		MinPlayers:    sample.MinPlayers,
		MaxPlayers:    sample.MaxPlayers,
		WaitStart:     time.Now(),
	})
	if err != nil {
		return "", err
	}
	log.Printf("[CONNECTOR] Host request inserted: %s", id)

	h.mu.Lock()
	h.searchID = id
	h.mu.Unlock()
	return joinToken, nil
}

// HandleJoinPub joins a public room by its id
func (h *Handler) HandleJoinPub(ctx context.Context, data JoinPub) error {
	profile, err := h.authorize(ctx, data.SessionToken)
	if err != nil {
		return err
	}

	host, err := h.hostRequests.Get(ctx, data.HostID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return ErrNoServerFound
		}
		return err
	}
	return h.join(ctx, "", host, profile)
}

// HandleJoinPriv joins a private room by its join token
func (h *Handler) HandleJoinPriv(ctx context.Context, data JoinPriv) error {
	if data.JoinToken == "" {
		return ErrInvalidJoinToken
	}

	profile, err := h.authorize(ctx, data.SessionToken)
	if err != nil {
		return err
	}

	host, err := h.hostRequests.Find(ctx, func(r state.HostRequest) bool {
		return r.JoinToken == data.JoinToken
	})
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return ErrInvalidJoinToken
		}
		return err
	}
	return h.join(ctx, data.JoinToken, host, profile)
}

func (h *Handler) join(ctx context.Context, joinToken string, host state.HostRequest, profile *ezauth.Profile) error {
	if host.StartRequested {
		return ErrMatchAlreadyStarted
	}
	if len(host.JoinedPlayers) == host.MaxPlayers {
		return ErrMatchIsFull
	}
	if host.JoinToken != joinToken {
		return ErrInvalidJoinToken
	}
	for _, id := range host.JoinedPlayers {
		if id == profile.ID {
			return ErrPlayerAlreadyJoined
		}
	}

	joined := append(append([]string(nil), host.JoinedPlayers...), profile.ID)
	if err := h.hostRequests.Update(ctx, host.ID, state.HostRequestUpdate{JoinedPlayers: &joined}); err != nil {
		return err
	}

	h.mu.Lock()
	h.searchID = host.ID
	h.joined = true
	h.mu.Unlock()

	if len(joined) == host.MaxPlayers {
		return h.start(ctx, host.ID)
	}
	return nil
}

// HandleStart flags the session's room to start. Only the room owner may
// start, and only with enough players joined.
func (h *Handler) HandleStart(ctx context.Context) error {
	h.mu.Lock()
	profile := h.profile
	searchID := h.searchID
	h.mu.Unlock()

	if profile == nil {
		return ErrPlayerUnauthorized
	}
	if searchID == "" {
		return ErrHostingNotStarted
	}

	host, err := h.hostRequests.Get(ctx, searchID)
	if err != nil {
		return err
	}
	if host.PlayerID != profile.ID {
		return ErrPlayerNotAllowedToStart
	}
	if len(host.JoinedPlayers) < host.MinPlayers {
		return ErrNotEnoughPlayers
	}
	return h.start(ctx, searchID)
}

func (h *Handler) start(ctx context.Context, hostID string) error {
	started := true
	return h.hostRequests.Update(ctx, hostID, state.HostRequestUpdate{StartRequested: &started})
}

// RemoveSearcher drops this session's searcher or host-request row
func (h *Handler) RemoveSearcher(ctx context.Context) error {
	h.mu.Lock()
	searchID := h.searchID
	h.searchID = ""
	h.mu.Unlock()

	if searchID == "" {
		return nil
	}
	return h.searchers.Remove(ctx, searchID)
}

// RemoveJoiner splices this player out of the joined room without destroying
// the host request
func (h *Handler) RemoveJoiner(ctx context.Context) error {
	h.mu.Lock()
	searchID := h.searchID
	userID := ""
	if h.profile != nil {
		userID = h.profile.ID
	}
	h.searchID = ""
	h.joined = false
	h.mu.Unlock()

	if searchID == "" || userID == "" {
		return nil
	}

	host, err := h.hostRequests.Get(ctx, searchID)
	if err != nil {
		return err
	}

	joined := make([]string, 0, len(host.JoinedPlayers))
	for _, id := range host.JoinedPlayers {
		if id != userID {
			joined = append(joined, id)
		}
	}
	return h.hostRequests.Update(ctx, searchID, state.HostRequestUpdate{JoinedPlayers: &joined})
}

// Disconnect cleans up whatever row this session holds
func (h *Handler) Disconnect(ctx context.Context) {
	h.mu.Lock()
	joined := h.joined
	h.mu.Unlock()

	var err error
	if joined {
		err = h.RemoveJoiner(ctx)
	} else {
		err = h.RemoveSearcher(ctx)
	}
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		log.Printf("[CONNECTOR] Disconnect cleanup failed: %v", err)
	}
}

// Reset clears the session's row reference after match delivery
func (h *Handler) Reset() {
	h.mu.Lock()
	h.searchID = ""
	h.joined = false
	h.mu.Unlock()
}
