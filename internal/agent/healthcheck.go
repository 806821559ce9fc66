package agent

import (
	"context"
	"log"
	"sync"
	"time"

	"matchfabric/internal/state"
)

// ClientTimeout is how long a game server may stay silent before it is
// marked unhealthy
const ClientTimeout = 30 * time.Second

// Tracker follows game-server heartbeats. The first heartbeat of a client
// flips its server healthy; silence beyond ClientTimeout flips it back.
type Tracker struct {
	gameServers *state.Collection[state.GameServer]

	mu      sync.Mutex
	clients map[string]time.Time
	now     func() time.Time
}

// NewTracker creates a tracker over the game-server collection
func NewTracker(gameServers *state.Collection[state.GameServer]) *Tracker {
	return &Tracker{
		gameServers: gameServers,
		clients:     make(map[string]time.Time),
		now:         time.Now,
	}
}

// Refresh records a heartbeat. clientID is the server's private address.
func (t *Tracker) Refresh(ctx context.Context, clientID string) {
	t.mu.Lock()
	_, known := t.clients[clientID]
	t.clients[clientID] = t.now()
	t.mu.Unlock()

	if known {
		return
	}
	t.setHealthy(ctx, clientID, true)
}

// Check evicts every client silent for ClientTimeout or longer and marks its
// server unhealthy. Returns whether any clients remain.
func (t *Tracker) Check(ctx context.Context) bool {
	now := t.now()

	t.mu.Lock()
	expired := []string{}
	for clientID, lastSeen := range t.clients {
		if now.Sub(lastSeen) >= ClientTimeout {
			expired = append(expired, clientID)
			delete(t.clients, clientID)
		}
	}
	remaining := len(t.clients)
	t.mu.Unlock()

	for _, clientID := range expired {
		log.Printf("[AGENT] Game server timed out: %s", clientID)
		t.setHealthy(ctx, clientID, false)
	}
	return remaining > 0
}

// Run sweeps once per second until the context is cancelled
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Check(ctx)
		}
	}
}

func (t *Tracker) setHealthy(ctx context.Context, clientID string, healthy bool) {
	server, err := t.gameServers.Find(ctx, func(s state.GameServer) bool {
		return s.ServerPriv == clientID
	})
	if err != nil {
		log.Printf("[AGENT] Heartbeat from unknown server %s: %v", clientID, err)
		return
	}

	if err := t.gameServers.Update(ctx, server.ID, state.GameServerUpdate{Healthy: &healthy}); err != nil {
		log.Printf("[AGENT] Failed to update server %s health: %v", server.ID, err)
	}
}
