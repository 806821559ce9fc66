package connector

import (
	"context"
	"log"
	"sync"

	"matchfabric/internal/state"
)

// Notifier delivers found matches to waiting sessions. Each registration is
// one-shot: the first delivery for a player consumes it.
type Notifier struct {
	activeMatches *state.Collection[state.ActiveMatch]

	mu      sync.Mutex
	waiting map[string]func(Match)
}

// NewNotifier creates a notifier over the shared store
func NewNotifier(store *state.Store) *Notifier {
	return &Notifier{
		activeMatches: state.ActiveMatches(store),
		waiting:       make(map[string]func(Match)),
	}
}

// NotifyOnMatch registers fn to fire once when a match for playerID appears.
// A second registration for the same player replaces the first.
func (n *Notifier) NotifyOnMatch(playerID string, fn func(Match)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.waiting[playerID] = fn
}

// Forget drops a pending registration, typically on disconnect
func (n *Notifier) Forget(playerID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.waiting, playerID)
}

// Deliver consumes the registration for playerID and invokes it. Returns
// whether a waiter was present.
func (n *Notifier) Deliver(playerID string, m Match) bool {
	n.mu.Lock()
	fn, ok := n.waiting[playerID]
	if ok {
		delete(n.waiting, playerID)
	}
	n.mu.Unlock()

	if !ok {
		return false
	}
	fn(m)
	return true
}

// Watch subscribes to active-match inserts and fans each one out to the
// waiting players it names
func (n *Notifier) Watch(ctx context.Context) {
	n.activeMatches.OnInsert(ctx, func(id string) {
		am, err := n.activeMatches.Get(ctx, id)
		if err != nil {
			log.Printf("[CONNECTOR] Failed to read new match %s: %v", id, err)
			return
		}
		for playerID := range am.PlayerWrite {
			if n.Deliver(playerID, MatchFromActive(am, playerID)) {
				log.Printf("[CONNECTOR] Match %s delivered to player %s", id, playerID)
			}
		}
	})
}
