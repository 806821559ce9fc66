package state

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const eventPrefix = "events"

// ErrNotFound occurs when no entity exists under the requested id
var ErrNotFound = errors.New("entity not found")

// Store is the shared typed KV store. Every entity lives under an id of the
// form "<n>:<kind>" with one Redis key per field ("<n>:<kind>:<field>"), so
// individual fields can be observed and updated independently. Ids are
// allocated from a single atomic counter.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a store on top of an established Redis client
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Client exposes the underlying Redis client, mainly for pub/sub consumers
func (s *Store) Client() *redis.Client {
	return s.rdb
}

func (s *Store) nextID(ctx context.Context, kind string) (string, error) {
	n, err := s.rdb.Incr(ctx, "uuid_inc").Result()
	if err != nil {
		return "", fmt.Errorf("failed to allocate id: %w", err)
	}
	return fmt.Sprintf("%d:%s", n, kind), nil
}

func (s *Store) publish(ctx context.Context, op, id string) {
	channel := fmt.Sprintf("%s:%s:%s", eventPrefix, op, id)
	if err := s.rdb.Publish(ctx, channel, id).Err(); err != nil {
		log.Printf("[STATE] Failed to publish %s event for %s: %v", op, id, err)
	}
}

// scanKeys collects every key matching the given pattern
func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// remove atomically deletes every key under the id prefix and publishes the
// remove event. Used by all collections regardless of entity kind.
func (s *Store) remove(ctx context.Context, id string) error {
	keys, err := s.scanKeys(ctx, id+"*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return ErrNotFound
	}

	pipe := s.rdb.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}

	s.publish(ctx, "remove", id)
	return nil
}

// runInsert executes the writer's operations as one transaction under the
// given id, applying the TTL per key when set, and publishes the insert event.
func (s *Store) runInsert(ctx context.Context, id string, w *fieldWriter, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, id, "", ttl)
	for _, set := range w.sets {
		pipe.Set(ctx, set.key, set.value, ttl)
	}
	for _, h := range w.hashes {
		if len(h.fields) > 0 {
			pipe.HSet(ctx, h.key, h.fields)
		}
		if ttl > 0 {
			pipe.Expire(ctx, h.key, ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("insert %s: %w", id, err)
	}

	s.publish(ctx, "insert", id)
	return nil
}

// runUpdate writes only the present fields of a partial update as one
// transaction and publishes the update event. Vector fields are cleared
// before the rewrite so a shrinking list leaves no stale index keys behind.
func (s *Store) runUpdate(ctx context.Context, id string, w *fieldWriter) error {
	var stale []string
	for _, prefix := range w.clears {
		keys, err := s.scanKeys(ctx, prefix+":*")
		if err != nil {
			return err
		}
		stale = append(stale, keys...)
	}

	// Newly created keys must inherit the row's remaining TTL; a grown
	// vector may not outlive its row.
	remaining, err := s.rdb.PTTL(ctx, id).Result()
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	expiry := time.Duration(redis.KeepTTL)
	if remaining > 0 {
		expiry = remaining
	}

	pipe := s.rdb.TxPipeline()
	for _, key := range stale {
		pipe.Del(ctx, key)
	}
	for _, set := range w.sets {
		pipe.Set(ctx, set.key, set.value, expiry)
	}
	for _, h := range w.hashes {
		pipe.Del(ctx, h.key)
		if len(h.fields) > 0 {
			pipe.HSet(ctx, h.key, h.fields)
		}
		if remaining > 0 {
			pipe.Expire(ctx, h.key, remaining)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}

	s.publish(ctx, "update", id)
	return nil
}

// OnInsert registers a handler for insert events of the given kind. The
// handler receives the entity id and must not block; long work belongs in a
// goroutine of its own.
func (s *Store) OnInsert(ctx context.Context, kind string, fn func(id string)) {
	s.onEvent(ctx, "insert", kind, fn)
}

// OnUpdate registers a handler for update events of the given kind
func (s *Store) OnUpdate(ctx context.Context, kind string, fn func(id string)) {
	s.onEvent(ctx, "update", kind, fn)
}

// OnDelete registers a handler for remove events of the given kind
func (s *Store) OnDelete(ctx context.Context, kind string, fn func(id string)) {
	s.onEvent(ctx, "remove", kind, fn)
}

func (s *Store) onEvent(ctx context.Context, op, kind string, fn func(id string)) {
	pattern := fmt.Sprintf("%s:%s:*:%s", eventPrefix, op, kind)
	pubsub := s.rdb.PSubscribe(ctx, pattern)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fn(msg.Payload)
			}
		}
	}()
}

// KindOf extracts the entity kind from an id of the form "<n>:<kind>"
func KindOf(id string) string {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
