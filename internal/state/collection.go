package state

import (
	"context"
	"log"
	"time"
)

// Updater is a partial update: it appends only its present fields
type Updater interface {
	appendFields(w *fieldWriter)
}

// Collection is the typed view of one entity kind on the shared store
type Collection[T any] struct {
	store  *Store
	kind   string
	ttl    time.Duration
	encode func(w *fieldWriter, v T)
	decode func(r *fieldReader, id string) T
}

func newCollection[T any](
	store *Store,
	kind string,
	encode func(w *fieldWriter, v T),
	decode func(r *fieldReader, id string) T,
) *Collection[T] {
	return &Collection[T]{store: store, kind: kind, encode: encode, decode: decode}
}

// WithTTL makes every subsequent insert expire after d. Expiration silently
// removes the row; no remove event fires.
func (c *Collection[T]) WithTTL(d time.Duration) *Collection[T] {
	c.ttl = d
	return c
}

// Kind returns the entity kind served by this collection
func (c *Collection[T]) Kind() string {
	return c.kind
}

// Insert allocates the next id, writes every field under it and publishes the
// insert event. Returns the new id.
func (c *Collection[T]) Insert(ctx context.Context, v T) (string, error) {
	id, err := c.store.nextID(ctx, c.kind)
	if err != nil {
		return "", err
	}

	w := newFieldWriter(id)
	c.encode(w, v)
	if err := c.store.runInsert(ctx, id, w, c.ttl); err != nil {
		return "", err
	}
	return id, nil
}

// Get reads every field of the entity under the given id
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	r, err := newFieldReader(ctx, c.store.rdb, id)
	if err != nil {
		return zero, err
	}
	v := c.decode(r, id)
	if r.err != nil {
		return zero, r.err
	}
	return v, nil
}

// All enumerates every entity of this kind
func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	return c.Filter(ctx, nil)
}

// Filter enumerates the entities of this kind matching pred. A nil pred
// matches everything. Rows that vanish mid-iteration are skipped.
func (c *Collection[T]) Filter(ctx context.Context, pred func(T) bool) ([]T, error) {
	keys, err := c.store.scanKeys(ctx, "*:"+c.kind)
	if err != nil {
		return nil, err
	}

	out := []T{}
	for _, key := range keys {
		v, err := c.Get(ctx, key)
		if err != nil {
			log.Printf("[STATE] Skipping unreadable %s row %s: %v", c.kind, key, err)
			continue
		}
		if pred == nil || pred(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Find returns the first entity matching pred, or ErrNotFound
func (c *Collection[T]) Find(ctx context.Context, pred func(T) bool) (T, error) {
	var zero T
	matches, err := c.Filter(ctx, pred)
	if err != nil {
		return zero, err
	}
	if len(matches) == 0 {
		return zero, ErrNotFound
	}
	return matches[0], nil
}

// Update writes only the present fields of the partial update and publishes
// the update event
func (c *Collection[T]) Update(ctx context.Context, id string, u Updater) error {
	w := newFieldWriter(id)
	u.appendFields(w)
	return c.store.runUpdate(ctx, id, w)
}

// Remove atomically deletes every key of the entity and publishes the remove
// event
func (c *Collection[T]) Remove(ctx context.Context, id string) error {
	return c.store.remove(ctx, id)
}

// OnInsert registers fn for insert events of this kind
func (c *Collection[T]) OnInsert(ctx context.Context, fn func(id string)) {
	c.store.OnInsert(ctx, c.kind, fn)
}

// OnUpdate registers fn for update events of this kind
func (c *Collection[T]) OnUpdate(ctx context.Context, fn func(id string)) {
	c.store.OnUpdate(ctx, c.kind, fn)
}

// OnDelete registers fn for remove events of this kind
func (c *Collection[T]) OnDelete(ctx context.Context, fn func(id string)) {
	c.store.OnDelete(ctx, c.kind, fn)
}
