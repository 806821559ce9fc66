package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Field encoding: scalars are plain strings, booleans are "1"/"0", timestamps
// are seconds since epoch, vectors fan out to index-suffixed keys and maps
// live in a single Redis hash.

type keyValue struct {
	key   string
	value string
}

type hashValue struct {
	key    string
	fields map[string]string
}

// fieldWriter collects the per-field write operations of one insert or
// partial update so the store can run them in a single transaction.
type fieldWriter struct {
	base   string
	sets   []keyValue
	hashes []hashValue
	clears []string
}

func newFieldWriter(base string) *fieldWriter {
	return &fieldWriter{base: base}
}

func (w *fieldWriter) str(field, value string) {
	w.sets = append(w.sets, keyValue{key: w.base + ":" + field, value: value})
}

func (w *fieldWriter) num(field string, value int) {
	w.str(field, strconv.Itoa(value))
}

func (w *fieldWriter) boolean(field string, value bool) {
	if value {
		w.str(field, "1")
	} else {
		w.str(field, "0")
	}
}

func (w *fieldWriter) unixTime(field string, t time.Time) {
	w.str(field, strconv.FormatInt(t.Unix(), 10))
}

func (w *fieldWriter) strs(field string, values []string) {
	w.clears = append(w.clears, w.base+":"+field)
	for i, v := range values {
		w.str(fmt.Sprintf("%s:%d", field, i), v)
	}
}

func (w *fieldWriter) strMap(field string, values map[string]string) {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		fields[k] = v
	}
	w.hashes = append(w.hashes, hashValue{key: w.base + ":" + field, fields: fields})
}

// fieldReader reads the fields of one entity. The first failed read sticks;
// every later accessor becomes a no-op so decoders stay linear.
type fieldReader struct {
	ctx  context.Context
	rdb  *redis.Client
	base string
	err  error
}

func newFieldReader(ctx context.Context, rdb *redis.Client, base string) (*fieldReader, error) {
	if err := rdb.Get(ctx, base).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", base, err)
	}
	return &fieldReader{ctx: ctx, rdb: rdb, base: base}, nil
}

func (r *fieldReader) fail(field string, err error) {
	if r.err == nil {
		if errors.Is(err, redis.Nil) {
			err = ErrNotFound
		}
		r.err = fmt.Errorf("field %s of %s: %w", field, r.base, err)
	}
}

func (r *fieldReader) str(field string) string {
	if r.err != nil {
		return ""
	}
	v, err := r.rdb.Get(r.ctx, r.base+":"+field).Result()
	if err != nil {
		r.fail(field, err)
		return ""
	}
	return v
}

func (r *fieldReader) num(field string) int {
	v := r.str(field)
	if r.err != nil {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(field, err)
		return 0
	}
	return n
}

func (r *fieldReader) boolean(field string) bool {
	return r.str(field) == "1"
}

func (r *fieldReader) unixTime(field string) time.Time {
	v := r.num(field)
	if r.err != nil {
		return time.Time{}
	}
	return time.Unix(int64(v), 0)
}

func (r *fieldReader) strs(field string) []string {
	if r.err != nil {
		return nil
	}
	values := []string{}
	for i := 0; ; i++ {
		v, err := r.rdb.Get(r.ctx, fmt.Sprintf("%s:%s:%d", r.base, field, i)).Result()
		if errors.Is(err, redis.Nil) {
			return values
		}
		if err != nil {
			r.fail(field, err)
			return nil
		}
		values = append(values, v)
	}
}

func (r *fieldReader) strMap(field string) map[string]string {
	if r.err != nil {
		return nil
	}
	values, err := r.rdb.HGetAll(r.ctx, r.base+":"+field).Result()
	if err != nil {
		r.fail(field, err)
		return nil
	}
	return values
}
