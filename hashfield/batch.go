package hashfield

import (
	"context"
	"fmt"
	"strings"
)

// Multi queues HGet reads and runs them as one store batch.
type Multi struct {
	l   *Layer
	ops []queuedGet
}

type queuedGet struct {
	key   string
	field string
}

// Multi starts an empty batch.
func (l *Layer) Multi() *Multi {
	return &Multi{l: l}
}

// HGet queues a field read.
func (m *Multi) HGet(key, field string) *Multi {
	m.ops = append(m.ops, queuedGet{key: key, field: field})
	return m
}

// Len is the number of queued reads.
func (m *Multi) Len() int { return len(m.ops) }

// Exec reads every distinct key once, in a single store round trip, and
// resolves the queued reads in order. The first failing read fails the whole
// batch and no values are returned.
func (m *Multi) Exec(ctx context.Context) ([]Value, error) {
	if len(m.ops) == 0 {
		return []Value{}, nil
	}

	index := make(map[string]int)
	batch := m.l.store.Multi()
	for _, op := range m.ops {
		if strings.TrimSpace(op.key) == "" {
			return nil, errKeyRequired
		}
		if _, ok := index[op.key]; !ok {
			index[op.key] = len(index)
			batch.Get(op.key)
		}
	}

	replies, err := batch.Exec(ctx)
	if err != nil {
		return nil, &StoreError{Op: "exec", Key: m.ops[0].key, Err: err}
	}
	if len(replies) != len(index) {
		return nil, &StoreError{Op: "exec", Key: m.ops[0].key, Err: fmt.Errorf("got %d replies for %d keys", len(replies), len(index))}
	}

	hashes := make([]Hash, len(replies))
	values := make([]Value, 0, len(m.ops))
	for _, op := range m.ops {
		i := index[op.key]
		if !replies[i].Found {
			return nil, noSuchKey(op.key)
		}
		if hashes[i] == nil {
			h, err := decodeHash(replies[i].Value)
			if err != nil {
				return nil, err
			}
			hashes[i] = h
		}
		v, ok := hashes[i][op.field]
		if !ok {
			return nil, noSuchField(op.key, op.field)
		}
		values = append(values, v)
	}
	return values, nil
}

// HMGet returns the values of fields in input order. Any missing field or
// key fails the whole call.
func (l *Layer) HMGet(ctx context.Context, key string, fields []string) ([]Value, error) {
	m := l.Multi()
	for _, f := range fields {
		m.HGet(key, f)
	}
	return m.Exec(ctx)
}

// HMSet applies HSet once per pair, in slice order, under one lock. Every
// pair is attempted; if any failed the result is a *FieldErrors listing all
// failures alongside the pairs that were applied.
func (l *Layer) HMSet(ctx context.Context, key string, pairs []FieldValue) ([]FieldResult, error) {
	return withKey(ctx, l, key, func(c *call) ([]FieldResult, error) {
		results := make([]FieldResult, 0, len(pairs))
		var errs []error
		for _, p := range pairs {
			res, err := c.hset(ctx, key, p.Field, p.Value)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			results = append(results, res)
		}
		if len(errs) > 0 {
			return nil, &FieldErrors{Applied: results, Errors: errs}
		}
		return results, nil
	})
}

// HSetFields sets every pair with one read and one write under key's lock
// and reports how many fields were new. Either all pairs are stored or, if
// the write fails, none are. A field repeated in pairs counts once and the
// last value wins.
func (l *Layer) HSetFields(ctx context.Context, key string, pairs []FieldValue) (int, error) {
	return withKey(ctx, l, key, func(c *call) (int, error) {
		if len(pairs) == 0 {
			return 0, nil
		}
		h, existed, err := c.load(ctx, key)
		if err != nil {
			return 0, err
		}
		if !existed {
			h = Hash{}
		}
		added := 0
		for _, p := range pairs {
			if _, ok := h[p.Field]; !ok {
				added++
			}
			h[p.Field] = p.Value
		}
		if err := c.save(ctx, key, h); err != nil {
			return 0, err
		}
		if !existed {
			c.l.created.Store(key, struct{}{})
		}
		for _, p := range pairs {
			c.emit(EventHSet, key, p.Field, p.Value)
		}
		return added, nil
	})
}
