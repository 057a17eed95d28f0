// Package hashfield adds Redis-style hash commands on top of a whole-value
// key/value store.
//
// A hash lives under a single store key as a JSON object. Every command reads
// the whole object, changes it in memory and writes it back with one Set.
// Commands on the same key are serialized by a per-key lock held across that
// read-modify-write cycle, so concurrent writers on distinct fields never lose
// each other's updates. The lock is local to one Layer: processes sharing a
// store must route a key through a single Layer to keep that guarantee.
//
// Higher-level commands are composed from three primitives (hexists, hget and
// hset) rather than repeating the cycle; HIncrBy, for instance, is
// hexists, hget and then hset under one lock.
package hashfield

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ratio1/r1-hashfield/kvstore"
)

// FieldValue is one field assignment passed to HMSet.
type FieldValue struct {
	Field string `json:"key"`
	Value Value  `json:"value"`
}

// FieldResult echoes an applied field change.
type FieldResult struct {
	Key   string `json:"hkey"`
	Field string `json:"key"`
	Value Value  `json:"value"`
}

// Layer implements the hash commands over a kvstore.Store.
type Layer struct {
	store    kvstore.Store
	observer Observer
	log      zerolog.Logger
	locks    *keyLocks
	now      func() time.Time

	// emitMu orders delivery: Seq is assigned and the observer notified
	// under it, so observers see events in Seq order.
	emitMu sync.Mutex
	seq    uint64

	// created marks keys whose hash this layer brought into existence. It is
	// bookkeeping only; the store stays the source of truth.
	created sync.Map
}

// Option configures a Layer.
type Option func(*Layer)

// WithObserver delivers mutation events to o.
func WithObserver(o Observer) Option {
	return func(l *Layer) { l.observer = o }
}

// WithLogger sets the logger used for per-command debug output.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Layer) { l.log = log }
}

// New returns a Layer backed by store.
func New(store kvstore.Store, opts ...Option) *Layer {
	l := &Layer{
		store: store,
		log:   zerolog.Nop(),
		locks: newKeyLocks(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the backing store.
func (l *Layer) Store() kvstore.Store { return l.store }

// call carries the events produced while a key lock is held; they are
// delivered only after the lock is released.
type call struct {
	l      *Layer
	events []Event
}

func (c *call) emit(name EventName, key, field string, v Value) {
	c.events = append(c.events, Event{Name: name, Key: key, Field: field, Value: v})
}

func (c *call) flush() {
	if len(c.events) == 0 {
		return
	}
	l := c.l
	l.emitMu.Lock()
	defer l.emitMu.Unlock()
	for _, ev := range c.events {
		l.seq++
		ev.ID = uuid.NewString()
		ev.Seq = l.seq
		ev.At = l.now()
		if l.observer != nil {
			l.observer.Notify(ev)
		}
	}
	c.events = nil
}

// withKey runs fn holding key's lock and flushes its events afterwards.
// The lock is released even if fn panics; events are then dropped.
func withKey[T any](ctx context.Context, l *Layer, key string, fn func(c *call) (T, error)) (T, error) {
	var zero T
	if strings.TrimSpace(key) == "" {
		return zero, errKeyRequired
	}
	c := &call{l: l}
	res, err := func() (T, error) {
		unlock, err := l.locks.lock(ctx, key)
		if err != nil {
			return zero, err
		}
		defer unlock()
		return fn(c)
	}()
	c.flush()
	return res, err
}

// load fetches and decodes the hash under key. A missing key yields
// (nil, false, nil).
func (c *call) load(ctx context.Context, key string) (Hash, bool, error) {
	ok, err := c.l.store.Exists(ctx, key)
	if err != nil {
		return nil, false, &StoreError{Op: "exists", Key: key, Err: err}
	}
	if !ok {
		return nil, false, nil
	}
	data, err := c.l.store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StoreError{Op: "get", Key: key, Err: err}
	}
	h, err := decodeHash(data)
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

func (c *call) save(ctx context.Context, key string, h Hash) error {
	data, err := encodeHash(h)
	if err != nil {
		return err
	}
	if err := c.l.store.Set(ctx, key, data); err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (c *call) hexists(ctx context.Context, key, field string) (bool, error) {
	h, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	_, ok = h[field]
	return ok, nil
}

func (c *call) hget(ctx context.Context, key, field string) (Value, error) {
	h, ok, err := c.load(ctx, key)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, noSuchKey(key)
	}
	v, ok := h[field]
	if !ok {
		return Value{}, noSuchField(key, field)
	}
	return v, nil
}

func (c *call) hset(ctx context.Context, key, field string, v Value) (FieldResult, error) {
	h, existed, err := c.load(ctx, key)
	if err != nil {
		return FieldResult{}, err
	}
	if !existed {
		h = Hash{}
	}
	h[field] = v
	if err := c.save(ctx, key, h); err != nil {
		return FieldResult{}, err
	}
	if !existed {
		c.l.created.Store(key, struct{}{})
	}
	c.l.log.Debug().Str("key", key).Str("field", field).Str("value", v.String()).Msg("hset")
	c.emit(EventHSet, key, field, v)
	return FieldResult{Key: key, Field: field, Value: v}, nil
}

func (c *call) hdel(ctx context.Context, key, field string) (FieldResult, error) {
	h, ok, err := c.load(ctx, key)
	if err != nil {
		return FieldResult{}, err
	}
	if !ok {
		return FieldResult{}, noSuchKey(key)
	}
	removed, ok := h[field]
	if !ok {
		return FieldResult{}, noSuchField(key, field)
	}
	delete(h, field)
	if err := c.save(ctx, key, h); err != nil {
		return FieldResult{}, err
	}
	c.l.log.Debug().Str("key", key).Str("field", field).Msg("hdel")
	c.emit(EventHDel, key, field, removed)
	return FieldResult{Key: key, Field: field, Value: removed}, nil
}

// HExists reports whether field is set in the hash at key. A missing key is
// not an error.
func (l *Layer) HExists(ctx context.Context, key, field string) (bool, error) {
	return withKey(ctx, l, key, func(c *call) (bool, error) {
		return c.hexists(ctx, key, field)
	})
}

// HGet returns the value of field. It fails with ErrNoSuchKey or
// ErrNoSuchField.
func (l *Layer) HGet(ctx context.Context, key, field string) (Value, error) {
	return withKey(ctx, l, key, func(c *call) (Value, error) {
		return c.hget(ctx, key, field)
	})
}

// HSet sets field to v, creating the hash if the key is absent, and emits
// an hset event.
func (l *Layer) HSet(ctx context.Context, key, field string, v Value) (FieldResult, error) {
	return withKey(ctx, l, key, func(c *call) (FieldResult, error) {
		return c.hset(ctx, key, field, v)
	})
}

// HSetNX sets field only if it is not already present; otherwise it fails
// with ErrFieldExists and leaves the hash untouched.
func (l *Layer) HSetNX(ctx context.Context, key, field string, v Value) (FieldResult, error) {
	return withKey(ctx, l, key, func(c *call) (FieldResult, error) {
		exists, err := c.hexists(ctx, key, field)
		if err != nil {
			return FieldResult{}, err
		}
		if exists {
			return FieldResult{}, fmtFieldExists(key, field)
		}
		return c.hset(ctx, key, field, v)
	})
}

// HDel removes field and returns its former value. The hash stays in the
// store even when its last field is removed.
func (l *Layer) HDel(ctx context.Context, key, field string) (FieldResult, error) {
	return withKey(ctx, l, key, func(c *call) (FieldResult, error) {
		return c.hdel(ctx, key, field)
	})
}

func (l *Layer) wasCreated(key string) bool {
	_, ok := l.created.Load(key)
	return ok
}
