package kvstore

import (
	"context"
	"sort"
	"sync"
)

type entry struct {
	data []byte
}

// Memory implements an in-process Store backed by a plain map.
type Memory struct {
	mu    sync.RWMutex
	items map[string]*entry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]*entry),
	}
}

// Exists reports whether key is stored.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	_, ok := m.items[key]
	m.mu.RUnlock()
	return ok, nil
}

// Get returns a copy of the stored bytes.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	ent, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), ent.data...), nil
}

// Set replaces the value stored under key.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = &entry{data: append([]byte(nil), value...)}
	return nil
}

// Keys reports the keys currently stored, sorted.
func (m *Memory) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Multi starts a batch that reads every queued key under a single read lock.
func (m *Memory) Multi() Batch {
	return &memoryBatch{store: m}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

type memoryBatch struct {
	store *Memory
	keys  []string
}

func (b *memoryBatch) Get(key string) {
	b.keys = append(b.keys, key)
}

func (b *memoryBatch) Exec(ctx context.Context) ([]Reply, error) {
	for _, key := range b.keys {
		if err := checkKey(key); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.store.mu.RLock()
	defer b.store.mu.RUnlock()

	replies := make([]Reply, 0, len(b.keys))
	for _, key := range b.keys {
		reply := Reply{Key: key}
		if ent, ok := b.store.items[key]; ok {
			reply.Found = true
			reply.Value = append([]byte(nil), ent.data...)
		}
		replies = append(replies, reply)
	}
	return replies, nil
}
