package hashfield

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyLocks hands out one exclusive lock per key. Entries are reference
// counted and dropped once no caller holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// lock blocks until key is free or ctx is done.
func (t *keyLocks) lock(ctx context.Context, key string) (unlock func(), err error) {
	t.mu.Lock()
	kl, ok := t.locks[key]
	if !ok {
		kl = &keyLock{sem: semaphore.NewWeighted(1)}
		t.locks[key] = kl
	}
	kl.refs++
	t.mu.Unlock()

	if err := kl.sem.Acquire(ctx, 1); err != nil {
		t.release(key, kl)
		return nil, err
	}
	return func() {
		kl.sem.Release(1)
		t.release(key, kl)
	}, nil
}

func (t *keyLocks) release(key string, kl *keyLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(t.locks, key)
	}
}

func (t *keyLocks) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
