// Package kvstore holds the whole-value key/value backends the hash layer is
// built on. Values are opaque byte slices; backends never look inside them.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Ratio1/r1-hashfield/internal/devseed"
)

var (
	// ErrNotFound is returned by Get when a key is missing.
	ErrNotFound = errors.New("kvstore: not found")
)

// Store is a whole-value key/value store. Implementations must be safe for
// concurrent use.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Multi starts a batch of queued reads executed in one round trip.
	Multi() Batch
	Close() error
}

// Batch queues reads and executes them together. Replies come back in the
// order the reads were queued; a failing Exec yields no replies at all.
type Batch interface {
	Get(key string)
	Exec(ctx context.Context) ([]Reply, error)
}

// Reply is the outcome of one queued read.
type Reply struct {
	Key   string
	Found bool
	Value []byte
}

// Seed writes seed entries through any Store.
func Seed(ctx context.Context, store Store, entries []devseed.Entry) error {
	if store == nil {
		return fmt.Errorf("kvstore: store is nil")
	}
	for _, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			return fmt.Errorf("kvstore: seed entry missing key")
		}
		data := append([]byte(nil), e.Value...)
		if len(data) == 0 {
			data = []byte("null")
		}
		if err := store.Set(ctx, e.Key, data); err != nil {
			return fmt.Errorf("kvstore: seed %s: %w", e.Key, err)
		}
	}
	return nil
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("kvstore: key is required")
	}
	return nil
}
