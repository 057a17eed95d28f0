package kvstore

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v2"
)

// Badger stores whole values in a badger database.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens a database under dir. An empty dir opens an in-memory
// database.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("kvstore: badger exists: %w", err)
	}
	return found, nil
}

func (b *Badger) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: badger get: %w", err)
	}
	return data, nil
}

func (b *Badger) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), append([]byte(nil), value...))
	})
	if err != nil {
		return fmt.Errorf("kvstore: badger set: %w", err)
	}
	return nil
}

// Multi reads every queued key inside one read-only transaction.
func (b *Badger) Multi() Batch {
	return &badgerBatch{db: b.db}
}

func (b *Badger) Close() error {
	return b.db.Close()
}

type badgerBatch struct {
	db   *badger.DB
	keys []string
}

func (b *badgerBatch) Get(key string) {
	b.keys = append(b.keys, key)
}

func (b *badgerBatch) Exec(ctx context.Context) ([]Reply, error) {
	for _, key := range b.keys {
		if err := checkKey(key); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	replies := make([]Reply, 0, len(b.keys))
	err := b.db.View(func(txn *badger.Txn) error {
		for _, key := range b.keys {
			reply := Reply{Key: key}
			item, err := txn.Get([]byte(key))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				reply.Found = true
				if reply.Value, err = item.ValueCopy(nil); err != nil {
					return err
				}
			}
			replies = append(replies, reply)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: badger exec: %w", err)
	}
	return replies, nil
}
