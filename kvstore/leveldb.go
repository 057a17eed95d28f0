package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDB stores whole values in a goleveldb database.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a database under dir.
func OpenLevelDB(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open leveldb %s: %w", dir, err)
	}
	return &LevelDB{db: db}, nil
}

// OpenLevelDBMemory opens a database that lives only in memory.
func OpenLevelDBMemory() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open leveldb in memory: %w", err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := l.db.Has([]byte(key), nil)
	if err != nil {
		return false, fmt.Errorf("kvstore: leveldb has: %w", err)
	}
	return ok, nil
}

func (l *LevelDB) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: leveldb get: %w", err)
	}
	return data, nil
}

func (l *LevelDB) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.db.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("kvstore: leveldb put: %w", err)
	}
	return nil
}

// Multi reads every queued key from one snapshot.
func (l *LevelDB) Multi() Batch {
	return &levelBatch{db: l.db}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelBatch struct {
	db   *leveldb.DB
	keys []string
}

func (b *levelBatch) Get(key string) {
	b.keys = append(b.keys, key)
}

func (b *levelBatch) Exec(ctx context.Context) ([]Reply, error) {
	for _, key := range b.keys {
		if err := checkKey(key); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap, err := b.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("kvstore: leveldb snapshot: %w", err)
	}
	defer snap.Release()

	replies := make([]Reply, 0, len(b.keys))
	for _, key := range b.keys {
		reply := Reply{Key: key}
		data, err := snap.Get([]byte(key), nil)
		switch {
		case errors.Is(err, leveldb.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("kvstore: leveldb snapshot get %s: %w", key, err)
		default:
			reply.Found = true
			reply.Value = data
		}
		replies = append(replies, reply)
	}
	return replies, nil
}
