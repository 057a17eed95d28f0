package kvstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio1/r1-hashfield/internal/devseed"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	level, err := OpenLevelDBMemory()
	require.NoError(t, err)

	bdg, err := OpenBadger("")
	require.NoError(t, err)

	srv := miniredis.RunT(t)
	rds := NewRedis(redis.NewClient(&redis.Options{Addr: srv.Addr()}))

	stores := map[string]Store{
		"memory":  NewMemory(),
		"leveldb": level,
		"badger":  bdg,
		"redis":   rds,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoreSetGetExists(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.Exists(ctx, "jobs")
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.Get(ctx, "jobs")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "jobs", []byte(`{"a":1}`)))

			ok, err = s.Exists(ctx, "jobs")
			require.NoError(t, err)
			assert.True(t, ok)

			data, err := s.Get(ctx, "jobs")
			require.NoError(t, err)
			assert.Equal(t, `{"a":1}`, string(data))

			require.NoError(t, s.Set(ctx, "jobs", []byte(`{}`)))
			data, err = s.Get(ctx, "jobs")
			require.NoError(t, err)
			assert.Equal(t, `{}`, string(data))
		})
	}
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.Set(ctx, " ", []byte("1")))
			_, err := s.Get(ctx, "")
			assert.Error(t, err)
			_, err = s.Exists(ctx, "")
			assert.Error(t, err)
		})
	}
}

func TestBatchPreservesOrder(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "b", []byte("2")))
			require.NoError(t, s.Set(ctx, "a", []byte("1")))

			batch := s.Multi()
			batch.Get("a")
			batch.Get("missing")
			batch.Get("b")
			batch.Get("a")
			replies, err := batch.Exec(ctx)
			require.NoError(t, err)
			require.Len(t, replies, 4)

			assert.Equal(t, Reply{Key: "a", Found: true, Value: []byte("1")}, replies[0])
			assert.Equal(t, "missing", replies[1].Key)
			assert.False(t, replies[1].Found)
			assert.Equal(t, []byte("2"), replies[2].Value)
			assert.Equal(t, []byte("1"), replies[3].Value)
		})
	}
}

func TestBatchEmptyKeyFailsWhole(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			batch := s.Multi()
			batch.Get("a")
			batch.Get("")
			replies, err := batch.Exec(ctx)
			assert.Error(t, err)
			assert.Nil(t, replies)
		})
	}
}

func TestMemoryKeys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "jobs:2", []byte(`"two"`)))
	require.NoError(t, m.Set(ctx, "jobs:1", []byte(`"one"`)))

	keys, err := m.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"jobs:1", "jobs:2"}, keys)
}

func TestMemoryCancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Set(ctx, "k", []byte("1")), context.Canceled)
	_, err := m.Multi().Exec(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	entries := []devseed.Entry{
		{Key: "hello", Value: json.RawMessage(`{"value":"world"}`)},
		{Key: "empty"},
	}
	require.NoError(t, Seed(ctx, m, entries))

	data, err := m.Get(ctx, "hello")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"world"}`, string(data))

	data, err = m.Get(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	assert.Error(t, Seed(ctx, m, []devseed.Entry{{Key: ""}}))
	assert.Error(t, Seed(ctx, nil, entries))
}
