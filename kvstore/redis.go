package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis stores whole values as Redis strings.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps an existing client. The caller keeps ownership of options
// such as pool size and timeouts.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// DialRedis connects to a single Redis server and pings it.
func DialRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kvstore: redis ping %s: %w", addr, err)
	}
	return NewRedis(client), nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: redis get: %w", err)
	}
	return data, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("kvstore: redis set: %w", err)
	}
	return nil
}

// Multi queues GETs inside a MULTI/EXEC transaction pipeline.
func (r *Redis) Multi() Batch {
	return &redisBatch{client: r.client}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisBatch struct {
	client redis.UniversalClient
	keys   []string
}

func (b *redisBatch) Get(key string) {
	b.keys = append(b.keys, key)
}

func (b *redisBatch) Exec(ctx context.Context) ([]Reply, error) {
	for _, key := range b.keys {
		if err := checkKey(key); err != nil {
			return nil, err
		}
	}
	if len(b.keys) == 0 {
		return nil, nil
	}

	pipe := b.client.TxPipeline()
	cmds := make([]*redis.StringCmd, 0, len(b.keys))
	for _, key := range b.keys {
		cmds = append(cmds, pipe.Get(ctx, key))
	}
	// Exec reports redis.Nil when any GET missed; that is a reply, not a failure.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("kvstore: redis exec: %w", err)
	}

	replies := make([]Reply, 0, len(cmds))
	for i, cmd := range cmds {
		reply := Reply{Key: b.keys[i]}
		data, err := cmd.Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return nil, fmt.Errorf("kvstore: redis exec get %s: %w", b.keys[i], err)
		default:
			reply.Found = true
			reply.Value = data
		}
		replies = append(replies, reply)
	}
	return replies, nil
}
