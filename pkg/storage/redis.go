package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each cursor under prefix + key.
type RedisStore struct {
	client redis.Cmdable
	closer func() error
	prefix string
}

// NewRedisStore connects to addr and pings it.
// prefix defaults to "gamefinder:".
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return NewRedisStoreWithClient(rdb, prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gamefinder:"
	}
	return &RedisStore{client: rdb, closer: rdb.Close, prefix: prefix}
}

func (r *RedisStore) LoadCursor(ctx context.Context, key string) (uint64, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisStore) SaveCursor(ctx context.Context, key string, height uint64) error {
	if err := r.client.Set(ctx, r.prefix+key, height, 0).Err(); err != nil {
		return fmt.Errorf("save cursor %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
