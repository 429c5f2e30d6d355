package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache backed by a Redis server, shared between all processes
// pointing at the same instance.
type Redis struct {
	db  *redis.Client
	ttl time.Duration
}

// OpenRedis connects to the Redis server at address and verifies the
// connection with a ping. Entries expire ttl after they were set; zero keeps
// them until evicted by the server.
func OpenRedis(ctx context.Context, address, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, Error.New("ping failed: %v", err)
	}

	return &Redis{db: client, ttl: ttl}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	value, err := r.db.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Error.Wrap(err)
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	return Error.Wrap(r.db.Set(ctx, key, value, r.ttl).Err())
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return Error.Wrap(r.db.Del(ctx, key).Err())
}

func (r *Redis) Close() error {
	return r.db.Close()
}
