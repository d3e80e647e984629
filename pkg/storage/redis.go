package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV adapts a go-redis client to the KV interface. Server-side hosts of
// the SDK typically share one Redis instance across processes so cached
// values and failure queues survive restarts.
type RedisKV struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisKV.
type RedisOption func(*RedisKV)

// WithPrefix namespaces every key, letting multiple SDK instances share one
// Redis database.
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisKV) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithTTL bounds how long persisted values live. Zero means no expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisKV) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewRedisKV wraps an existing client. The caller owns the client's
// lifecycle.
func NewRedisKV(client *redis.Client, opts ...RedisOption) *RedisKV {
	r := &RedisKV{client: client, prefix: "flagkit:"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	return v, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

func (r *RedisKV) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}
