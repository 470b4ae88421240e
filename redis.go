package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/charlieparkes/go-datafixtures/internal/env"
)

type RedisOpt func(*redisOptions)

type redisOptions struct {
	prefix string
	ttl    time.Duration
}

// RedisKeyPrefix is prepended to every key, which keeps fixtures from different tests apart.
func RedisKeyPrefix(prefix string) RedisOpt {
	return func(o *redisOptions) {
		o.prefix = prefix
	}
}

// RedisTTL expires fixture keys even if cleanup never runs. Zero (the default) means no expiry.
func RedisTTL(ttl time.Duration) RedisOpt {
	return func(o *redisOptions) {
		o.ttl = ttl
	}
}

// RedisBackend stores each record as a JSON string under the key computed by key.
type RedisBackend[R any] struct {
	client goredis.Cmdable
	key    func(R) string
	prefix string
	ttl    time.Duration
}

var _ Backend[any] = (*RedisBackend[any])(nil)

func NewRedisBackend[R any](client goredis.Cmdable, key func(R) string, opts ...RedisOpt) *RedisBackend[R] {
	o := &redisOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return &RedisBackend[R]{
		client: client,
		key:    key,
		prefix: o.prefix,
		ttl:    o.ttl,
	}
}

func (b *RedisBackend[R]) Key(record R) string {
	return b.prefix + b.key(record)
}

func (b *RedisBackend[R]) Insert(ctx context.Context, record R) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := b.client.Set(ctx, b.Key(record), data, b.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %v: %w", b.Key(record), err)
	}
	return nil
}

func (b *RedisBackend[R]) Remove(ctx context.Context, record R) error {
	if err := b.client.Del(ctx, b.Key(record)).Err(); err != nil {
		return fmt.Errorf("failed to delete %v: %w", b.Key(record), err)
	}
	return nil
}

// Get reads a stored record back by its unprefixed key.
func (b *RedisBackend[R]) Get(ctx context.Context, key string) (R, error) {
	var record R
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if err != nil {
		return record, err
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("failed to unmarshal %v: %w", b.prefix+key, err)
	}
	return record, nil
}

// Keys lists the keys under the backend's prefix.
func (b *RedisBackend[R]) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// NewRedisClient connects to addr, or to FIXTURES_REDIS_ADDR when addr is empty.
func NewRedisClient(ctx context.Context, addr string) (*goredis.Client, error) {
	if addr == "" {
		addr = env.Get().RedisAddr
	}
	if addr == "" {
		return nil, fmt.Errorf("no redis address configured")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %v: %w", addr, err)
	}
	return client, nil
}
