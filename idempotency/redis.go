package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix is prepended to message IDs to form Redis keys
// unless overridden with [WithRedisKeyPrefix].
const DefaultRedisKeyPrefix = "idempotency:"

// redisAPI is the part of the go-redis client used by RedisStore. Narrow
// on purpose so tests can substitute a mock; *redis.Client satisfies it.
type redisAPI interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore is an IdempotencyStore backed by a Redis-compatible server.
// Each processed ID is a string key holding "1" with a server-enforced
// TTL, so entries expire without any sweeping on the consumer side and
// deduplication works across consumer replicas.
type RedisStore struct {
	client redisAPI
	prefix string
}

// RedisOption configures a [RedisStore].
type RedisOption func(*RedisStore)

// WithRedisKeyPrefix overrides the key prefix. Default:
// [DefaultRedisKeyPrefix].
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore returns a RedisStore using the given client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	return newRedisStore(client, opts...)
}

func newRedisStore(client redisAPI, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisKeyPrefix,
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// HasProcessed reports whether an unexpired key exists for id.
func (s *RedisStore) HasProcessed(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	return n > 0, nil
}

// MarkProcessed (re)sets the key for id with the given TTL.
func (s *RedisStore) MarkProcessed(ctx context.Context, id string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+id, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to set idempotency key: %w", err)
	}

	return nil
}

// Remove deletes the key for id. Deleting an absent key is a no-op.
func (s *RedisStore) Remove(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete idempotency key: %w", err)
	}

	return nil
}
