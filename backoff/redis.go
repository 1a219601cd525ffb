package backoff

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quemgr/sqsrun/types"
)

// DefaultRedisKeyPrefix is prepended to message IDs to form Redis keys
// unless overridden with [WithRedisKeyPrefix].
const DefaultRedisKeyPrefix = "backoff:"

// Hash field names of the persisted entry. Delays are normalized to
// milliseconds on the way in.
const (
	fieldRetryCount  = "retry_count"
	fieldLastFailure = "last_failure_ms"
	fieldBaseDelay   = "base_delay_ms"
	fieldStrategy    = "strategy"
)

// redisAPI is the part of the go-redis client used by RedisStore;
// *redis.Client satisfies it.
type redisAPI interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HIncrBy(ctx context.Context, key, field string, incr int64) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore is a BackoffStore backed by a Redis-compatible server. Each
// entry is a hash at <prefix><id> with the retry count, last failure
// time, base delay, and strategy, so cool-downs are observed by every
// consumer replica.
type RedisStore struct {
	client redisAPI
	prefix string
	now    func() time.Time
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
		now:    time.Now,
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// CanProcess reports whether id has no entry or its cool-down has
// elapsed.
func (s *RedisStore) CanProcess(ctx context.Context, id string) (bool, error) {
	fields, err := s.client.HGetAll(ctx, s.prefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read backoff entry: %w", err)
	}

	if len(fields) == 0 {
		return true, nil
	}

	retryCount, err := strconv.Atoi(fields[fieldRetryCount])
	if err != nil {
		return false, fmt.Errorf("malformed backoff retry count for %s: %w", id, err)
	}

	lastFailureMs, err := strconv.ParseInt(fields[fieldLastFailure], 10, 64)
	if err != nil {
		return false, fmt.Errorf("malformed backoff failure time for %s: %w", id, err)
	}

	baseDelayMs, err := strconv.ParseInt(fields[fieldBaseDelay], 10, 64)
	if err != nil {
		return false, fmt.Errorf("malformed backoff base delay for %s: %w", id, err)
	}

	next := types.NextRetryAt(
		time.UnixMilli(lastFailureMs),
		retryCount,
		time.Duration(baseDelayMs)*time.Millisecond,
		types.RetryStrategy(fields[fieldStrategy]),
	)

	return !s.now().Before(next), nil
}

// RecordFailure bumps the retry count (creating the entry at count 1),
// stamps the failure time, and returns the computed next retry instant.
// The count increment is a server-side HINCRBY, so concurrent failures
// of the same id never lose an increment.
func (s *RedisStore) RecordFailure(ctx context.Context, id string, baseDelay time.Duration, strategy types.RetryStrategy) (time.Time, error) {
	key := s.prefix + id
	now := s.now()

	retryCount, err := s.client.HIncrBy(ctx, key, fieldRetryCount, 1).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to increment backoff retry count: %w", err)
	}

	err = s.client.HSet(ctx, key,
		fieldLastFailure, now.UnixMilli(),
		fieldBaseDelay, baseDelay.Milliseconds(),
		fieldStrategy, string(strategy),
	).Err()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to write backoff entry: %w", err)
	}

	return types.NextRetryAt(now, int(retryCount), baseDelay, strategy), nil
}

// RetryCount returns the recorded failure count for id, 0 if absent.
func (s *RedisStore) RetryCount(ctx context.Context, id string) (int, error) {
	raw, err := s.client.HGet(ctx, s.prefix+id, fieldRetryCount).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read backoff retry count: %w", err)
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("malformed backoff retry count for %s: %w", id, err)
	}

	return n, nil
}

// Clear removes the entry for id, if any.
func (s *RedisStore) Clear(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete backoff entry: %w", err)
	}

	return nil
}
