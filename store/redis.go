package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps per-device values in Redis under "<prefix><deviceID>:<key>".
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore scopes a Redis client to a single device.
func NewRedisStore(client redis.UniversalClient, prefix, deviceID string) *RedisStore {
	if prefix == "" {
		prefix = "gate:"
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix + deviceID + ":",
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// CompareAndDelete watches the key so that a concurrent write between the
// read and the delete aborts the transaction instead of being lost.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	const maxRetries = 4
	full := s.key(key)

	for i := 0; i < maxRetries; i++ {
		deleted := false
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, full).Bytes()
			if err != nil {
				return err
			}
			if !bytes.Equal(current, expected) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, full)
				return nil
			})
			if err != nil {
				return err
			}
			deleted = true
			return nil
		}, full)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return deleted, nil
	}
	return false, fmt.Errorf("%w: compare-and-delete contention on %s", ErrUnavailable, key)
}
