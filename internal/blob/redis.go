// Package blob stores offloaded event payloads. The Redis implementation
// backs production; the memory implementation serves tests and
// single-process setups.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/casthq/shophand/internal/core"
)

// keyPrefix isolates payload blobs from the execution engine's keys in a
// shared Redis instance.
const keyPrefix = "shophand:blob:"

// RedisStore implements core.BlobStore on Redis.
type RedisStore struct {
	client *redis.Client

	// ttl bounds blob lifetime so payloads whose cleanup step never ran
	// do not accumulate forever. Zero means no expiry.
	ttl time.Duration
}

// NewRedisStore wraps an existing Redis client. The client is shared with
// the step journal and the execution engine.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, keyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store blob %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("blob %s: %w", key, core.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("failed to load blob %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

var _ core.BlobStore = (*RedisStore)(nil)
