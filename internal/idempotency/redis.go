package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Store. Entries expire through Redis TTLs.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// releaseScript deletes a key only while it still holds the caller's
// pending marker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Check looks up a stored response in Redis.
func (s *RedisStore) Check(ctx context.Context, key, inputHash string) (*Response, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}
	resp, err := e.lookup(key, inputHash)
	return resp, true, err
}

// Reserve claims the key with SET NX.
func (s *RedisStore) Reserve(ctx context.Context, key, inputHash string, ttl time.Duration) (bool, error) {
	marker, err := pendingMarker(inputHash)
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, key, marker, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %q: %w", key, err)
	}
	return ok, nil
}

// Release deletes the key if it still holds the pending marker for inputHash.
func (s *RedisStore) Release(ctx context.Context, key, inputHash string) error {
	marker, err := pendingMarker(inputHash)
	if err != nil {
		return err
	}
	if err := releaseScript.Run(ctx, s.client, []string{key}, marker).Err(); err != nil {
		return fmt.Errorf("redis release %q: %w", key, err)
	}
	return nil
}

// Save stores a response in Redis with TTL.
func (s *RedisStore) Save(ctx context.Context, key, inputHash string, resp Response, ttl time.Duration) error {
	data, err := json.Marshal(entry{InputHash: inputHash, Response: resp})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func pendingMarker(inputHash string) ([]byte, error) {
	data, err := json.Marshal(entry{InputHash: inputHash, Pending: true})
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency reservation: %w", err)
	}
	return data, nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
