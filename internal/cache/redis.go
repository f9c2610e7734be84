package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/tracking-engine/internal/shipment"
)

// RedisStore keeps results as JSON strings with native Redis expiry.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (shipment.Result, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return shipment.Result{}, false, nil
		}
		return shipment.Result{}, false, err
	}
	var result shipment.Result
	if err := json.Unmarshal(data, &result); err != nil {
		// a corrupt entry is treated as a miss and dropped
		_ = s.client.Del(ctx, key).Err()
		return shipment.Result{}, false, nil
	}
	return result, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, result shipment.Result, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisStore) Invalidate(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Purge(ctx context.Context, number string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, numberPrefix(number)+"*", 100).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
