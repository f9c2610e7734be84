package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Sliding implements a sliding window limiter backed by Redis sorted sets.
// Every call registers an event, rejected or not.
type Sliding struct {
	Client redis.UniversalClient
	Prefix string
	Window time.Duration
	Max    int
}

// Take registers an event for key and reports whether it is within the limit.
func (l Sliding) Take(ctx context.Context, key string) (Decision, error) {
	now := time.Now()
	until := now.Add(l.Window)
	if l.Client == nil || l.Max <= 0 || l.Window <= 0 {
		return Decision{Allowed: true, Limit: l.Max, Remaining: l.Max, Reset: until}, nil
	}

	score := float64(now.UnixNano())
	cutoff := float64(now.Add(-l.Window).UnixNano())

	redisKey := l.Prefix + key
	member := fmt.Sprintf("%s:%s", key, uuid.NewString())

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%f", cutoff))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: score, Member: member})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Limit: l.Max, Reset: until}, err
	}

	current := int(countCmd.Val())
	remaining := l.Max - current
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: current <= l.Max, Limit: l.Max, Remaining: remaining, Reset: until}, nil
}
