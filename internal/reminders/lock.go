package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKey = "agenda:reminder-scan:lock"

// TickLock serializes scan ticks across scanner instances. The lock expires
// on its own, so a crashed scanner never wedges the schedule.
type TickLock struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewTickLock creates a tick lock with the given expiry.
func NewTickLock(client *redis.Client, ttl time.Duration) *TickLock {
	if client == nil {
		panic("reminders: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &TickLock{redis: client, ttl: ttl}
}

// Acquire reports whether this instance owns the current tick.
func (l *TickLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.redis.SetNX(ctx, lockKey, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reminders: acquire tick lock: %w", err)
	}
	return ok, nil
}

// Release drops the lock early so the next tick does not wait out the TTL.
func (l *TickLock) Release(ctx context.Context) {
	l.redis.Del(ctx, lockKey)
}
