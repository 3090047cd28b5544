package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bookkeeper enforces per-(rule, source) cooldowns and hourly alert budgets.
type Bookkeeper interface {
	// Allow reports whether an alert for the (rule, source) pair may fire
	// now, recording the emission when it may.
	Allow(ctx context.Context, ruleID, source string, cooldown time.Duration, maxPerHour int) (bool, error)
}

// memoryBookkeeper is the in-process fallback used when Redis is not
// configured. Evaluation per (rule, source) pair is mutually exclusive under
// the single mutex.
type memoryBookkeeper struct {
	mu    sync.Mutex
	last  map[string]time.Time
	hours map[string][]time.Time
	now   func() time.Time
}

// NewMemoryBookkeeper creates the in-memory cooldown/budget tracker.
func NewMemoryBookkeeper() Bookkeeper {
	return &memoryBookkeeper{
		last:  make(map[string]time.Time),
		hours: make(map[string][]time.Time),
		now:   time.Now,
	}
}

func pairKey(ruleID, source string) string { return ruleID + "|" + source }

func (b *memoryBookkeeper) Allow(_ context.Context, ruleID, source string, cooldown time.Duration, maxPerHour int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := pairKey(ruleID, source)
	now := b.now()

	if last, ok := b.last[key]; ok && cooldown > 0 && now.Sub(last) < cooldown {
		return false, nil
	}

	cutoff := now.Add(-time.Hour)
	recent := b.hours[key][:0]
	for _, t := range b.hours[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	b.hours[key] = recent
	if maxPerHour > 0 && len(recent) >= maxPerHour {
		return false, nil
	}

	b.last[key] = now
	b.hours[key] = append(b.hours[key], now)
	return true, nil
}

// redisBookkeeper shares cooldown/budget state across processes, keyed the
// same way the in-memory tracker is.
type redisBookkeeper struct {
	client *redis.Client
}

// NewRedisBookkeeper creates the Redis-backed tracker.
func NewRedisBookkeeper(client *redis.Client) Bookkeeper {
	return &redisBookkeeper{client: client}
}

func (b *redisBookkeeper) Allow(ctx context.Context, ruleID, source string, cooldown time.Duration, maxPerHour int) (bool, error) {
	cooldownKey := fmt.Sprintf("alert:cooldown:%s:%s", ruleID, source)
	budgetKey := fmt.Sprintf("alert:budget:%s:%s", ruleID, source)

	if cooldown > 0 {
		// SET NX acts as the cooldown latch.
		ok, err := b.client.SetNX(ctx, cooldownKey, "1", cooldown).Result()
		if err != nil {
			return false, fmt.Errorf("cooldown check: %w", err)
		}
		if !ok {
			return false, nil
		}
	}

	if maxPerHour > 0 {
		count, err := b.client.Incr(ctx, budgetKey).Result()
		if err != nil {
			return false, fmt.Errorf("budget incr: %w", err)
		}
		if count == 1 {
			b.client.Expire(ctx, budgetKey, time.Hour)
		}
		if count > int64(maxPerHour) {
			return false, nil
		}
	}

	return true, nil
}
