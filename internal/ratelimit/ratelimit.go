// Package ratelimit implements the daily quota consulted before any
// proactive (non-reply) outbound send. Reply paths bypass it.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Quota is a check-and-increment primitive over a daily window.
type Quota interface {
	// CheckAndRecord consumes one send from the key's daily budget and
	// reports whether the send may proceed plus the remaining budget.
	CheckAndRecord(ctx context.Context, key string, maxPerDay int) (bool, int, error)
}

type redisQuota struct {
	client *redis.Client
}

// NewRedisQuota builds the redis-backed quota used in production.
func NewRedisQuota(client *redis.Client) Quota {
	return &redisQuota{client: client}
}

func (q *redisQuota) CheckAndRecord(ctx context.Context, key string, maxPerDay int) (bool, int, error) {
	bucket := dailyBucket(key, time.Now().UTC())
	count, err := q.client.Incr(ctx, bucket).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		// First send of the day owns the expiry.
		q.client.Expire(ctx, bucket, 24*time.Hour)
	}
	remaining := maxPerDay - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return int(count) <= maxPerDay, remaining, nil
}

type memoryQuota struct {
	mu     sync.Mutex
	counts map[string]int
	day    string
	now    func() time.Time
}

// NewMemoryQuota builds the in-process quota used in tests and when
// redis is not configured.
func NewMemoryQuota() Quota {
	return &memoryQuota{counts: make(map[string]int), now: time.Now}
}

// NewMemoryQuotaWithClock lets tests control the daily window.
func NewMemoryQuotaWithClock(now func() time.Time) Quota {
	return &memoryQuota{counts: make(map[string]int), now: now}
}

func (q *memoryQuota) CheckAndRecord(ctx context.Context, key string, maxPerDay int) (bool, int, error) {
	now := q.now().UTC()
	bucket := dailyBucket(key, now)
	q.mu.Lock()
	defer q.mu.Unlock()
	// Redis expires yesterday's buckets; here the map is reset on the
	// first write of a new day so it never accumulates stale entries.
	if day := now.Format("2006-01-02"); day != q.day {
		q.counts = make(map[string]int)
		q.day = day
	}
	q.counts[bucket]++
	count := q.counts[bucket]
	remaining := maxPerDay - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= maxPerDay, remaining, nil
}

func dailyBucket(key string, now time.Time) string {
	return fmt.Sprintf("quota:%s:%s", key, now.Format("2006-01-02"))
}
