package routing

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ContextCache is a TTL-bounded key-value store scoped to (chat, user)
// pairs. The routing engine owns its instance; it replaces what used to
// be module-level mutable maps for per-chat conversation context.
type ContextCache interface {
	Put(ctx context.Context, chatID, userID, value string) error
	Get(ctx context.Context, chatID, userID string) (string, bool)
}

const contextTTL = 6 * time.Hour

type redisContextCache struct {
	client *redis.Client
}

// NewRedisContextCache builds the redis-backed cache.
func NewRedisContextCache(client *redis.Client) ContextCache {
	return &redisContextCache{client: client}
}

func (c *redisContextCache) Put(ctx context.Context, chatID, userID, value string) error {
	return c.client.Set(ctx, cacheKey(chatID, userID), value, contextTTL).Err()
}

func (c *redisContextCache) Get(ctx context.Context, chatID, userID string) (string, bool) {
	value, err := c.client.Get(ctx, cacheKey(chatID, userID)).Result()
	if err != nil {
		return "", false
	}
	return value, true
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryContextCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryContextCache builds the in-process cache used in tests and
// when redis is not configured.
func NewMemoryContextCache() ContextCache {
	return &memoryContextCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *memoryContextCache) Put(ctx context.Context, chatID, userID, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(chatID, userID)] = memoryEntry{
		value:     value,
		expiresAt: c.now().Add(contextTTL),
	}
	return nil
}

func (c *memoryContextCache) Get(ctx context.Context, chatID, userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(chatID, userID)
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.value, true
}

func cacheKey(chatID, userID string) string {
	return "ctx:" + chatID + ":" + userID
}
