package geospatial

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ResponseCache stores rendered API responses by key. Implementations must
// be safe for concurrent use; a backend failure is a miss, never an error
// for the caller.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, data []byte)
	Invalidate(ctx context.Context, prefix string)
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// MemoryCache is an LRU cache with TTL expiry.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	order      []string // front = least recently used
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type memoryEntry struct {
	data      []byte
	createdAt time.Time
}

// NewMemoryCache creates a MemoryCache holding at most maxEntries.
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get implements ResponseCache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.createdAt) > c.ttl {
		delete(c.entries, key)
		c.unlink(key)
		c.misses.Add(1)
		return nil, false
	}
	c.unlink(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return e.data, true
}

// Put implements ResponseCache.
func (c *MemoryCache) Put(_ context.Context, key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.unlink(key)
	} else {
		for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
			delete(c.entries, c.order[0])
			c.order = c.order[1:]
		}
	}
	c.entries[key] = memoryEntry{data: data, createdAt: c.now()}
	c.order = append(c.order, key)
}

// Invalidate implements ResponseCache.
func (c *MemoryCache) Invalidate(_ context.Context, prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.order[:0]
	for _, k := range c.order {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			continue
		}
		kept = append(kept, k)
	}
	c.order = kept
}

// Stats returns hit and miss counts.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{Entries: n, MaxEntries: c.maxEntries, Hits: hits, Misses: misses, HitRate: rate}
}

func (c *MemoryCache) unlink(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// RedisCache stores responses in Redis under a key prefix.
type RedisCache struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps rc. Keys are stored as prefix+key.
func NewRedisCache(rc *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{rc: rc, prefix: prefix, ttl: ttl}
}

// OpenRedis creates a client and checks connectivity.
func OpenRedis(ctx context.Context, addr, password string, dbIndex int) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: dbIndex})
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, eris.Wrapf(err, "geospatial: ping redis %s", addr)
	}
	return rc, nil
}

// Get implements ResponseCache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.rc.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			zap.L().Warn("geospatial: redis get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

// Put implements ResponseCache.
func (c *RedisCache) Put(ctx context.Context, key string, data []byte) {
	if err := c.rc.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		zap.L().Warn("geospatial: redis set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate implements ResponseCache by scanning for prefix+prefix*.
func (c *RedisCache) Invalidate(ctx context.Context, prefix string) {
	iter := c.rc.Scan(ctx, 0, c.prefix+prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		zap.L().Warn("geospatial: redis scan failed", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rc.Del(ctx, keys...).Err(); err != nil {
		zap.L().Warn("geospatial: redis delete failed", zap.Error(err))
	}
}
