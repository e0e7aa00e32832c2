package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/id"
)

// Counter is the sliding-window hit counter behind throttle rules. Allow
// records a hit when the window has room; Peek inspects without recording,
// which keeps dry runs side-effect free.
type Counter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Peek(ctx context.Context, key string, window time.Duration) (int, error)
}

type slidingWindow struct {
	mu   sync.Mutex
	hits []int64
}

func (w *slidingWindow) prune(cutoffMs int64) {
	n := 0
	for n < len(w.hits) && w.hits[n] <= cutoffMs {
		n++
	}
	if n > 0 {
		w.hits = append(w.hits[:0], w.hits[n:]...)
	}
}

// MemoryCounter keeps per-key sliding windows in an expiring LRU, suitable
// for single-node deployments and tests. Idle keys age out; the capacity
// bound caps worst-case memory under key churn.
type MemoryCounter struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *slidingWindow]
}

// NewMemoryCounter bounds the tracked key set. size 0 means 64k keys.
func NewMemoryCounter(size int) *MemoryCounter {
	if size <= 0 {
		size = 65536
	}
	return &MemoryCounter{
		cache: expirable.NewLRU[string, *slidingWindow](size, nil, 15*time.Minute),
	}
}

func (c *MemoryCounter) window(key string) *slidingWindow {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.cache.Get(key); ok {
		return w
	}
	w := &slidingWindow{}
	c.cache.Add(key, w)
	return w
}

func (c *MemoryCounter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	nowMs := time.Now().UnixMilli()
	w := c.window(key)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(nowMs - window.Milliseconds())
	if len(w.hits) >= limit {
		return false, nil
	}
	w.hits = append(w.hits, nowMs)
	return true, nil
}

func (c *MemoryCounter) Peek(ctx context.Context, key string, window time.Duration) (int, error) {
	nowMs := time.Now().UnixMilli()
	w := c.window(key)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(nowMs - window.Milliseconds())
	return len(w.hits), nil
}

// RedisCounter shares throttle windows across nodes using a sorted set per
// key: member timestamps are scores, stale members are trimmed on each hit.
type RedisCounter struct {
	rdb    redis.UniversalClient
	prefix string
	ids    *id.Generator
}

// NewRedisCounter wraps an existing client. prefix namespaces the keys;
// empty means "throttle:".
func NewRedisCounter(rdb redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "throttle:"
	}
	return &RedisCounter{rdb: rdb, prefix: prefix, ids: id.NewGenerator()}
}

func (c *RedisCounter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	rkey := c.prefix + key
	cutoff := now - window.Milliseconds()

	pipe := c.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "-inf", fmt.Sprintf("%d", cutoff))
	card := pipe.ZCard(ctx, rkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rules: redis throttle: %w", err)
	}
	if card.Val() >= int64(limit) {
		return false, nil
	}

	pipe = c.rdb.TxPipeline()
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now), Member: c.ids.Next().String()})
	pipe.PExpire(ctx, rkey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rules: redis throttle: %w", err)
	}
	return true, nil
}

func (c *RedisCounter) Peek(ctx context.Context, key string, window time.Duration) (int, error) {
	now := time.Now().UnixMilli()
	cutoff := now - window.Milliseconds()
	n, err := c.rdb.ZCount(ctx, c.prefix+key, fmt.Sprintf("(%d", cutoff), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("rules: redis throttle: %w", err)
	}
	return int(n), nil
}
