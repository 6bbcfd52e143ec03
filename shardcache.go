package zarr

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/chunkgrid/zarr/zarrerr"
)

var (
	cacheHitMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zarr",
		Subsystem: "shard_index_cache",
		Name:      "hits_total",
		Help:      "Number of shard index lookups served from cache",
	})
	cacheMissMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zarr",
		Subsystem: "shard_index_cache",
		Name:      "misses_total",
		Help:      "Number of shard index lookups that had to read storage",
	})
	cacheEvictionMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zarr",
		Subsystem: "shard_index_cache",
		Name:      "evictions_total",
		Help:      "Number of shard indexes evicted from LRU cache",
	})
)

// CacheOption configures a ShardIndexCache.
type CacheOption func(c *ShardIndexCache)

// WithMaxEntries bounds the cache to n shard indexes with LRU eviction.
// Without it the cache grows without bound.
func WithMaxEntries(n int) CacheOption {
	return func(c *ShardIndexCache) {
		lc, err := lru.NewWithEvict[string, *shardIndex](n, func(string, *shardIndex) {
			cacheEvictionMetric.Inc()
		})
		if err != nil {
			// NewWithEvict only errors for n < 1.
			panic(err)
		}
		c.lru = lc
	}
}

// flight tracks one in-progress index load so that an invalidation arriving
// mid-load can keep the result out of the cache.
type flight struct {
	stale bool
}

// ShardIndexCache caches decoded shard indexes.  One cache may serve many
// arrays; entries are keyed by array identity and chunk coordinate, so two
// handles on the same stored array share entries and handles on different
// arrays never collide.
//
// Concurrent lookups of the same key are collapsed into a single load;
// lookups of different keys proceed independently.  Completed loads only
// enter the cache, so an eviction can never abandon a load in progress, and
// a caller always keeps its own reference to the index it was handed.
type ShardIndexCache struct {
	mu      sync.Mutex
	entries map[string]*shardIndex
	lru     *lru.Cache[string, *shardIndex]
	flights map[string]*flight
	closed  bool

	group singleflight.Group
}

// NewShardIndexCache returns an empty cache.
func NewShardIndexCache(opts ...CacheOption) *ShardIndexCache {
	c := &ShardIndexCache{
		entries: map[string]*shardIndex{},
		flights: map[string]*flight{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.lru != nil {
		c.entries = nil
	}
	return c
}

// getOrLoad returns the cached index for key, or runs load to produce it.
// At most one load per key runs at a time; concurrent callers share its
// result.
func (c *ShardIndexCache) getOrLoad(ctx context.Context, key string, load func(ctx context.Context) (*shardIndex, error)) (*shardIndex, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, zarrerr.NewClosed("shard index cache")
	}
	if ix, ok := c.lookup(key); ok {
		c.mu.Unlock()
		cacheHitMetric.Inc()
		return ix, nil
	}
	c.mu.Unlock()
	cacheMissMetric.Inc()
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.Lock()
		// A caller that lost the race to a completed load hits here.
		if ix, ok := c.lookup(key); ok {
			c.mu.Unlock()
			return ix, nil
		}
		f := &flight{}
		c.flights[key] = f
		c.mu.Unlock()

		ix, err := load(ctx)

		c.mu.Lock()
		if c.flights[key] == f {
			delete(c.flights, key)
		}
		if err == nil && !f.stale && !c.closed {
			c.insert(key, ix)
		}
		c.mu.Unlock()
		return ix, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*shardIndex), nil
}

// invalidateKey drops the entry for key and marks any in-flight load stale.
// The caller's write has made whatever was loaded before it unreliable.
func (c *ShardIndexCache) invalidateKey(key string) {
	c.mu.Lock()
	if f, ok := c.flights[key]; ok {
		f.stale = true
	}
	c.remove(key)
	c.mu.Unlock()
	c.group.Forget(key)
}

// invalidatePrefix drops every entry whose key begins with prefix.
func (c *ShardIndexCache) invalidatePrefix(prefix string) {
	c.mu.Lock()
	for key, f := range c.flights {
		if strings.HasPrefix(key, prefix) {
			f.stale = true
		}
	}
	var keys []string
	if c.lru != nil {
		keys = c.lru.Keys()
	} else {
		for key := range c.entries {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			c.remove(key)
		}
	}
	c.mu.Unlock()
	// In-flight state is keyed the same way; forget everything under the
	// prefix so new lookups start fresh loads.
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			c.group.Forget(key)
		}
	}
}

// Invalidate drops the cached index for one chunk of a.  Writers that
// bypass the array handle (another process, a direct store write) call this
// before reading again.
func (c *ShardIndexCache) Invalidate(a *Array, chunkIndices []uint64) error {
	if err := a.grid.validateChunk(chunkIndices); err != nil {
		return err
	}
	c.invalidateKey(a.cacheKey(chunkIndices))
	return nil
}

// InvalidateArray drops every cached index belonging to a.
func (c *ShardIndexCache) InvalidateArray(a *Array) {
	c.invalidatePrefix(a.cachePrefix())
}

// Len returns the number of cached indexes.
func (c *ShardIndexCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru != nil {
		return c.lru.Len()
	}
	return len(c.entries)
}

// Close empties the cache and fails subsequent lookups.  Loads in flight
// complete for their callers but their results are discarded.
func (c *ShardIndexCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, f := range c.flights {
		f.stale = true
	}
	if c.lru != nil {
		c.lru.Purge()
	} else {
		c.entries = map[string]*shardIndex{}
	}
	return nil
}

// lookup and the mutators below require c.mu.
func (c *ShardIndexCache) lookup(key string) (*shardIndex, bool) {
	if c.lru != nil {
		return c.lru.Get(key)
	}
	ix, ok := c.entries[key]
	return ix, ok
}

func (c *ShardIndexCache) insert(key string, ix *shardIndex) {
	if c.lru != nil {
		c.lru.Add(key, ix)
		return
	}
	c.entries[key] = ix
}

func (c *ShardIndexCache) remove(key string) {
	if c.lru != nil {
		c.lru.Remove(key)
		return
	}
	delete(c.entries, key)
}
