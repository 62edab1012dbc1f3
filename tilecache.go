package terrain

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultMaxTilesToCache is the default capacity of a TileCache.
const DefaultMaxTilesToCache = 50

var (
	heightGridCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_height_grid_cache_hits_total",
		Help: "The total number of hits on height grid caches",
	})
	heightGridCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_height_grid_cache_misses_total",
		Help: "The total number of misses on height grid caches",
	})
	heightGridCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_height_grid_cache_evictions_total",
		Help: "The total number of evictions from height grid caches",
	})
)

// CacheStats are a TileCache's hit and miss counts.
type CacheStats struct {
	Hits     uint64
	Misses   uint64
	HitRatio float64
}

// A TileCache is a fixed-capacity least-recently-used cache of height grids.
// Individual operations are safe for concurrent use, but callers that pair a
// Get with an Insert must serialize the pair themselves.
type TileCache struct {
	maxSize atomic.Int64
	hits    atomic.Uint64
	misses  atomic.Uint64
	cache   *lru.Cache[TileKey, *HeightGrid]
}

// NewTileCache returns a new TileCache holding at most maxSize grids. A
// maxSize of less than one is treated as one.
func NewTileCache(maxSize int) (*TileCache, error) {
	maxSize = max(maxSize, 1)
	cache, err := lru.New[TileKey, *HeightGrid](maxSize)
	if err != nil {
		return nil, err
	}
	c := &TileCache{
		cache: cache,
	}
	c.maxSize.Store(int64(maxSize))
	return c, nil
}

// Get returns the grid cached for key and marks it as most recently used.
func (c *TileCache) Get(key TileKey) (*HeightGrid, bool) {
	grid, ok := c.cache.Get(key)
	if ok {
		c.hits.Add(1)
		heightGridCacheHits.Inc()
	} else {
		c.misses.Add(1)
		heightGridCacheMisses.Inc()
	}
	return grid, ok
}

// Insert caches grid under key, evicting the least recently used grid if the
// cache is full. Re-inserting a key replaces its grid.
func (c *TileCache) Insert(key TileKey, grid *HeightGrid) {
	if eviction := c.cache.Add(key, grid); eviction {
		heightGridCacheEvictions.Inc()
	}
}

// SetMaxSize sets the capacity of c, evicting least recently used grids if c
// holds more than maxSize. A maxSize of less than one is treated as one.
func (c *TileCache) SetMaxSize(maxSize int) {
	maxSize = max(maxSize, 1)
	c.maxSize.Store(int64(maxSize))
	if evicted := c.cache.Resize(maxSize); evicted > 0 {
		heightGridCacheEvictions.Add(float64(evicted))
	}
}

// MaxSize returns the capacity of c.
func (c *TileCache) MaxSize() int {
	return int(c.maxSize.Load())
}

// Len returns the number of grids in c.
func (c *TileCache) Len() int {
	return c.cache.Len()
}

// Contains returns true if key is cached, without updating its recency or
// the hit and miss counts.
func (c *TileCache) Contains(key TileKey) bool {
	return c.cache.Contains(key)
}

// Stats returns c's hit and miss counts.
func (c *TileCache) Stats() CacheStats {
	stats := CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRatio = float64(stats.Hits) / float64(total)
	}
	return stats
}
