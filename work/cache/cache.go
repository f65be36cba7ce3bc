package cache

import (
	"hash/fnv"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache holds rendered playlist text keyed by playlist id so repeated player
// requests don't re-filter and re-render the catalog. Entries expire on a
// TTL and the whole cache is dropped whenever the catalog is written, since
// any record change may invalidate any rendered playlist.
type Cache struct {
	cache    *ristretto.Cache[uint64, string]
	duration time.Duration
}

// New creates a cache with the given entry TTL.
func New(duration time.Duration) *Cache {
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, string]{
		NumCounters: 1000,
		MaxCost:     100 << 20,
		BufferItems: 64,
	})
	if err != nil {
		panic(err)
	}

	return &Cache{
		cache:    cache,
		duration: duration,
	}
}

// GetPlaylist returns the cached rendered playlist for a key, if present.
func (c *Cache) GetPlaylist(key string) (string, bool) {
	return c.cache.Get(hashKey("playlist:" + key))
}

// SetPlaylist stores rendered playlist text under the key, costed by size.
func (c *Cache) SetPlaylist(key, value string) {
	c.cache.SetWithTTL(hashKey("playlist:"+key), value, int64(len(value)), c.duration)
}

// Invalidate drops every cached entry. Called after catalog writes.
func (c *Cache) Invalidate() {
	c.cache.Clear()
}

// Close releases the cache's internal resources.
func (c *Cache) Close() {
	c.cache.Close()
}

// hashKey maps a string key onto ristretto's uint64 key space
func hashKey(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}
