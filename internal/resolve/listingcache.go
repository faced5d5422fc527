package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rcliao/modeldeps/internal/model"
)

// ListingCache holds directory listings for a short window so concurrent
// resolutions in one load share a single backend listing.
type ListingCache interface {
	Get(key string) (*model.Listing, bool)
	Set(key string, l *model.Listing)
}

// MemoryListingCache is a ListingCache backed by bigcache. Listings are
// stored msgpack-encoded, so callers always get their own copy.
type MemoryListingCache struct {
	cache *bigcache.BigCache
}

// NewMemoryListingCache creates a cache whose entries live for life.
func NewMemoryListingCache(life time.Duration) (*MemoryListingCache, error) {
	cfg := bigcache.DefaultConfig(life)
	cfg.Shards = 16
	cfg.MaxEntriesInWindow = 1024
	cfg.CleanWindow = life
	cfg.Verbose = false

	cache, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create listing cache: %w", err)
	}
	return &MemoryListingCache{cache: cache}, nil
}

// Get implements ListingCache.
func (c *MemoryListingCache) Get(key string) (*model.Listing, bool) {
	data, err := c.cache.Get(key)
	if err != nil {
		return nil, false
	}
	var l model.Listing
	if err := msgpack.Unmarshal(data, &l); err != nil {
		_ = c.cache.Delete(key)
		return nil, false
	}
	return &l, true
}

// Set implements ListingCache. Listings that cannot be encoded are not cached.
func (c *MemoryListingCache) Set(key string, l *model.Listing) {
	data, err := msgpack.Marshal(l)
	if err != nil {
		return
	}
	_ = c.cache.Set(key, data)
}

// Len returns the number of cached listings.
func (c *MemoryListingCache) Len() int { return c.cache.Len() }

// Close releases the cache.
func (c *MemoryListingCache) Close() error { return c.cache.Close() }
