package source

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// TableCache memoises fetched tables by source location for a fixed TTL
type TableCache struct {
	items *ttlcache.Cache[string, *Table]
}

// NewTableCache creates a cache; a non-positive ttl disables caching
func NewTableCache(ttl time.Duration) *TableCache {
	if ttl <= 0 {
		return &TableCache{}
	}
	return &TableCache{
		items: ttlcache.New[string, *Table](
			ttlcache.WithTTL[string, *Table](ttl),
			ttlcache.WithDisableTouchOnHit[string, *Table](),
		),
	}
}

func (c *TableCache) enabled() bool {
	return c != nil && c.items != nil
}

// Get returns the cached table for key and when it was fetched.
// Entries older than the TTL are evicted and reported as misses.
func (c *TableCache) Get(key string) (*Table, time.Time, bool) {
	if !c.enabled() {
		return nil, time.Time{}, false
	}
	item := c.items.Get(key)
	if item == nil {
		c.items.DeleteExpired()
		return nil, time.Time{}, false
	}
	return item.Value(), item.ExpiresAt().Add(-item.TTL()), true
}

// Put stores a freshly fetched table
func (c *TableCache) Put(key string, t *Table) {
	if !c.enabled() {
		return
	}
	c.items.Set(key, t, ttlcache.DefaultTTL)
}

// Invalidate drops one entry
func (c *TableCache) Invalidate(key string) {
	if !c.enabled() {
		return
	}
	c.items.Delete(key)
}

// Purge drops every entry
func (c *TableCache) Purge() {
	if !c.enabled() {
		return
	}
	c.items.DeleteAll()
}

// Len returns the number of unexpired entries
func (c *TableCache) Len() int {
	if !c.enabled() {
		return 0
	}
	return c.items.Len()
}
