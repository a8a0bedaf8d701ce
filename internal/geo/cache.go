package geo

import (
	"sync"
	"time"

	"traefiklens/internal/clock"
)

const defaultCacheMaxSize = 100000

type cacheEntry struct {
	location Location
	expires  time.Time
}

// Cache remembers resolved IPs across aggregation runs so a cancelled or
// repeated run does not spend lookup budget twice.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	maxSize int
	clock   clock.Clock
}

// NewCache returns a cache whose entries live for ttl. ttl <= 0 keeps
// entries until evicted.
func NewCache(ttl time.Duration, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: defaultCacheMaxSize,
		clock:   clk,
	}
}

func (c *Cache) Get(ip string) (Location, bool) {
	if c == nil {
		return Location{}, false
	}
	c.mu.RLock()
	entry, ok := c.entries[ip]
	c.mu.RUnlock()
	if !ok {
		return Location{}, false
	}
	if !entry.expires.IsZero() && !c.clock.Now().Before(entry.expires) {
		return Location{}, false
	}
	return entry.location, true
}

func (c *Cache) Put(ip string, loc Location) {
	if c == nil {
		return
	}
	loc.Count = 0
	var expires time.Time
	if c.ttl > 0 {
		expires = c.clock.Now().Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[ip]; !exists && len(c.entries) >= c.maxSize {
		c.evict()
	}
	c.entries[ip] = cacheEntry{location: loc, expires: expires}
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evict drops expired entries, then a quarter of the rest in map order.
// Caller must hold c.mu.
func (c *Cache) evict() {
	now := c.clock.Now()
	for ip, entry := range c.entries {
		if !entry.expires.IsZero() && !now.Before(entry.expires) {
			delete(c.entries, ip)
		}
	}
	if len(c.entries) < c.maxSize {
		return
	}
	target := c.maxSize / 4
	for ip := range c.entries {
		if target <= 0 {
			break
		}
		delete(c.entries, ip)
		target--
	}
}
