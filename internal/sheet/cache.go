package sheet

import (
	"sync"
	"time"
)

// snapshot is one fetched view of the grid: trimmed cell texts plus the
// explicit text colors keyed by address.
type snapshot struct {
	rows    [][]string
	colors  map[Addr]Color
	fetched time.Time
}

// cache holds the latest snapshot under a TTL. A non-positive TTL disables
// caching entirely.
type cache struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	snap *snapshot
}

func newCache(ttl time.Duration) *cache {
	return &cache{ttl: ttl, now: time.Now}
}

func (c *cache) get() *snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 || c.snap == nil {
		return nil
	}
	if c.now().Sub(c.snap.fetched) > c.ttl {
		c.snap = nil
		return nil
	}
	return c.snap
}

func (c *cache) put(s *snapshot) {
	c.mu.Lock()
	if c.ttl > 0 {
		c.snap = s
	}
	c.mu.Unlock()
}

func (c *cache) invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}
