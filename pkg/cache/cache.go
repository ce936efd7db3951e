// Package cache memoizes final answers by their exact query text.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/zhaopengme/toolclaw/pkg/clock"
	"github.com/zhaopengme/toolclaw/pkg/logger"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = 10 * time.Minute
)

type entry struct {
	result   string
	storedAt time.Time
}

// ResponseCache maps a raw query string to its answer for ttl. Keys are not
// normalized: queries that differ only in whitespace are distinct entries.
// The cache has no size limit; a background sweep removes expired entries.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]entry

	ttl           time.Duration
	sweepInterval time.Duration
	clk           clock.Clock

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

func New(ttl, sweepInterval time.Duration, clk clock.Clock) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &ResponseCache{
		entries:       make(map[string]entry),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		clk:           clk,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Get returns the cached answer for query. Expired entries are reported as
// missing even before the sweep removes them.
func (c *ResponseCache) Get(query string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[query]
	c.mu.RUnlock()
	if !ok || c.expired(e, c.clk.Now()) {
		return "", false
	}
	return e.result, true
}

func (c *ResponseCache) Set(query, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[query] = entry{result: result, storedAt: c.clk.Now()}
}

// Len counts stored entries, expired ones included until swept.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ResponseCache) TTL() time.Duration { return c.ttl }

// Sweep removes expired entries and returns how many it removed.
func (c *ResponseCache) Sweep() int {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for q, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, q)
			removed++
		}
	}
	return removed
}

func (c *ResponseCache) expired(e entry, now time.Time) bool {
	return now.Sub(e.storedAt) > c.ttl
}

// Start runs the periodic sweep until ctx is done or Stop is called. It is a
// no-op when already started.
func (c *ResponseCache) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	ticker := c.clk.NewTicker(c.sweepInterval)
	go func() {
		defer close(c.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					logger.DebugCF("cache", "Swept expired responses", map[string]interface{}{
						"removed":   n,
						"remaining": c.Len(),
					})
				}
			}
		}
	}()
}

// Stop ends the sweep goroutine and waits for it to exit.
func (c *ResponseCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if started {
		<-c.done
	}
}
