package catalog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultFetchInterval is the minimum spacing between outbound catalog
// calls, matching the fair-use guidance of public card catalogs.
const DefaultFetchInterval = 100 * time.Millisecond

// Cache memoizes catalog entries by id for the lifetime of the session
// that owns it. There is no eviction: the catalog is read-only and the
// working set is bounded by the cards actually seen in play. The cache
// is an explicit object owned by the application root, not a package
// singleton, so tests and multi-session hosts can scope it.
type Cache struct {
	svc    Service
	gate   *rateGate
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewCache creates a cache over the given catalog service. interval
// throttles outbound calls; zero means DefaultFetchInterval.
func NewCache(svc Service, interval time.Duration, logger *zap.Logger) *Cache {
	if interval <= 0 {
		interval = DefaultFetchInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		svc:     svc,
		gate:    &rateGate{interval: interval},
		logger:  logger,
		entries: make(map[string]*Entry),
	}
}

// Lookup is the synchronous, cache-only read. Returns nil on a miss.
func (c *Cache) Lookup(id string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[id]
}

// Prefetch resolves every id not already cached, waiting for completion.
// Hard misses are cached as placeholders so later hydration never
// blocks on them again; transport failures are logged and skipped.
func (c *Cache) Prefetch(ctx context.Context, ids map[string]struct{}) {
	for id := range ids {
		if c.Lookup(id) != nil {
			continue
		}
		if err := c.gate.wait(ctx); err != nil {
			return
		}
		entry, err := c.svc.GetByID(ctx, id)
		if err != nil {
			c.logger.Warn("catalog fetch failed", zap.String("card_id", id), zap.Error(err))
			continue
		}
		if entry == nil {
			entry = UnknownEntry(id)
		}
		c.put(entry)
	}
}

// FetchByName resolves a card by name over the network, caching it on
// success. A miss returns (nil, nil).
func (c *Cache) FetchByName(ctx context.Context, name string, exact bool) (*Entry, error) {
	if err := c.gate.wait(ctx); err != nil {
		return nil, err
	}
	entry, err := c.svc.GetByName(ctx, name, exact)
	if err != nil || entry == nil {
		return nil, err
	}
	c.put(entry)
	return entry, nil
}

// Resolve returns the cached entry for id, or the placeholder when the
// id was never fetched. It never returns nil; hydration is total.
func (c *Cache) Resolve(id string) *Entry {
	if e := c.Lookup(id); e != nil {
		return e
	}
	return UnknownEntry(id)
}

// Size reports the number of cached entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) put(e *Entry) {
	c.mu.Lock()
	c.entries[e.ID] = e
	c.mu.Unlock()
}

// rateGate serializes callers through a minimum interval. Concurrent
// callers queue behind the delay rather than failing.
type rateGate struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func (g *rateGate) wait(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	if g.next.Before(now) {
		g.next = now
	}
	delay := g.next.Sub(now)
	g.next = g.next.Add(g.interval)
	g.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
