package toolservice

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const catalogKey = "catalog"

// DefaultCatalogTTL is how long a fetched catalog is served before refetching.
const DefaultCatalogTTL = 5 * time.Minute

// CachedCatalog wraps a Service and serves ListTools from a TTL cache. It is
// the only state shared across turns and is never invalidated by one.
type CachedCatalog struct {
	Service
	cache *cache.Cache
	ttl   time.Duration

	// serializes fetches so concurrent misses hit the backend once
	fetchMu sync.Mutex
}

// NewCachedCatalog wraps svc with a catalog cache of the given TTL.
func NewCachedCatalog(svc Service, ttl time.Duration) *CachedCatalog {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &CachedCatalog{
		Service: svc,
		cache:   cache.New(ttl, 2*ttl),
		ttl:     ttl,
	}
}

// ListTools returns the cached catalog, fetching it on a miss. Callers get
// their own copy.
func (c *CachedCatalog) ListTools(ctx context.Context) ([]Tool, error) {
	if tools, ok := c.cached(); ok {
		return tools, nil
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	if tools, ok := c.cached(); ok {
		return tools, nil
	}
	return c.fetch(ctx)
}

// Refresh refetches the catalog regardless of the TTL. On failure the
// previous entry stays in place until it expires.
func (c *CachedCatalog) Refresh(ctx context.Context) ([]Tool, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	return c.fetch(ctx)
}

// Lookup returns one tool from the cached catalog, fetching it if needed.
func (c *CachedCatalog) Lookup(ctx context.Context, name string) (Tool, bool) {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return Tool{}, false
	}
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Health delegates to the wrapped service when it supports health probes.
func (c *CachedCatalog) Health(ctx context.Context) (*Health, error) {
	hc, ok := c.Service.(HealthChecker)
	if !ok {
		return &Health{Status: "unknown"}, nil
	}
	return hc.Health(ctx)
}

func (c *CachedCatalog) cached() ([]Tool, bool) {
	x, found := c.cache.Get(catalogKey)
	if !found {
		return nil, false
	}
	return append([]Tool(nil), x.([]Tool)...), true
}

func (c *CachedCatalog) fetch(ctx context.Context) ([]Tool, error) {
	tools, err := c.Service.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	stored := append([]Tool(nil), tools...)
	c.cache.Set(catalogKey, stored, cache.DefaultExpiration)
	return append([]Tool(nil), stored...), nil
}
