package cache

import (
	"context"
	"iter"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MeKo-Tech/osm-engine/internal/osm"
)

// CacheMetrics instruments the in-process read-through tier.
type CacheMetrics struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	entries prometheus.Gauge
}

// NewCacheMetrics creates and registers the read-through cache's metrics.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		hits:    prometheus.NewCounter(prometheus.CounterOpts{Name: "osm_cache_hits_total", Help: "In-process cache hits."}),
		misses:  prometheus.NewCounter(prometheus.CounterOpts{Name: "osm_cache_misses_total", Help: "In-process cache misses."}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{Name: "osm_cache_entries", Help: "Entries currently held in the in-process read-through tier."}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.entries)
	}
	return m
}

// Cached decorates a Store with an in-process LRU read tier: repeated
// Gets for the same id (the common case during dependency resolution and
// geometry assembly, where one node is referenced by many ways) don't
// round-trip to the durable backend. Writes and misses still go through
// to the backend; the LRU is purely a read accelerator, never the system
// of record, so it requires no invalidation logic beyond its own eviction.
type Cached struct {
	backend Store
	lru     *lru.Cache[string, *osm.Object]
	metrics *CacheMetrics
}

// NewCached wraps backend with an LRU read tier holding up to size entries.
func NewCached(backend Store, size int, metrics *CacheMetrics) (*Cached, error) {
	l, err := lru.New[string, *osm.Object](size)
	if err != nil {
		return nil, err
	}
	return &Cached{backend: backend, lru: l, metrics: metrics}, nil
}

func (c *Cached) Has(ctx context.Context, id string) (bool, error) {
	if _, ok := c.lru.Get(id); ok {
		return true, nil
	}
	return c.backend.Has(ctx, id)
}

func (c *Cached) Get(ctx context.Context, id string) (*osm.Object, error) {
	if obj, ok := c.lru.Get(id); ok {
		c.observeHit()
		return obj, nil
	}
	c.observeMiss()
	obj, err := c.backend.Get(ctx, id)
	if err != nil || obj == nil {
		return obj, err
	}
	c.lru.Add(id, obj)
	c.observeEntries()
	return obj, nil
}

func (c *Cached) Put(ctx context.Context, obj *osm.Object) error {
	if err := c.backend.Put(ctx, obj); err != nil {
		return err
	}
	c.lru.Add(obj.CanonicalID(), obj)
	c.observeEntries()
	return nil
}

func (c *Cached) Iter(ctx context.Context) iter.Seq2[*osm.Object, error] {
	return c.backend.Iter(ctx)
}

func (c *Cached) Commit(ctx context.Context) error {
	return c.backend.Commit(ctx)
}

func (c *Cached) Close() error {
	c.lru.Purge()
	return c.backend.Close()
}

func (c *Cached) observeHit() {
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
}

func (c *Cached) observeMiss() {
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}
}

func (c *Cached) observeEntries() {
	if c.metrics != nil {
		c.metrics.entries.Set(float64(c.lru.Len()))
	}
}
