// Package engine is the composition root: it wires the HTTP Query
// Client, Object Cache, Streaming Ingestor, Dependency Resolver,
// Geometry Builder and Differential Stream together behind the four
// public operations named in spec.md §6.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MeKo-Tech/osm-engine/internal/cache"
	"github.com/MeKo-Tech/osm-engine/internal/diffstream"
	"github.com/MeKo-Tech/osm-engine/internal/geometry"
	"github.com/MeKo-Tech/osm-engine/internal/ingest"
	"github.com/MeKo-Tech/osm-engine/internal/osm"
	"github.com/MeKo-Tech/osm-engine/internal/overpass"
	"github.com/MeKo-Tech/osm-engine/internal/resolver"
)

// Sentinel errors a host can branch on, per spec.md §7's fatal categories.
var (
	// ErrDependencyMissing means a referenced object was absent from the
	// cache after a resolver pass — a resolver bug, never expected.
	ErrDependencyMissing = geometry.ErrDependencyMissing
	// ErrCacheIO wraps any failure reading or writing the Object Cache.
	ErrCacheIO = errors.New("engine: cache I/O failure")
	// ErrTransport wraps an HTTP transport failure reaching Overpass.
	ErrTransport = errors.New("engine: transport failure")
)

// Config constructs an Engine. CachePath is ignored when CacheStore is set
// directly (useful for tests or an alternate backend such as Redis).
type Config struct {
	CachePath  string
	CacheStore cache.Store
	Endpoints  []string
	HTTPClient *http.Client
	Logger     *slog.Logger
	ClosedWay  geometry.ClosedPredicate
	MaxBatch   int
	MetricsReg prometheus.Registerer
}

// Engine composes the six components into the four public operations.
type Engine struct {
	store    cache.Store
	client   *overpass.Client
	ingestor *ingest.Ingestor
	resolver *resolver.Resolver
	builder  *geometry.Builder
	log      *slog.Logger
}

// New opens the cache (creating it fresh at cfg.CachePath unless
// cfg.CacheStore overrides the backend) and wires every component.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := cfg.CacheStore
	if store == nil {
		sqliteStore, err := cache.OpenSQLiteStore(cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCacheIO, err)
		}
		store = sqliteStore
	}

	metrics := overpass.NewMetrics(cfg.MetricsReg)
	client := overpass.New(overpass.Config{
		Endpoints:  cfg.Endpoints,
		HTTPClient: cfg.HTTPClient,
		Logger:     logger,
		Metrics:    metrics,
	})
	ingestor := ingest.New(store, logger)
	res := resolver.New(store, client, ingestor, logger, cfg.MaxBatch)
	builder := geometry.New(store, cfg.ClosedWay, logger)

	return &Engine{store: store, client: client, ingestor: ingestor, resolver: res, builder: builder, log: logger}, nil
}

// GetObject returns the object with the given canonical id, fetching and
// caching it (and its dependencies) first if it isn't already cached.
func (e *Engine) GetObject(ctx context.Context, id string) (*osm.Object, error) {
	obj, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheIO, err)
	}
	if obj != nil {
		return obj, nil
	}

	if _, err := e.resolver.LookupIDs(ctx, []string{id}); err != nil {
		return nil, err
	}

	obj, err = e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheIO, err)
	}
	return obj, nil
}

// LookupObjectsIn fetches every node, way and relation belonging to area
// and caches them. The area query itself recurses into referenced
// objects (its repeated ">>;"), so this does not run a separate
// dependency-resolution pass — invariant P2 is satisfied by the query
// shape, matching how lookup_objects_in behaves.
func (e *Engine) LookupObjectsIn(ctx context.Context, area string) error {
	e.log.Info("looking up all objects in area", "area", area)
	query := overpass.AreaFetchQuery(area)
	stream, err := e.client.RunQuery(ctx, query, false)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer stream.Close()

	if _, err := e.ingestor.Ingest(ctx, stream, false); err != nil {
		return fmt.Errorf("engine: ingesting area %q: %w", area, err)
	}
	return nil
}

// GetGeometryAsWKT returns the WKT geometry for obj, or ok=false when no
// geometry could be constructed.
func (e *Engine) GetGeometryAsWKT(ctx context.Context, obj *osm.Object) (string, bool, error) {
	return e.builder.Geometry(ctx, obj)
}

// LookupDifferencesIn returns the lazy, single-pass, ordered sequence of
// change records for area since after.
func (e *Engine) LookupDifferencesIn(ctx context.Context, area string, after time.Time) iter.Seq2[*osm.ObjectChange, error] {
	return diffstream.Stream(ctx, e.client, e.log, area, after)
}

// Close tears down the engine: closes the cache connection and removes
// the cache file from disk (spec.md §4.2's lifecycle contract).
func (e *Engine) Close() error {
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheIO, err)
	}
	return nil
}
