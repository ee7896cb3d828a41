// Package geometry implements the Geometry Builder: it turns a cached OSM
// object into a WKT geometry by walking its cached dependencies
// (spec.md §4.5).
package geometry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/MeKo-Tech/osm-engine/internal/cache"
	"github.com/MeKo-Tech/osm-engine/internal/osm"
)

// ErrDependencyMissing is returned when an object references an id that
// the Dependency Resolver should already have cached. Seeing it means the
// resolver was skipped or has a bug — it is never expected in normal
// operation (spec.md §7).
var ErrDependencyMissing = errors.New("geometry: referenced object not in cache")

// ClosedPredicate decides whether a Way's node sequence should be closed
// into a polygon ring instead of rendered as a linestring. Injectable
// because "is this way an area" has no single universal answer (spec.md
// §9 open question); DefaultClosedPredicate gives a reasonable default.
type ClosedPredicate func(tags map[string]string) bool

// DefaultClosedPredicate treats a way as an area when it carries
// area=yes or a meaningful building=* tag, mirroring the tag vocabulary
// common area classifiers use.
func DefaultClosedPredicate(tags map[string]string) bool {
	if tags["area"] == "yes" {
		return true
	}
	if b, ok := tags["building"]; ok && b != "" && b != "no" {
		return true
	}
	return false
}

// Builder constructs WKT geometry for cached objects.
type Builder struct {
	store  cache.Store
	closed ClosedPredicate
	log    *slog.Logger
}

// New creates a Builder reading from store. A nil closed predicate falls
// back to DefaultClosedPredicate.
func New(store cache.Store, closed ClosedPredicate, logger *slog.Logger) *Builder {
	if closed == nil {
		closed = DefaultClosedPredicate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: store, closed: closed, log: logger}
}

// Geometry returns the WKT geometry for obj. ok is false when no geometry
// could be constructed — an absent-geometry case the caller should
// recover from, not an error (spec.md §4.5's "None" outcomes: a way with
// fewer than two resolved nodes, a multipolygon with an ambiguous ring
// attribution, and so on).
func (b *Builder) Geometry(ctx context.Context, obj *osm.Object) (string, bool, error) {
	geom, ok, err := b.geometryValue(ctx, obj)
	if err != nil || !ok {
		return "", ok, err
	}
	return wkt.MarshalString(geom), true, nil
}

func (b *Builder) geometryValue(ctx context.Context, obj *osm.Object) (orb.Geometry, bool, error) {
	switch obj.Kind {
	case osm.KindNode:
		return orb.Point{obj.Lon, obj.Lat}, true, nil
	case osm.KindWay:
		return b.wayGeometryValue(ctx, obj)
	case osm.KindRelation:
		return b.relationGeometryValue(ctx, obj)
	default:
		return nil, false, fmt.Errorf("geometry: object %s has unknown kind", obj.CanonicalID())
	}
}

func (b *Builder) wayGeometryValue(ctx context.Context, way *osm.Object) (orb.Geometry, bool, error) {
	coords, err := b.wayCoords(ctx, way)
	if err != nil {
		return nil, false, err
	}
	if len(coords) < 2 {
		b.log.Warn("way has too few resolved nodes for a geometry", "id", way.CanonicalID(), "node_count", len(coords))
		return nil, false, nil
	}
	if b.closed(way.Tags) && len(coords) > 2 {
		return orb.Polygon{ensureClosed(coords)}, true, nil
	}
	return orb.LineString(coords), true, nil
}

// wayCoords resolves way's nodes from the cache, in order, enriching each
// node clone with parent_id before returning its coordinate.
func (b *Builder) wayCoords(ctx context.Context, way *osm.Object) ([]orb.Point, error) {
	related, err := b.relatedObjects(ctx, way)
	if err != nil {
		return nil, err
	}
	coords := make([]orb.Point, len(related))
	for i, r := range related {
		coords[i] = orb.Point{r.Lon, r.Lat}
	}
	return coords, nil
}

func (b *Builder) relationGeometryValue(ctx context.Context, rel *osm.Object) (orb.Geometry, bool, error) {
	if typ, _ := rel.Tag("type"); typ != "multipolygon" {
		return b.geometryCollectionValue(ctx, rel)
	}

	related, err := b.relatedObjects(ctx, rel)
	if err != nil {
		return nil, false, err
	}
	if len(related) == 0 {
		return b.geometryCollectionValue(ctx, rel)
	}

	role, _ := related[0].Tag("role")
	var geom orb.Geometry
	var ok bool
	if role == "inner" || role == "outer" {
		geom, ok, err = b.complexMultipolygon(ctx, rel, related)
	} else {
		geom, ok, err = b.simpleMultipolygon(ctx, related)
	}
	if err != nil {
		return nil, false, err
	}
	if ok {
		return geom, true, nil
	}
	return b.geometryCollectionValue(ctx, rel)
}

// simpleMultipolygon handles the case where every member already carries
// no role distinction: each member must itself resolve to a POLYGON, and
// the relation's geometry is the MultiPolygon of all of them.
func (b *Builder) simpleMultipolygon(ctx context.Context, related []*osm.Object) (orb.Geometry, bool, error) {
	polys := make(orb.MultiPolygon, 0, len(related))
	for _, r := range related {
		g, ok, err := b.geometryValue(ctx, r)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			b.log.Warn("multipolygon member has no geometry", "id", r.CanonicalID())
			return nil, false, nil
		}
		poly, isPoly := g.(orb.Polygon)
		if !isPoly {
			b.log.Warn("multipolygon member is not a polygon", "id", r.CanonicalID())
			return nil, false, nil
		}
		polys = append(polys, poly)
	}
	return polys, true, nil
}

// complexMultipolygon handles the inner/outer-tagged case: each member's
// own node sequence is collected as a ring, fragments sharing an endpoint
// are stitched together, and the resulting rings are paired up per
// spec.md §4.5's attribution rule (exactly one outer ring, any number of
// inner rings cut from it; more than one outer ring with any inner rings
// present is ambiguous and rejected).
func (b *Builder) complexMultipolygon(ctx context.Context, rel *osm.Object, related []*osm.Object) (orb.Geometry, bool, error) {
	var inners, outers []orb.Ring
	for _, r := range related {
		role, hasRole := r.Tag("role")
		if !hasRole {
			b.log.Warn("multipolygon member missing role", "id", r.CanonicalID(), "parent", rel.CanonicalID())
			return nil, false, nil
		}
		if r.Kind != osm.KindWay {
			b.log.Warn("multipolygon member is not a way", "id", r.CanonicalID(), "parent", rel.CanonicalID())
			return nil, false, nil
		}
		coords, err := b.wayCoords(ctx, r)
		if err != nil {
			return nil, false, err
		}
		if len(coords) < 2 {
			b.log.Warn("multipolygon member way has too few nodes", "id", r.CanonicalID())
			return nil, false, nil
		}
		switch role {
		case "inner":
			inners = append(inners, orb.Ring(coords))
		case "outer":
			outers = append(outers, orb.Ring(coords))
		default:
			b.log.Warn("multipolygon member has unrecognised role", "role", role, "id", r.CanonicalID())
			return nil, false, nil
		}
	}

	inners = stitchRings(inners)
	outers = stitchRings(outers)

	if len(outers) != 1 && len(inners) > 0 {
		b.log.Warn("ambiguous inner/outer attribution", "id", rel.CanonicalID(), "outer_count", len(outers), "inner_count", len(inners))
		return nil, false, nil
	}
	if len(outers) == 0 {
		b.log.Warn("multipolygon has no outer ring", "id", rel.CanonicalID())
		return nil, false, nil
	}

	var polys []orb.Polygon
	if len(inners) > 0 {
		for _, inner := range inners {
			if len(inner) < 4 {
				b.log.Warn("inner ring failed to close", "id", rel.CanonicalID())
				return nil, false, nil
			}
			polys = append(polys, orb.Polygon{outers[0], inner})
		}
	} else {
		for _, outer := range outers {
			if len(outer) < 4 {
				b.log.Warn("outer ring failed to close", "id", rel.CanonicalID())
				return nil, false, nil
			}
			polys = append(polys, orb.Polygon{outer})
		}
	}

	if len(polys) == 1 {
		return polys[0], true, nil
	}
	mp := make(orb.MultiPolygon, len(polys))
	copy(mp, polys)
	return mp, true, nil
}

// geometryCollectionValue builds a GEOMETRYCOLLECTION of every related
// object's geometry, silently dropping members whose own geometry is
// absent or errored — a relation with one badly-formed member still
// yields a geometry for the rest of it, rather than failing outright.
func (b *Builder) geometryCollectionValue(ctx context.Context, obj *osm.Object) (orb.Geometry, bool, error) {
	related, err := b.relatedObjects(ctx, obj)
	if err != nil {
		return nil, false, err
	}
	coll := make(orb.Collection, 0, len(related))
	for _, child := range related {
		g, ok, err := b.geometryValue(ctx, child)
		if err != nil {
			b.log.Warn("dropping collection member", "id", child.CanonicalID(), "error", err)
			continue
		}
		if !ok {
			continue
		}
		coll = append(coll, g)
	}
	return coll, true, nil
}

// relatedObjects resolves every id obj directly references from the
// cache, cloning and enriching each with parent_id (and role, for
// relation members) per invariant I4 — the cached copy itself is never
// mutated.
func (b *Builder) relatedObjects(ctx context.Context, obj *osm.Object) ([]*osm.Object, error) {
	type ref struct {
		id      string
		role    string
		hasRole bool
	}

	var refs []ref
	switch obj.Kind {
	case osm.KindWay:
		refs = make([]ref, len(obj.Nodes))
		for i, n := range obj.Nodes {
			refs[i] = ref{id: osm.CanonicalID(osm.KindNode, n)}
		}
	case osm.KindRelation:
		refs = make([]ref, len(obj.Members))
		for i, m := range obj.Members {
			refs[i] = ref{id: m.UniqueReference(), role: m.Role, hasRole: true}
		}
	default:
		return nil, nil
	}

	out := make([]*osm.Object, 0, len(refs))
	for _, r := range refs {
		cached, err := b.store.Get(ctx, r.id)
		if err != nil {
			return nil, fmt.Errorf("geometry: fetching %s: %w", r.id, err)
		}
		if cached == nil {
			return nil, fmt.Errorf("%w: %s referenced by %s", ErrDependencyMissing, r.id, obj.CanonicalID())
		}
		child := cached.Clone()
		if child.Tags == nil {
			child.Tags = make(map[string]string, 2)
		}
		child.Tags["parent_id"] = obj.CanonicalID()
		if r.hasRole {
			child.Tags["role"] = r.role
		}
		out = append(out, child)
	}
	return out, nil
}
