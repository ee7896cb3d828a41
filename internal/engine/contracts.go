package engine

import "github.com/MeKo-Tech/osm-engine/internal/osm"

// EntityTranslator turns a raw OSM object into a semantic entity of the
// host application's own type. The engine never calls an implementation
// of this itself — tag→entity translation is outside the engine's scope
// (spec.md §1 Non-goals); this interface only names the contract a host
// wires its own translator against.
type EntityTranslator interface {
	Translate(obj *osm.Object) (any, error)
}

// EntityStore applies a change record to a host-owned per-area database.
// Not called by the engine; named here so a host can depend on a stable
// shape instead of inventing its own per integration.
type EntityStore interface {
	Apply(change osm.ObjectChange) error
}

// ChangePublisher delivers a change record to a message bus or task
// queue. See internal/bus for an illustrative Kafka-backed implementation
// the engine itself never constructs or calls.
type ChangePublisher interface {
	Publish(change osm.ObjectChange) error
}
