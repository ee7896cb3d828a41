package osm

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCanonicalID(t *testing.T) {
	cases := []struct {
		kind Kind
		id   int64
		want string
	}{
		{KindNode, 42, "n42"},
		{KindWay, 17, "w17"},
		{KindRelation, 9, "r9"},
	}
	for _, c := range cases {
		if got := CanonicalID(c.kind, c.id); got != c.want {
			t.Errorf("CanonicalID(%v, %d) = %q, want %q", c.kind, c.id, got, c.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	for typ, want := range map[string]Kind{"node": KindNode, "way": KindWay, "relation": KindRelation} {
		got, err := ParseKind(typ)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", typ, err)
		}
		if got != want {
			t.Errorf("ParseKind(%q) = %v, want %v", typ, got, want)
		}
	}
	if _, err := ParseKind("bogus"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestObjectCloneIsDeep(t *testing.T) {
	orig := &Object{
		Kind: KindWay,
		ID:   1,
		Tags: map[string]string{"building": "yes"},
		Nodes: []int64{1, 2, 3},
	}
	clone := orig.Clone()
	clone.Tags["parent_id"] = "r5"
	clone.Nodes[0] = 99

	if _, ok := orig.Tags["parent_id"]; ok {
		t.Error("mutating clone's tags mutated the original")
	}
	if orig.Nodes[0] != 1 {
		t.Error("mutating clone's nodes mutated the original")
	}
}

func TestObjectJSONRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	node := &Object{Kind: KindNode, ID: 1, Lon: 10, Lat: 20, Version: 3, Changeset: 100, Timestamp: ts, Tags: map[string]string{"amenity": "bench"}}
	way := &Object{Kind: KindWay, ID: 2, Nodes: []int64{1, 2, 3}, Tags: map[string]string{"building": "yes"}}
	rel := &Object{Kind: KindRelation, ID: 3, Members: []Member{{Kind: KindWay, ID: 2, Role: "outer"}}, Tags: map[string]string{"type": "multipolygon"}}

	for _, want := range []*Object{node, way, rel} {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		got := &Object{}
		if err := json.Unmarshal(data, got); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if got.Kind != want.Kind || got.ID != want.ID {
			t.Errorf("round-trip mismatch: got %+v, want %+v", got, want)
		}
		switch want.Kind {
		case KindNode:
			if got.Lon != want.Lon || got.Lat != want.Lat {
				t.Errorf("node coords mismatch: got (%v,%v) want (%v,%v)", got.Lon, got.Lat, want.Lon, want.Lat)
			}
			if !got.Timestamp.Equal(want.Timestamp) {
				t.Errorf("timestamp mismatch: got %v want %v", got.Timestamp, want.Timestamp)
			}
		case KindWay:
			if len(got.Nodes) != len(want.Nodes) {
				t.Errorf("nodes length mismatch: got %v want %v", got.Nodes, want.Nodes)
			}
		case KindRelation:
			if len(got.Members) != 1 || got.Members[0].UniqueReference() != "w2" {
				t.Errorf("members mismatch: got %+v", got.Members)
			}
		}
	}
}

func TestChangeValidate(t *testing.T) {
	n := &Object{Kind: KindNode, ID: 1}
	cases := []struct {
		name string
		c    ObjectChange
		ok   bool
	}{
		{"create ok", ObjectChange{Type: ChangeCreate, New: n}, true},
		{"create missing new", ObjectChange{Type: ChangeCreate}, false},
		{"create with old", ObjectChange{Type: ChangeCreate, New: n, Old: n}, false},
		{"delete ok", ObjectChange{Type: ChangeDelete, Old: n}, true},
		{"delete missing old", ObjectChange{Type: ChangeDelete}, false},
		{"modify new only", ObjectChange{Type: ChangeModify, New: n}, true},
		{"modify neither", ObjectChange{Type: ChangeModify}, false},
	}
	for _, c := range cases {
		err := c.c.Validate()
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}
}

func TestChangeSubjectFallsBackToOld(t *testing.T) {
	old := &Object{Kind: KindNode, ID: 1}
	c := ObjectChange{Type: ChangeModify, Old: old}
	if c.Subject() != old {
		t.Error("Subject() should fall back to Old when New is absent")
	}
}
