package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/osm-engine/internal/osm"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entity_cache.db")
	s, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStorePutGetHas(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n := &osm.Object{Kind: osm.KindNode, ID: 1, Lon: 10, Lat: 20}
	if err := s.Put(ctx, n); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := s.Has(ctx, "n1")
	if err != nil || !ok {
		t.Fatalf("Has(n1) = %v, %v; want true, nil", ok, err)
	}

	got, err := s.Get(ctx, "n1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Lon != 10 || got.Lat != 20 {
		t.Errorf("Get returned %+v", got)
	}

	ok, err = s.Has(ctx, "n999")
	if err != nil || ok {
		t.Fatalf("Has(n999) = %v, %v; want false, nil", ok, err)
	}
	missing, err := s.Get(ctx, "n999")
	if err != nil || missing != nil {
		t.Fatalf("Get(n999) = %v, %v; want nil, nil", missing, err)
	}
}

// I1: re-ingestion of the same id overwrites.
func TestSQLiteStorePutOverwrites(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := &osm.Object{Kind: osm.KindNode, ID: 1, Lon: 1, Lat: 1}
	second := &osm.Object{Kind: osm.KindNode, ID: 1, Lon: 2, Lat: 2}
	if err := s.Put(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, second); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Lon != 2 {
		t.Errorf("expected overwritten value, got %+v", got)
	}
}

// P3: after ingest, iteration includes every object exactly once.
func TestSQLiteStoreIterCoversEveryPut(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	want := map[string]bool{"n1": false, "n2": false, "w3": false}
	for id, obj := range map[string]*osm.Object{
		"n1": {Kind: osm.KindNode, ID: 1},
		"n2": {Kind: osm.KindNode, ID: 2},
		"w3": {Kind: osm.KindWay, ID: 3, Nodes: []int64{1, 2}},
	} {
		if err := s.Put(ctx, obj); err != nil {
			t.Fatalf("Put(%s): %v", id, err)
		}
	}

	count := 0
	for obj, err := range s.Iter(ctx) {
		if err != nil {
			t.Fatalf("Iter: %v", err)
		}
		id := obj.CanonicalID()
		if _, ok := want[id]; !ok {
			t.Errorf("unexpected id in iteration: %s", id)
		}
		if want[id] {
			t.Errorf("id %s iterated more than once", id)
		}
		want[id] = true
		count++
	}
	if count != 3 {
		t.Errorf("expected 3 objects, got %d", count)
	}
	for id, seen := range want {
		if !seen {
			t.Errorf("id %s was never iterated", id)
		}
	}
}

func TestSQLiteStoreCommitReopensTransaction(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Put(ctx, &osm.Object{Kind: osm.KindNode, ID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// Store must still be usable after Commit.
	if err := s.Put(ctx, &osm.Object{Kind: osm.KindNode, ID: 2}); err != nil {
		t.Fatalf("Put after Commit: %v", err)
	}
	ok, err := s.Has(ctx, "n1")
	if err != nil || !ok {
		t.Errorf("Has(n1) after commit = %v, %v", ok, err)
	}
}

func TestSQLiteStoreCloseRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entity_cache.db")
	s, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected cache file to be removed, stat err = %v", err)
	}
}

func TestCachedReadThroughAndWriteThrough(t *testing.T) {
	ctx := context.Background()
	backend := openTestStore(t)
	cached, err := NewCached(backend, 16, nil)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}

	obj := &osm.Object{Kind: osm.KindNode, ID: 1, Lon: 5, Lat: 6}
	if err := cached.Put(ctx, obj); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Should be visible directly on the backend (write-through).
	got, err := backend.Get(ctx, "n1")
	if err != nil || got == nil {
		t.Fatalf("backend.Get(n1) = %v, %v", got, err)
	}

	// Should be served from the LRU without error even if the backend
	// were to fail, since it's already populated.
	got2, err := cached.Get(ctx, "n1")
	if err != nil || got2.Lon != 5 {
		t.Errorf("Cached.Get(n1) = %+v, %v", got2, err)
	}
}
