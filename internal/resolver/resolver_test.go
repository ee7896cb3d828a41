package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/osm-engine/internal/cache"
	"github.com/MeKo-Tech/osm-engine/internal/ingest"
	"github.com/MeKo-Tech/osm-engine/internal/osm"
	"github.com/MeKo-Tech/osm-engine/internal/overpass"
)

func openTestStore(t *testing.T) *cache.SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entity_cache.db")
	s, err := cache.OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeOverpass serves canned node responses for "node(id:...)" queries so
// the resolver's fetch-by-kind loop can be exercised without a network.
func fakeOverpass(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("data")
		query, err := url.QueryUnescape(raw)
		if err != nil {
			t.Fatalf("bad query encoding: %v", err)
		}
		_ = query
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"version":0.6,"elements":[
			{"type":"node","id":1,"lat":1.0,"lon":2.0,"tags":{}},
			{"type":"node","id":2,"lat":3.0,"lon":4.0,"tags":{}}
		]}`)
	}))
}

func TestEnsureDependenciesFetchesMissingWayNodes(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	srv := fakeOverpass(t)
	defer srv.Close()

	client := overpass.New(overpass.Config{Endpoints: []string{srv.URL, srv.URL}})
	ig := ingest.New(store, nil)
	res := New(store, client, ig, nil, 0)

	way := &osm.Object{Kind: osm.KindWay, ID: 10, Nodes: []int64{1, 2}}
	if err := store.Put(ctx, way); err != nil {
		t.Fatal(err)
	}

	if err := res.EnsureDependencies(ctx, []*osm.Object{way}); err != nil {
		t.Fatalf("EnsureDependencies: %v", err)
	}

	for _, id := range []string{"n1", "n2"} {
		ok, err := store.Has(ctx, id)
		if err != nil || !ok {
			t.Errorf("expected %s cached after resolution, got %v, %v", id, ok, err)
		}
	}
}

func TestEnsureDependenciesNoopWhenAlreadyCached(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	// No HTTP server at all: if the resolver tried to query, this would fail.
	client := overpass.New(overpass.Config{Endpoints: []string{"http://127.0.0.1:1", "http://127.0.0.1:2"}})
	ig := ingest.New(store, nil)
	res := New(store, client, ig, nil, 0)

	for _, obj := range []*osm.Object{
		{Kind: osm.KindNode, ID: 1},
		{Kind: osm.KindNode, ID: 2},
		{Kind: osm.KindWay, ID: 10, Nodes: []int64{1, 2}},
	} {
		if err := store.Put(ctx, obj); err != nil {
			t.Fatal(err)
		}
	}

	way := &osm.Object{Kind: osm.KindWay, ID: 10, Nodes: []int64{1, 2}}
	if err := res.EnsureDependencies(ctx, []*osm.Object{way}); err != nil {
		t.Fatalf("EnsureDependencies: %v", err)
	}
}

func TestReferencedIDs(t *testing.T) {
	way := &osm.Object{Kind: osm.KindWay, Nodes: []int64{5, 6}}
	if got := referencedIDs(way); len(got) != 2 || got[0] != "n5" || got[1] != "n6" {
		t.Errorf("referencedIDs(way) = %v", got)
	}

	rel := &osm.Object{Kind: osm.KindRelation, Members: []osm.Member{{Kind: osm.KindWay, ID: 7, Role: "outer"}}}
	if got := referencedIDs(rel); len(got) != 1 || got[0] != "w7" {
		t.Errorf("referencedIDs(rel) = %v", got)
	}

	node := &osm.Object{Kind: osm.KindNode}
	if got := referencedIDs(node); len(got) != 0 {
		t.Errorf("referencedIDs(node) = %v, want empty", got)
	}
}
