// Package cache implements the Object Cache: a durable mapping from
// canonical OSM object id to serialised object, backed by an embedded
// database file that is created fresh at engine construction and removed
// at engine teardown (spec.md §4.2).
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"os"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/MeKo-Tech/osm-engine/internal/osm"
)

// Store is the Object Cache contract. Implementations must be safe for
// concurrent use: the resolver fans batch fetches out across a worker
// pool, so Has/Get/Put can all be called from multiple goroutines while
// a resolver pass is in flight.
type Store interface {
	Has(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*osm.Object, error) // nil, nil on miss
	Put(ctx context.Context, obj *osm.Object) error
	// Iter lazily yields every cached object. An entry that fails to
	// deserialise is yielded as an error and iteration moves on to the
	// next entry unless the consumer stops; a failure of the underlying
	// query or scan ends the sequence.
	Iter(ctx context.Context) iter.Seq2[*osm.Object, error]
	// Commit flushes batched Put calls. Implementations with no implicit
	// transaction may treat this as a no-op.
	Commit(ctx context.Context) error
	Close() error
}

const schema = `CREATE TABLE IF NOT EXISTS raw_entities (key TEXT PRIMARY KEY, value TEXT)`

// SQLiteStore is the default durable Object Cache backend: a single
// SQLite file with one table, raw_entities(key TEXT PRIMARY KEY, value TEXT),
// opened with synchronous writes disabled and one long-lived transaction
// that Commit closes and reopens (spec.md §5, §6).
type SQLiteStore struct {
	path string
	db   *sql.DB

	mu sync.Mutex
	tx *sql.Tx
}

// OpenSQLiteStore creates (overwriting any stale file) the cache database
// at path and begins its first transaction.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	// A crashed prior run may have left a stale file behind; the host is
	// responsible for removing it (spec.md §6), but we defend anyway since
	// re-using a stale cache would silently violate invariant I1.
	_ = os.Remove(path)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // one long-lived connection, per spec.md §5

	if _, err := db.Exec(`PRAGMA synchronous = OFF`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: disabling synchronous writes: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: creating schema: %w", err)
	}

	s := &SQLiteStore{path: path, db: db}
	if err := s.beginLocked(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) beginLocked() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("cache: beginning transaction: %w", err)
	}
	s.tx = tx
	return nil
}

func (s *SQLiteStore) Has(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var one int
	err := s.tx.QueryRowContext(ctx, `SELECT 1 FROM raw_entities WHERE key = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: checking %s: %w", id, err)
	}
	return true, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*osm.Object, error) {
	s.mu.Lock()
	var value string
	err := s.tx.QueryRowContext(ctx, `SELECT value FROM raw_entities WHERE key = ?`, id).Scan(&value)
	s.mu.Unlock()
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: getting %s: %w", id, err)
	}
	obj := &osm.Object{}
	if err := obj.UnmarshalJSON([]byte(value)); err != nil {
		return nil, fmt.Errorf("cache: deserialising %s: %w", id, err)
	}
	return obj, nil
}

// Put serialises and upserts obj, overwriting any prior version (invariant I1).
func (s *SQLiteStore) Put(ctx context.Context, obj *osm.Object) error {
	data, err := obj.MarshalJSON()
	if err != nil {
		return fmt.Errorf("cache: serialising %s: %w", obj.CanonicalID(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.tx.ExecContext(ctx,
		`INSERT INTO raw_entities (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		obj.CanonicalID(), string(data),
	)
	if err != nil {
		return fmt.Errorf("cache: putting %s: %w", obj.CanonicalID(), err)
	}
	return nil
}

func (s *SQLiteStore) Iter(ctx context.Context) iter.Seq2[*osm.Object, error] {
	return func(yield func(*osm.Object, error) bool) {
		s.mu.Lock()
		rows, err := s.tx.QueryContext(ctx, `SELECT value FROM raw_entities`)
		s.mu.Unlock()
		if err != nil {
			yield(nil, fmt.Errorf("cache: iterating: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var value string
			if err := rows.Scan(&value); err != nil {
				yield(nil, fmt.Errorf("cache: scanning row: %w", err))
				return
			}
			obj := &osm.Object{}
			if err := obj.UnmarshalJSON([]byte(value)); err != nil {
				if !yield(nil, fmt.Errorf("cache: deserialising row: %w", err)) {
					return
				}
				continue
			}
			if !yield(obj, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("cache: reading rows: %w", err))
		}
	}
}

// Commit closes the currently open transaction and begins a new one,
// batching every Put since the last Commit into one disk flush.
func (s *SQLiteStore) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("cache: committing: %w", err)
	}
	return s.beginLocked()
}

// Close commits any pending writes, closes the database connection and
// removes the cache file from disk — the cache is a working set, not
// persistent state (spec.md §4.2).
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.tx != nil {
		_ = s.tx.Commit()
	}
	s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("cache: closing: %w", err)
	}
	return os.Remove(s.path)
}
