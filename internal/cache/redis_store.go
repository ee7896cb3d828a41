package cache

import (
	"context"
	"fmt"
	"iter"

	"github.com/redis/go-redis/v9"

	"github.com/MeKo-Tech/osm-engine/internal/osm"
)

// RedisStore is an alternate Object Cache backend for hosts that want the
// working set shared across engine processes instead of a private file.
// It satisfies the same key/value contract as SQLiteStore (raw_entities'
// key/value columns become a key prefix + plain Redis value), but has no
// implicit transaction: Commit is a no-op since Redis writes land
// immediately.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an already-configured *redis.Client. keyPrefix
// namespaces this engine instance's working set (e.g. "osm-engine:cache:")
// so multiple engines can share one Redis instance without key collisions.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Has(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("cache(redis): checking %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*osm.Object, error) {
	value, err := s.client.Get(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache(redis): getting %s: %w", id, err)
	}
	obj := &osm.Object{}
	if err := obj.UnmarshalJSON([]byte(value)); err != nil {
		return nil, fmt.Errorf("cache(redis): deserialising %s: %w", id, err)
	}
	return obj, nil
}

func (s *RedisStore) Put(ctx context.Context, obj *osm.Object) error {
	data, err := obj.MarshalJSON()
	if err != nil {
		return fmt.Errorf("cache(redis): serialising %s: %w", obj.CanonicalID(), err)
	}
	if err := s.client.Set(ctx, s.key(obj.CanonicalID()), data, 0).Err(); err != nil {
		return fmt.Errorf("cache(redis): putting %s: %w", obj.CanonicalID(), err)
	}
	return nil
}

func (s *RedisStore) Iter(ctx context.Context) iter.Seq2[*osm.Object, error] {
	return func(yield func(*osm.Object, error) bool) {
		iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			value, err := s.client.Get(ctx, iter.Val()).Result()
			if err != nil {
				if !yield(nil, fmt.Errorf("cache(redis): reading %s: %w", iter.Val(), err)) {
					return
				}
				continue
			}
			obj := &osm.Object{}
			if err := obj.UnmarshalJSON([]byte(value)); err != nil {
				if !yield(nil, fmt.Errorf("cache(redis): deserialising %s: %w", iter.Val(), err)) {
					return
				}
				continue
			}
			if !yield(obj, nil) {
				return
			}
		}
		if err := iter.Err(); err != nil {
			yield(nil, fmt.Errorf("cache(redis): scanning: %w", err))
		}
	}
}

// Commit is a no-op: Redis has no implicit transaction to flush.
func (s *RedisStore) Commit(ctx context.Context) error { return nil }

// Close flushes the engine's namespaced keys and closes the connection —
// mirroring SQLiteStore's "working set, not persistent state" lifecycle.
func (s *RedisStore) Close() error {
	ctx := context.Background()
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		s.client.Del(ctx, keys...)
	}
	return s.client.Close()
}
