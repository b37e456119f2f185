// Package refcache deduplicates reference rows (checks, CVEs) keyed by their
// natural key. Resolve short-circuits on a fresh in-process entry, falls back to
// the store, inserts on first sighting and rewrites the row once it is older
// than the configured TTL.
package refcache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/metrics"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

// Store is the persistence of one reference table. Insert must return an
// AlreadyExists error when another writer created the key first.
type Store[T any] interface {
	Find(ctx context.Context, key string) (model.ReferenceRow, bool, error)
	Insert(ctx context.Context, key string, item T) (model.ReferenceRow, error)
	Update(ctx context.Context, key string, item T) error
}

// Factory materializes the reference row for a key. It runs only on a miss or
// when the cached row is stale.
type Factory[T any] func() (T, error)

type Options struct {
	// Name labels logs and metrics.
	Name string
	// TTL returns the refresh age for a key; zero or less disables refreshes.
	TTL func(key string) time.Duration
	Now func() time.Time
}

type Cache[T any] struct {
	name  string
	store Store[T]
	ttl   func(string) time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]model.ReferenceRow
	flight  singleflight.Group
}

func New[T any](store Store[T], opts Options) *Cache[T] {
	c := &Cache[T]{
		name:    opts.Name,
		store:   store,
		ttl:     opts.TTL,
		now:     opts.Now,
		entries: map[string]model.ReferenceRow{},
	}
	if c.ttl == nil {
		c.ttl = func(string) time.Duration { return 0 }
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.name == "" {
		c.name = "reference"
	}
	return c
}

// Resolve returns the internal id of key. Store errors, including failures of
// the factory or the update during a refresh, are returned unchanged.
func (c *Cache[T]) Resolve(ctx context.Context, key string, factory Factory[T]) (int64, error) {
	if row, ok := c.get(key); ok && !c.stale(key, row) {
		metrics.ReferenceLookup(c.name, "hit")
		return row.ID, nil
	}

	// concurrent misses on the same key share one store round trip
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		return c.resolve(ctx, key, factory)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (c *Cache[T]) resolve(ctx context.Context, key string, factory Factory[T]) (int64, error) {
	row, ok := c.get(key)
	if !ok {
		var err error
		row, err = c.load(ctx, key, factory)
		if err != nil {
			return 0, err
		}
		c.set(key, row)
	}

	if c.stale(key, row) {
		log.WithFields(log.Fields{"cache": c.name, "key": key, "updated": row.UpdatedAt}).Info("refreshing expired reference item")
		item, err := factory()
		if err != nil {
			return 0, err
		}
		if err := c.store.Update(ctx, key, item); err != nil {
			return 0, err
		}
		row.UpdatedAt = c.now()
		c.set(key, row)
		metrics.ReferenceLookup(c.name, "refresh")
	}
	return row.ID, nil
}

func (c *Cache[T]) load(ctx context.Context, key string, factory Factory[T]) (model.ReferenceRow, error) {
	row, found, err := c.store.Find(ctx, key)
	if err != nil {
		return model.ReferenceRow{}, err
	}
	if found {
		metrics.ReferenceLookup(c.name, "load")
		return row, nil
	}

	item, err := factory()
	if err != nil {
		return model.ReferenceRow{}, err
	}
	row, err = c.store.Insert(ctx, key, item)
	if errors.Is(err, errors.AlreadyExists) {
		// another worker inserted the key first; use its row
		log.WithFields(log.Fields{"cache": c.name, "key": key}).Warn("reference item inserted concurrently, re-reading")
		row, found, err = c.store.Find(ctx, key)
		if err != nil {
			return model.ReferenceRow{}, err
		}
		if !found {
			return model.ReferenceRow{}, fmt.Errorf("%s item %q vanished after conflicting insert", c.name, key)
		}
		metrics.ReferenceLookup(c.name, "load")
		return row, nil
	}
	if err != nil {
		return model.ReferenceRow{}, err
	}

	log.WithFields(log.Fields{"cache": c.name, "key": key, "id": row.ID}).Info("added new reference item")
	metrics.ReferenceLookup(c.name, "insert")
	row.UpdatedAt = c.now()
	return row, nil
}

func (c *Cache[T]) stale(key string, row model.ReferenceRow) bool {
	ttl := c.ttl(key)
	if ttl <= 0 {
		return false
	}
	return row.UpdatedAt.Before(c.now().Add(-ttl))
}

func (c *Cache[T]) get(key string) (model.ReferenceRow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.entries[key]
	return row, ok
}

func (c *Cache[T]) set(key string, row model.ReferenceRow) {
	c.mu.Lock()
	c.entries[key] = row
	c.mu.Unlock()
}

// Len is the number of cached keys.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// FixedTTL applies one TTL to every key.
func FixedTTL(ttl time.Duration) func(string) time.Duration {
	return func(string) time.Duration { return ttl }
}

// PrefixTTL picks the TTL of the first matching key prefix, or def.
func PrefixTTL(def time.Duration, prefixes map[string]time.Duration) func(string) time.Duration {
	return func(key string) time.Duration {
		for prefix, ttl := range prefixes {
			if strings.HasPrefix(key, prefix) {
				return ttl
			}
		}
		return def
	}
}
