// Package ownership attributes components to owners. The whole ownership
// table is cached as one entry; lookups walk from the most specific
// hierarchy level of a component id to its root.
package ownership

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/util/cache"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

const (
	tableKey = "ownership"
	tableTTL = 24 * time.Hour
)

type Store interface {
	ListOwnership(ctx context.Context) ([]model.OwnershipEntry, error)
	// UpsertOwnership updates the owner of existing component ids and inserts the rest.
	UpsertOwnership(ctx context.Context, entries []model.OwnershipEntry) error
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

type Cache struct {
	store  Store
	table  *cache.LRUExpireCache
	flight singleflight.Group
}

// New returns a cache reading from store. now may be nil.
func New(store Store, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		store: store,
		table: cache.NewLRUExpireCacheWithClock(1, clockFunc(now)),
	}
}

// GetOwner returns the owner of the most specific level of componentID that
// has a non-empty owner, or "" when no level has one. An id that does not
// follow the component id grammar is a NotValid error.
func (c *Cache) GetOwner(ctx context.Context, componentID string) (string, error) {
	id, err := model.ParseComponentID(componentID)
	if err != nil {
		return "", err
	}
	owners, err := c.entries(ctx)
	if err != nil {
		return "", err
	}
	for _, key := range id.LookupKeys() {
		if owner := owners[key]; owner != "" {
			return owner, nil
		}
	}
	return "", nil
}

// Invalidate drops the cached table; the next lookup reloads it.
func (c *Cache) Invalidate() {
	c.table.Remove(tableKey)
}

func (c *Cache) entries(ctx context.Context) (map[string]string, error) {
	if v, ok := c.table.Get(tableKey); ok {
		return v.(map[string]string), nil
	}
	v, err, _ := c.flight.Do(tableKey, func() (interface{}, error) {
		rows, err := c.store.ListOwnership(ctx)
		if err != nil {
			return nil, err
		}
		owners := make(map[string]string, len(rows))
		for _, r := range rows {
			owners[r.ComponentID] = r.Owner
		}
		c.table.Add(tableKey, owners, tableTTL)
		log.WithField("entries", len(owners)).Debug("ownership table loaded")
		return owners, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}
