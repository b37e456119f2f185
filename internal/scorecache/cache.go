// Package scorecache keeps per-component daily counters and the synthesized
// Overall rollup in an expiring LRU.
//
// Overall is never recomputed when a component cell changes; the component
// reload evicts it and the next Overall read sums the fresh component cells.
package scorecache

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/util/cache"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/metrics"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

const (
	// WindowDays is the trailing window covered by Reload, today included.
	WindowDays = 31

	emptyTTL  = 15 * time.Minute
	recentTTL = time.Hour
	pastTTL   = 24 * time.Hour

	recentAge = 48 * time.Hour

	reloadConcurrency = 4
)

// Store reads persisted audits and their counters. Audit listings return the
// latest audit per component and UTC day.
type Store interface {
	ListComponentIDs(ctx context.Context, since time.Time) ([]string, error)
	AuditsForComponent(ctx context.Context, componentID string, since time.Time) ([]model.AuditRow, error)
	// AuditForDay returns nil when the component has no audit on day.
	AuditForDay(ctx context.Context, componentID string, day time.Time) (*model.AuditRow, error)
	AuditsForDay(ctx context.Context, day time.Time) ([]model.AuditRow, error)
	CountersForAudit(ctx context.Context, auditRowID int64) (model.CountersSummary, error)
}

type Options struct {
	// Size bounds the number of cells.
	Size int
	Now  func() time.Time
}

type cellKey struct {
	component string
	day       string
}

func keyOf(componentID string, day time.Time) cellKey {
	return cellKey{component: componentID, day: model.Day(day).Format(time.DateOnly)}
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

type Cache struct {
	store  Store
	cells  *cache.LRUExpireCache
	now    func() time.Time
	flight singleflight.Group
}

func New(store Store, opts Options) *Cache {
	if opts.Size <= 0 {
		opts.Size = 50000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		store: store,
		cells: cache.NewLRUExpireCacheWithClock(opts.Size, clockFunc(opts.Now)),
		now:   opts.Now,
	}
}

// Reload recomputes every component cell of the trailing window and the
// Overall cell of every day that has at least one audit.
func (c *Cache) Reload(ctx context.Context) error {
	start := time.Now()
	today := model.Day(c.now())
	since := today.AddDate(0, 0, -(WindowDays - 1))

	components, err := c.store.ListComponentIDs(ctx, since)
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		overall = map[string]model.CountersSummary{}
		days    = map[string]time.Time{}
		cells   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reloadConcurrency)
	for _, componentID := range components {
		componentID := componentID
		g.Go(func() error {
			audits, err := c.store.AuditsForComponent(gctx, componentID, since)
			if err != nil {
				return err
			}
			for _, a := range audits {
				counters, err := c.store.CountersForAudit(gctx, a.RowID)
				if err != nil {
					return err
				}
				day := model.Day(a.Date)
				c.put(componentID, day, counters)

				k := keyOf(componentID, day)
				mu.Lock()
				sum := overall[k.day]
				sum.Add(counters)
				overall[k.day] = sum
				days[k.day] = day
				cells++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for k, sum := range overall {
		c.put(model.OverallID, days[k], sum)
	}

	elapsed := time.Since(start)
	metrics.ScoreReloaded(elapsed)
	log.WithFields(log.Fields{
		"components": len(components),
		"cells":      cells,
		"days":       len(overall),
		"elapsed":    elapsed.String(),
	}).Info("score cache reloaded")
	return nil
}

// Get returns the counters of componentID on the UTC day of date. A miss
// reloads only the requested cell; a component without an audit that day
// yields zero counters.
func (c *Cache) Get(ctx context.Context, componentID string, date time.Time) (model.CountersSummary, error) {
	key := keyOf(componentID, date)
	if v, ok := c.cells.Get(key); ok {
		return v.(model.CountersSummary), nil
	}

	v, err, _ := c.flight.Do(key.component+"@"+key.day, func() (interface{}, error) {
		if componentID == model.OverallID {
			return c.reloadOverall(ctx, model.Day(date))
		}
		return c.reloadComponent(ctx, componentID, model.Day(date))
	})
	if err != nil {
		return model.CountersSummary{}, err
	}
	return v.(model.CountersSummary), nil
}

// Invalidate drops the cell of componentID on day and the Overall cell of that day.
func (c *Cache) Invalidate(componentID string, day time.Time) {
	c.cells.Remove(keyOf(componentID, day))
	c.cells.Remove(keyOf(model.OverallID, day))
}

func (c *Cache) reloadOverall(ctx context.Context, day time.Time) (model.CountersSummary, error) {
	audits, err := c.store.AuditsForDay(ctx, day)
	if err != nil {
		return model.CountersSummary{}, err
	}
	var sum model.CountersSummary
	for _, a := range audits {
		counters, err := c.store.CountersForAudit(ctx, a.RowID)
		if err != nil {
			return model.CountersSummary{}, err
		}
		c.put(a.ComponentID, day, counters)
		sum.Add(counters)
	}
	c.put(model.OverallID, day, sum)
	metrics.ScoreCellReloaded("overall")
	return sum, nil
}

func (c *Cache) reloadComponent(ctx context.Context, componentID string, day time.Time) (model.CountersSummary, error) {
	audit, err := c.store.AuditForDay(ctx, componentID, day)
	if err != nil {
		return model.CountersSummary{}, err
	}
	metrics.ScoreCellReloaded("component")
	if audit == nil {
		c.put(componentID, day, model.CountersSummary{})
		return model.CountersSummary{}, nil
	}

	counters, err := c.store.CountersForAudit(ctx, audit.RowID)
	if err != nil {
		return model.CountersSummary{}, err
	}
	c.put(componentID, day, counters)
	c.cells.Remove(keyOf(model.OverallID, day))
	return counters, nil
}

func (c *Cache) put(componentID string, day time.Time, counters model.CountersSummary) {
	c.cells.Add(keyOf(componentID, day), counters, c.expiration(day, counters))
}

func (c *Cache) expiration(day time.Time, counters model.CountersSummary) time.Duration {
	switch {
	case counters.Total() == 0:
		return emptyTTL
	case c.now().Sub(day) < recentAge:
		return recentTTL
	default:
		return pastTTL
	}
}
