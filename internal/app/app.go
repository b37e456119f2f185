// Package app assembles the store, caches and normalizers shared by the
// worker daemon and the operator CLI.
package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/config"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/db"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/db/sqlite"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/normalizer"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/ownership"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/refcache"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/s3"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/scorecache"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/worker"
)

// Backend is implemented by both relational stores.
type Backend interface {
	worker.AuditStore
	scorecache.Store
	ownership.Store
	Checks() refcache.Store[model.Check]
	CVEs() refcache.Store[model.CVE]
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*db.Store)(nil)
	_ Backend = (*sqlite.Store)(nil)
)

func OpenBackend(ctx context.Context, cfg config.Config) (Backend, error) {
	if cfg.DatabaseDriver == config.DriverSQLite {
		s, err := sqlite.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates missing tables. A postgres role without DDL
// privileges skips it.
func EnsureSchema(ctx context.Context, b Backend) error {
	err := b.EnsureSchema(ctx)
	if db.IsInsufficientPrivilege(err) {
		log.WithError(err).Warn("ensure schema skipped due insufficient privilege")
		return nil
	}
	return err
}

type App struct {
	Config   config.Config
	Store    Backend
	Checks   *refcache.CheckCache
	CVEs     *refcache.CVECache
	Registry normalizer.Registry
	Scores   *scorecache.Cache
	Owners   *ownership.Cache
	State    *worker.State
}

// New opens the configured store and builds the caches on top of it.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	store, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return Assemble(cfg, store), nil
}

// Assemble builds the caches and normalizers over an open store.
func Assemble(cfg config.Config, store Backend) *App {
	ttls := refcache.TTLs{
		PolarisCheck: cfg.Cache.PolarisCheck(),
		AzskCheck:    cfg.Cache.AzureCheck(),
		DefaultCheck: cfg.Cache.DefaultCheck(),
		CVE:          cfg.Cache.CVE(),
	}
	a := &App{
		Config: cfg,
		Store:  store,
		Checks: refcache.NewCheckCache(store.Checks(), ttls),
		CVEs:   refcache.NewCVECache(store.CVEs(), ttls),
		Scores: scorecache.New(store, scorecache.Options{Size: cfg.Cache.ScoreCacheSize}),
		Owners: ownership.New(store, time.Now),
		State:  worker.NewState(),
	}
	a.Registry = normalizer.NewRegistry(a.Checks, a.CVEs)
	return a
}

// Runner builds the ingestion orchestrator reading from blobs.
func (a *App) Runner(blobs worker.BlobStore) *worker.Runner {
	return worker.NewRunner(a.Config, blobs, a.Store, a.Registry, a.State).
		WithScores(a.Scores).
		WithPostProcessors(ownership.NewExtractor(a.Store, a.Owners))
}

// Blobs connects to the configured object storage.
func (a *App) Blobs() (*s3.Client, error) {
	if err := a.Config.RequireBlobStore(); err != nil {
		return nil, err
	}
	c := a.Config
	return s3.New(c.S3Endpoint, c.S3AccessKey, c.S3SecretKey, c.S3Region, c.S3UseSSL, c.AuditsBucket)
}

func (a *App) Close() error {
	return a.Store.Close()
}
