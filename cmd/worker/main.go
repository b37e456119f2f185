package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/app"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/config"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/health"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/worker"
)

func main() {
	// .env files help local dev; try current directory and one level up
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.SetupLogging(); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()
	if err := app.EnsureSchema(ctx, a.Store); err != nil {
		log.Fatal(err)
	}

	blobs, err := a.Blobs()
	if err != nil {
		log.Fatal(err)
	}

	if addr := cfg.HTTPAddr; addr != "" {
		go health.Serve(ctx, addr, health.NewRouter(a.Store, a.State))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.RunScoreReloader(ctx, a.Scores, cfg.ScoreReloadInterval, a.State)
	}()

	r := a.Runner(blobs)
	log.WithFields(log.Fields{
		"worker":      r.WorkerID(),
		"driver":      cfg.DatabaseDriver,
		"bucket":      cfg.AuditsBucket,
		"concurrency": cfg.WorkerConcurrency,
	}).Info("worker starting")

	if err := r.RunForever(ctx); err != nil {
		log.Fatal(err)
	}
	wg.Wait()
	log.Info("worker stopped")
}
