// Package health serves the probe, state and metrics endpoints.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	log "github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/metrics"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/worker"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type status struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func probe(w http.ResponseWriter, r *http.Request, ok bool, reason string) {
	if !ok {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, status{Status: "unhealthy", Reason: reason})
		return
	}
	render.JSON(w, r, status{Status: "healthy"})
}

func NewRouter(db Pinger, state worker.StateReader) http.Handler {
	r := chi.NewRouter()

	// healthz checks DB connectivity with a 2s timeout
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			log.WithError(err).Warn("healthz: db ping failed")
			probe(w, r, false, "db unreachable")
			return
		}
		probe(w, r, true, "")
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		probe(w, r, state.Ready(), "score cache not loaded")
	})
	r.Get("/livez", func(w http.ResponseWriter, r *http.Request) {
		probe(w, r, state.Live(), "background loops not started")
	})
	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, state.Snapshot())
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// Serve runs the server on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) {
	s := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shctx)
	}()
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("health server stopped")
	}
}
