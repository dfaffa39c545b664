package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geofetch/internal/core/config"
	"github.com/mohammed-shakir/geofetch/internal/core/health"
	middleware "github.com/mohammed-shakir/geofetch/internal/core/middleware"
	"github.com/mohammed-shakir/geofetch/internal/core/router"
	"github.com/mohammed-shakir/geofetch/internal/metrics"
)

// Handlers are the pieces the HTTP surface delegates to. Nil Reverse or
// Metrics leave the route out.
type Handlers struct {
	Query   router.QueryHandler
	Reverse router.Reverser
	Ready   map[string]health.Pinger
	Metrics *metrics.Provider
}

// Routes builds the chi router.
func Routes(cfg config.Config, logger *slog.Logger, h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.CORSOrigin))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(h.Ready, 2*time.Second))
	if h.Metrics != nil {
		r.Method(http.MethodGet, h.Metrics.Path(), h.Metrics.Handler())
	}
	r.Get("/query", router.HandleQuery(logger, h.Query))
	if h.Reverse != nil {
		r.Get("/reverse", router.HandleReverse(logger, h.Reverse))
	}
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, h Handlers) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Routes(cfg, logger, h),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.HTTPTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
