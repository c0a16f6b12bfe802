package siphon

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spectralog/internal/platform/middleware"
)

// readyTimeout bounds each backend probe so a hung store cannot wedge
// the readiness endpoint.
const readyTimeout = 5 * time.Second

// HealthChecker reports whether one backend is reachable.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// NewOpsRouter serves the operational surface: liveness, readiness over
// the named backends, and the Prometheus scrape endpoint.
func NewOpsRouter(checks map[string]HealthChecker, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), readyTimeout)
		defer cancel()

		failed := map[string]string{}
		for name, check := range checks {
			if err := check.Healthy(ctx); err != nil {
				logger.Warn("readiness probe failed", "backend", name, "error", err)
				failed[name] = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "degraded", "failed": failed})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
