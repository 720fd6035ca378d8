package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewOpsRouter builds the operations HTTP surface: health, stats and Prometheus metrics.
func NewOpsRouter(checks map[string]CheckFunc, stats StatsSource, metrics http.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(RequestLogger(logger))

	r.Get("/health", HealthHandler(checks))
	r.Get("/stats", StatsHandler(stats))
	r.Method(http.MethodGet, "/metrics", metrics)

	return r
}
