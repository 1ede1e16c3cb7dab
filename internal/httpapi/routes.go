// Package httpapi mounts the service's HTTP surface: single-shot and
// streaming provider requests, deliberations with optional durable
// execution, enrichment management, the operational snapshot, audit reads,
// the live event tail, and the prometheus scrape endpoint. Handlers stay
// thin; the orchestrator does the work.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/troika-ai/troika/internal/orchestrator"
	"github.com/troika-ai/troika/internal/temporal"
)

// Dependencies carries what the handlers operate on. Temporal may be nil
// or disabled; durable deliberations then run in process.
type Dependencies struct {
	Core     *orchestrator.Orchestrator
	Temporal *temporal.Manager
	Logger   *slog.Logger
}

// MountRoutes attaches every endpoint to the router. Global middleware
// (request id, logging, CORS, rate limiting, tracing) is the caller's
// responsibility.
func MountRoutes(r chi.Router, d Dependencies) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r.Get("/healthz", HealthzHandler(d))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/requests", RequestsHandler(d))
		r.Post("/requests/stream", StreamHandler(d))
		r.Post("/deliberations", DeliberationsHandler(d))
		r.Get("/deliberations", DeliberationsListHandler(d))
		r.Post("/enrich", EnrichHandler(d))
		r.Delete("/enrich/cache", EnrichPurgeHandler(d))
		r.Get("/snapshot", SnapshotHandler(d))
		r.Get("/outcomes", OutcomesHandler(d))
		r.Get("/events", SSEHandler(d.Core.Events()))
	})

	r.Handle("/metrics", d.Core.Metrics().Handler())
}

// HealthzHandler reports liveness. The service is unhealthy only when no
// provider is registered at all; empty credential pools still serve
// uniform no_credential failures.
func HealthzHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		providers := d.Core.Providers()
		names := make([]string, len(providers))
		for i, k := range providers {
			names[i] = k.Name()
		}
		w.Header().Set("Content-Type", "application/json")
		if len(providers) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":    "unhealthy",
				"providers": names,
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"providers": names,
		})
	}
}

// jsonError writes {"error": msg} with the given status code.
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
