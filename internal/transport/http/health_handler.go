package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"flashgate/internal/infrastructure"
	"flashgate/internal/kv"
)

// HealthHandler exposes liveness and readiness endpoints.
type HealthHandler struct {
	store  kv.Store
	logger *slog.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store kv.Store, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:  store,
		logger: logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /health.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":    "ok",
		"service":   infrastructure.ServiceName,
		"version":   infrastructure.ServiceVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadinessCheck handles GET /health/ready. Ready means the store
// answers.
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, _, err := h.store.Get(ctx, "health:ping"); err != nil {
		h.logger.ErrorContext(ctx, "readiness check failed",
			slog.String("error", err.Error()))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]any{"status": "unavailable", "error": err.Error()})
		return
	}
	render.JSON(w, r, map[string]any{"status": "ready"})
}
