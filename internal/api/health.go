package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/togethr/internal/store"
	"github.com/go-chi/chi/v5"
)

const defaultHealthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo     store.Repository
	sessions func() int
	viewers  func() int
	timeout  time.Duration
}

// NewHealthHandler creates a new health handler. sessions and viewers, when
// set, report the live chat sessions and attached transcript viewers.
func NewHealthHandler(repo store.Repository, sessions, viewers func() int) *HealthHandler {
	return &HealthHandler{repo: repo, sessions: sessions, viewers: viewers, timeout: defaultHealthCheckTimeout}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.sessions != nil {
		status["sessions"] = h.sessions()
	}
	if h.viewers != nil {
		status["viewers"] = h.viewers()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
