package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/okulov/ragserver/internal/store"
)

// HealthHandler reports service and store health.
type HealthHandler struct {
	repo   store.Repository
	model  string
	dbPath string
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(repo store.Repository, model, dbPath string) *HealthHandler {
	return &HealthHandler{repo: repo, model: model, dbPath: dbPath}
}

// RegisterRoutes mounts the health endpoint on the router.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.repo.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	JSON(w, code, map[string]interface{}{
		"status":        status,
		"timestamp":     time.Now().Unix(),
		"model":         h.model,
		"database_path": h.dbPath,
	})
}
