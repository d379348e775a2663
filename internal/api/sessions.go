package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SessionHandler serves the session administration endpoints.
type SessionHandler struct {
	svc     ChatService
	sweeper SweepTrigger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(svc ChatService, sweeper SweepTrigger) *SessionHandler {
	return &SessionHandler{svc: svc, sweeper: sweeper}
}

// RegisterRoutes mounts the session endpoints on the router.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/stats", h.handleStats)
		r.Post("/cleanup", h.handleCleanup)
		r.Get("/{sessionID}/info", h.handleInfo)
		r.Delete("/{sessionID}", h.handleClear)
	})
}

func (h *SessionHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.ListActiveSessions(r.Context())
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions": ids,
		"count":    len(ids),
	})
}

func (h *SessionHandler) handleInfo(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	info, err := h.svc.SessionInfo(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to get session info", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get session information")
		return
	}
	if info == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, info)
}

func (h *SessionHandler) handleClear(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	clientID := r.URL.Query().Get("client_id")

	if err := h.svc.ClearSession(r.Context(), sessionID, clientID); err != nil {
		slog.Error("Failed to clear session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"message": "session " + sessionID + " cleared successfully",
	})
}

func (h *SessionHandler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.sweeper.SweepNow(r.Context())
	if err != nil {
		slog.Error("Manual cleanup failed", "error", err)
		Error(w, http.StatusInternalServerError, "failed to cleanup sessions")
		return
	}
	if removed == nil {
		removed = []string{}
	}

	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		slog.Error("Failed to get stats after cleanup", "error", err)
		Error(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"message":          "expired sessions cleaned up successfully",
		"removed_sessions": removed,
		"current_stats":    stats,
	})
}

func (h *SessionHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		slog.Error("Failed to get stats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	JSON(w, http.StatusOK, stats)
}
