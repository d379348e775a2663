package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/okulov/ragserver/internal/rag"
)

// ChatHandler serves the conversational endpoint.
type ChatHandler struct {
	svc ChatService
}

// NewChatHandler creates a chat handler over the orchestrator.
func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// RegisterRoutes mounts the chat endpoint on the router.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/chat", h.handleChat)
}

// chatRequest is the inbound JSON body. UseMemory defaults to true when
// omitted.
type chatRequest struct {
	Message   string `json:"message"`
	ClientID  string `json:"client_id"`
	SessionID string `json:"session_id"`
	UseMemory *bool  `json:"use_memory"`
}

func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.ClientID == "" {
		JSON(w, http.StatusBadRequest, map[string]string{
			"error":      "client_id is required",
			"message":    "Provide a client_id to access your documents. Upload documents first to get a client_id.",
			"suggestion": "Use POST /api/v1/ingest to upload documents and get your client_id",
		})
		return
	}

	useMemory := true
	if req.UseMemory != nil {
		useMemory = *req.UseMemory
	}

	slog.Info("Chat request", "client_id", req.ClientID, "session_id", req.SessionID)

	resp, err := h.svc.Chat(r.Context(), rag.ChatRequest{
		Message:   req.Message,
		ClientID:  req.ClientID,
		SessionID: req.SessionID,
		UseMemory: useMemory,
	})
	if err != nil {
		slog.Error("Chat failed", "client_id", req.ClientID, "error", err,
			"elapsed", time.Since(start))
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("Chat response sent", "client_id", req.ClientID,
		"session_id", resp.SessionID, "elapsed", time.Since(start))
	JSON(w, http.StatusOK, resp)
}
