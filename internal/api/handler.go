// Package api provides HTTP handlers for the conversational RAG API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okulov/ragserver/internal/domain"
	"github.com/okulov/ragserver/internal/rag"
)

// ChatService is the orchestration surface the API delegates to.
type ChatService interface {
	Chat(ctx context.Context, req rag.ChatRequest) (*rag.ChatResponse, error)
	ClearSession(ctx context.Context, sessionID, clientID string) error
	SessionInfo(ctx context.Context, sessionID string) (*domain.SessionInfo, error)
	ListActiveSessions(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (rag.Stats, error)
}

// SweepTrigger runs an on-demand expiry sweep.
type SweepTrigger interface {
	SweepNow(ctx context.Context) ([]string, error)
}

// Indexer accepts document chunks for a client.
type Indexer interface {
	Add(clientID string, docs []domain.Document) int
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
