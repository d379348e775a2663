// Package rag coordinates conversational retrieval-augmented generation:
// it resolves cached pipelines per (session, client) pair, hydrates them
// from the durable session store, invokes generation, and persists the
// resulting exchange back to the store.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okulov/ragserver/internal/domain"
	"github.com/okulov/ragserver/internal/store"
)

// persistTimeout bounds each background AddMessage call.
const persistTimeout = 10 * time.Second

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	Message   string `json:"message"`
	ClientID  string `json:"client_id"`
	SessionID string `json:"session_id,omitempty"`
	UseMemory bool   `json:"use_memory"`
}

// ChatResponse is the answer to one chat turn.
type ChatResponse struct {
	Response   string            `json:"response"`
	SessionID  string            `json:"session_id"`
	ClientID   string            `json:"client_id"`
	Sources    []domain.Document `json:"sources"`
	MemoryUsed bool              `json:"memory_used"`
}

// Stats aggregates cache and store counters.
type Stats struct {
	ActivePipelines int               `json:"active_pipelines"`
	PipelineKeys    []string          `json:"pipeline_keys"`
	Store           domain.StoreStats `json:"store"`
}

// Service orchestrates the session store, the pipeline cache, and the
// generation/retrieval collaborators.
//
// Persistence is best-effort: the chat response is produced first and both
// messages are written afterwards in the background. Write failures are
// logged and dropped (at-most-once); read failures during hydration degrade
// to an empty history. Neither ever fails a chat request. Generation
// failures do fail the request, with nothing persisted.
type Service struct {
	repo      store.Repository
	gen       Generator
	retriever Retriever
	cache     *pipelineCache

	persistWG sync.WaitGroup
}

// NewService creates the orchestrator. maxCached bounds the pipeline cache.
func NewService(repo store.Repository, gen Generator, retriever Retriever, maxCached int) *Service {
	return &Service{
		repo:      repo,
		gen:       gen,
		retriever: retriever,
		cache:     newPipelineCache(maxCached),
	}
}

// Chat answers one turn. An empty session id starts a new session with a
// generated id, returned in the response.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	if !req.UseMemory {
		return s.chatStateless(ctx, req)
	}

	pipeline, hit, err := s.resolvePipeline(ctx, req.SessionID, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	if !hit {
		slog.Info("Created pipeline", "session_id", req.SessionID, "client_id", req.ClientID)
	}

	answer, sources, err := pipeline.Invoke(ctx, req.Message)
	if err != nil {
		return nil, fmt.Errorf("generate response: %w", err)
	}

	s.persistExchange(req.SessionID, req.Message, answer)

	return &ChatResponse{
		Response:   answer,
		SessionID:  req.SessionID,
		ClientID:   req.ClientID,
		Sources:    sources,
		MemoryUsed: true,
	}, nil
}

// chatStateless answers without touching session state: direct retrieval
// plus a single-shot generation, nothing cached, nothing persisted.
func (s *Service) chatStateless(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if s.gen == nil {
		return nil, fmt.Errorf("generation is not configured")
	}
	docs, err := s.retriever.Search(ctx, req.ClientID, req.Message, retrieveK)
	if err != nil {
		return nil, fmt.Errorf("retrieve documents: %w", err)
	}
	answer, err := s.gen.Generate(ctx, nil, docs, req.Message)
	if err != nil {
		return nil, fmt.Errorf("generate response: %w", err)
	}
	return &ChatResponse{
		Response:   answer,
		SessionID:  req.SessionID,
		ClientID:   req.ClientID,
		Sources:    docs,
		MemoryUsed: false,
	}, nil
}

// resolvePipeline returns the cached pipeline for the pair, constructing
// and hydrating it on a miss. The cache lock spans construction, so
// concurrent callers for the same never-cached key all observe the single
// resulting pipeline.
func (s *Service) resolvePipeline(ctx context.Context, sessionID, clientID string) (*Pipeline, bool, error) {
	key := pipelineKey{sessionID: sessionID, clientID: clientID}
	return s.cache.getOrCreate(key, func() (*Pipeline, error) {
		if s.gen == nil {
			return nil, fmt.Errorf("generation is not configured")
		}
		history, err := s.repo.GetHistory(ctx, sessionID)
		if err != nil {
			// History loss is tolerable: the conversation continues
			// with no prior context.
			slog.Error("Failed to load session history, starting empty",
				"session_id", sessionID, "error", err)
			history = nil
		} else if len(history) > 0 {
			slog.Info("Hydrated pipeline from store",
				"session_id", sessionID, "messages", len(history))
		}
		return newPipeline(sessionID, clientID, history, s.gen, s.retriever), nil
	})
}

// persistExchange writes the user message and the assistant reply in the
// background. Failures are logged and dropped; the response has already
// been delivered.
func (s *Service) persistExchange(sessionID, userMsg, assistantMsg string) {
	s.persistWG.Add(1)
	go func() {
		defer s.persistWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := s.repo.AddMessage(ctx, sessionID, domain.RoleUser, userMsg); err != nil {
			slog.Error("Dropped user message", "session_id", sessionID, "error", err)
			return
		}
		if err := s.repo.AddMessage(ctx, sessionID, domain.RoleAssistant, assistantMsg); err != nil {
			slog.Error("Dropped assistant message", "session_id", sessionID, "error", err)
		}
	}()
}

// ClearSession removes cached pipelines and deletes the stored session.
// With a client id only that client's pipeline is dropped; without one,
// every pipeline for the session goes, across all clients. The store delete
// always happens.
func (s *Service) ClearSession(ctx context.Context, sessionID, clientID string) error {
	if clientID != "" {
		s.cache.remove(pipelineKey{sessionID: sessionID, clientID: clientID})
	} else {
		s.cache.removeSession(sessionID)
	}
	if err := s.repo.ClearSession(ctx, sessionID); err != nil {
		return fmt.Errorf("clear stored session: %w", err)
	}
	slog.Info("Cleared session", "session_id", sessionID, "client_id", clientID)
	return nil
}

// OnExpired drops every cached pipeline belonging to the given sessions.
// Called after a sweep so the cache can never serve a pipeline for a
// session the store no longer recognizes.
func (s *Service) OnExpired(sessionIDs []string) {
	for _, id := range sessionIDs {
		if n := s.cache.removeSession(id); n > 0 {
			slog.Info("Invalidated pipelines for expired session",
				"session_id", id, "pipelines", n)
		}
	}
}

// SessionInfo returns the stored session snapshot, or nil if unknown.
func (s *Service) SessionInfo(ctx context.Context, sessionID string) (*domain.SessionInfo, error) {
	return s.repo.GetSessionInfo(ctx, sessionID)
}

// ListActiveSessions returns the ids of all non-expired sessions.
func (s *Service) ListActiveSessions(ctx context.Context) ([]string, error) {
	return s.repo.ListActiveSessions(ctx)
}

// Stats returns cache and store statistics.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	storeStats, err := s.repo.GetStats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("store stats: %w", err)
	}
	keys := s.cache.keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.sessionID + "_" + k.clientID
	}
	return Stats{
		ActivePipelines: len(keys),
		PipelineKeys:    names,
		Store:           storeStats,
	}, nil
}

// Close waits for in-flight background persistence to drain.
func (s *Service) Close() {
	s.persistWG.Wait()
}
