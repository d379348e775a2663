package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/okulov/ragserver/internal/domain"
	"github.com/okulov/ragserver/internal/store"
)

// memRepo is an in-memory store.Repository for orchestration tests.
type memRepo struct {
	mu        sync.Mutex
	histories map[string][]domain.Message
	expired   []string
	readErr   error
	writeErr  error
	addCalls  int
}

var _ store.Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{histories: make(map[string][]domain.Message)}
}

func (r *memRepo) GetHistory(_ context.Context, sessionID string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.readErr
	}
	return append([]domain.Message(nil), r.histories[sessionID]...), nil
}

func (r *memRepo) AddMessage(_ context.Context, sessionID string, role domain.Role, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addCalls++
	if r.writeErr != nil {
		return r.writeErr
	}
	r.histories[sessionID] = append(r.histories[sessionID], domain.Message{
		SessionID: sessionID, Role: role, Content: content,
	})
	return nil
}

func (r *memRepo) ClearSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.histories, sessionID)
	return nil
}

func (r *memRepo) ListActiveSessions(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.histories))
	for id := range r.histories {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *memRepo) CleanupExpired(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := r.expired
	r.expired = nil
	for _, id := range removed {
		delete(r.histories, id)
	}
	return removed, nil
}

func (r *memRepo) GetSessionInfo(_ context.Context, sessionID string) (*domain.SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs, ok := r.histories[sessionID]
	if !ok {
		return nil, nil
	}
	return &domain.SessionInfo{SessionID: sessionID, MessageCount: len(msgs)}, nil
}

func (r *memRepo) GetStats(_ context.Context) (domain.StoreStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, msgs := range r.histories {
		total += len(msgs)
	}
	return domain.StoreStats{
		TotalSessions:  len(r.histories),
		ActiveSessions: len(r.histories),
		TotalMessages:  total,
	}, nil
}

func (r *memRepo) Ping(context.Context) error { return nil }
func (r *memRepo) Close() error               { return nil }

func (r *memRepo) historyLen(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.histories[sessionID])
}

// echoGenerator replies deterministically, or fails when told to.
type echoGenerator struct {
	err error
}

func (g *echoGenerator) Generate(_ context.Context, history []domain.Message, docs []domain.Document, question string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("echo(%s) history=%d docs=%d", question, len(history), len(docs)), nil
}

// staticRetriever returns a fixed set of documents for any query.
type staticRetriever struct {
	docs []domain.Document
}

func (r *staticRetriever) Search(_ context.Context, _, _ string, _ int) ([]domain.Document, error) {
	return r.docs, nil
}

func newTestService(repo *memRepo, gen Generator) *Service {
	docs := []domain.Document{{Content: "the sky is blue"}}
	return NewService(repo, gen, &staticRetriever{docs: docs}, 10)
}

func TestChat_PersistsBothMessages(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &echoGenerator{})

	resp, err := svc.Chat(context.Background(), ChatRequest{
		Message: "hello", ClientID: "c1", SessionID: "s1", UseMemory: true,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	svc.persistWG.Wait()

	if resp.SessionID != "s1" || resp.ClientID != "c1" || !resp.MemoryUsed {
		t.Errorf("Unexpected response envelope: %+v", resp)
	}
	if len(resp.Sources) != 1 {
		t.Errorf("Expected 1 source, got %d", len(resp.Sources))
	}

	history := repo.histories["s1"]
	if len(history) != 2 {
		t.Fatalf("Expected 2 persisted messages, got %d", len(history))
	}
	if history[0].Role != domain.RoleUser || history[0].Content != "hello" {
		t.Errorf("Unexpected user message: %+v", history[0])
	}
	if history[1].Role != domain.RoleAssistant || history[1].Content != resp.Response {
		t.Errorf("Unexpected assistant message: %+v", history[1])
	}
}

func TestChat_GeneratesSessionID(t *testing.T) {
	svc := newTestService(newMemRepo(), &echoGenerator{})

	resp, err := svc.Chat(context.Background(), ChatRequest{
		Message: "hi", ClientID: "c1", UseMemory: true,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.SessionID == "" {
		t.Error("Expected a generated session id")
	}
}

func TestChat_RequiresClientID(t *testing.T) {
	svc := newTestService(newMemRepo(), &echoGenerator{})

	if _, err := svc.Chat(context.Background(), ChatRequest{Message: "hi", UseMemory: true}); err == nil {
		t.Error("Expected error for missing client id")
	}
}

func TestChat_HydratesFromStore(t *testing.T) {
	repo := newMemRepo()
	repo.histories["s1"] = []domain.Message{
		{SessionID: "s1", Role: domain.RoleUser, Content: "earlier question"},
		{SessionID: "s1", Role: domain.RoleAssistant, Content: "earlier answer"},
	}
	svc := newTestService(repo, &echoGenerator{})

	resp, err := svc.Chat(context.Background(), ChatRequest{
		Message: "follow-up", ClientID: "c1", SessionID: "s1", UseMemory: true,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	// The generator saw the two replayed messages.
	if !strings.Contains(resp.Response, "history=2") {
		t.Errorf("Expected generation over 2 replayed messages, got %q", resp.Response)
	}
}

func TestChat_ReadFailureDegradesToEmptyHistory(t *testing.T) {
	repo := newMemRepo()
	repo.readErr = errors.New("disk exploded")
	svc := newTestService(repo, &echoGenerator{})

	resp, err := svc.Chat(context.Background(), ChatRequest{
		Message: "hi", ClientID: "c1", SessionID: "s1", UseMemory: true,
	})
	if err != nil {
		t.Fatalf("Chat should survive a read failure, got %v", err)
	}
	if !strings.Contains(resp.Response, "history=0") {
		t.Errorf("Expected empty-context generation, got %q", resp.Response)
	}
}

func TestChat_WriteFailureDoesNotFailRequest(t *testing.T) {
	repo := newMemRepo()
	repo.writeErr = errors.New("disk full")
	svc := newTestService(repo, &echoGenerator{})

	if _, err := svc.Chat(context.Background(), ChatRequest{
		Message: "hi", ClientID: "c1", SessionID: "s1", UseMemory: true,
	}); err != nil {
		t.Fatalf("Chat should survive a write failure, got %v", err)
	}
	svc.persistWG.Wait()

	// The write was attempted once and dropped, not retried.
	if repo.addCalls != 1 {
		t.Errorf("Expected exactly 1 write attempt, got %d", repo.addCalls)
	}
}

func TestChat_GenerationFailurePropagatesWithoutPersistence(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &echoGenerator{err: errors.New("model unavailable")})

	_, err := svc.Chat(context.Background(), ChatRequest{
		Message: "hi", ClientID: "c1", SessionID: "s1", UseMemory: true,
	})
	if err == nil {
		t.Fatal("Expected generation failure to propagate")
	}
	svc.persistWG.Wait()
	if repo.addCalls != 0 {
		t.Errorf("Expected no persistence on generation failure, got %d writes", repo.addCalls)
	}
}

func TestChat_StatelessSkipsCacheAndPersistence(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &echoGenerator{})

	resp, err := svc.Chat(context.Background(), ChatRequest{
		Message: "hi", ClientID: "c1", SessionID: "s1", UseMemory: false,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	svc.persistWG.Wait()

	if resp.MemoryUsed {
		t.Error("Expected memory_used=false")
	}
	if repo.addCalls != 0 {
		t.Errorf("Expected no persistence, got %d writes", repo.addCalls)
	}
	if svc.cache.len() != 0 {
		t.Errorf("Expected empty cache, got %d entries", svc.cache.len())
	}
}

func TestClearSession_ScopedAndSessionWide(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &echoGenerator{})
	ctx := context.Background()

	for _, clientID := range []string{"c1", "c2"} {
		if _, err := svc.Chat(ctx, ChatRequest{
			Message: "hi", ClientID: clientID, SessionID: "s1", UseMemory: true,
		}); err != nil {
			t.Fatalf("Chat: %v", err)
		}
	}
	if _, err := svc.Chat(ctx, ChatRequest{
		Message: "hi", ClientID: "c1", SessionID: "s2", UseMemory: true,
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	svc.persistWG.Wait()

	// Client-scoped clear drops one pipeline; the store session still goes.
	if err := svc.ClearSession(ctx, "s1", "c1"); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if svc.cache.len() != 2 {
		t.Errorf("Expected 2 cached pipelines after scoped clear, got %d", svc.cache.len())
	}
	if repo.historyLen("s1") != 0 {
		t.Error("Expected stored session s1 to be cleared")
	}

	// Session-wide clear drops every pipeline for s2; the surviving s1/c2
	// pipeline stays untouched.
	if err := svc.ClearSession(ctx, "s2", ""); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if svc.cache.len() != 1 {
		t.Errorf("Expected 1 cached pipeline after session-wide clear, got %d", svc.cache.len())
	}
}

func TestOnExpired_InvalidatesAllClients(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &echoGenerator{})
	ctx := context.Background()

	for _, clientID := range []string{"c1", "c2"} {
		if _, err := svc.Chat(ctx, ChatRequest{
			Message: "hi", ClientID: clientID, SessionID: "s1", UseMemory: true,
		}); err != nil {
			t.Fatalf("Chat: %v", err)
		}
	}
	svc.persistWG.Wait()

	svc.OnExpired([]string{"s1"})
	if svc.cache.len() != 0 {
		t.Errorf("Expected empty cache after expiry, got %d entries", svc.cache.len())
	}
}

func TestStats(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &echoGenerator{})

	if _, err := svc.Chat(context.Background(), ChatRequest{
		Message: "hi", ClientID: "c1", SessionID: "s1", UseMemory: true,
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	svc.persistWG.Wait()

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ActivePipelines != 1 {
		t.Errorf("Expected 1 active pipeline, got %d", stats.ActivePipelines)
	}
	if stats.Store.TotalMessages != 2 {
		t.Errorf("Expected 2 stored messages, got %d", stats.Store.TotalMessages)
	}
}
