package rag

import (
	"context"
	"sync"

	"github.com/okulov/ragserver/internal/domain"
)

// Generator produces an assistant reply from the conversation so far plus
// retrieved context. Implementations wrap an external model API.
type Generator interface {
	Generate(ctx context.Context, history []domain.Message, docs []domain.Document, question string) (string, error)
}

// Retriever returns the documents most relevant to a client's query.
// An unknown client yields no documents, not an error.
type Retriever interface {
	Search(ctx context.Context, clientID, query string, k int) ([]domain.Document, error)
}

// retrieveK is how many documents a pipeline pulls per question.
const retrieveK = 4

// Pipeline is one live conversational unit for a (session, client) pair:
// the session's replayed message history plus the collaborators needed to
// answer follow-up questions against that client's documents.
type Pipeline struct {
	sessionID string
	clientID  string
	gen       Generator
	retriever Retriever

	mu      sync.Mutex
	history []domain.Message
}

func newPipeline(sessionID, clientID string, history []domain.Message, gen Generator, retriever Retriever) *Pipeline {
	return &Pipeline{
		sessionID: sessionID,
		clientID:  clientID,
		gen:       gen,
		retriever: retriever,
		history:   history,
	}
}

// Invoke retrieves context for the message and generates a reply. On
// success the exchange is appended to the in-memory history; on failure the
// history is left untouched and the error is returned to the caller.
// Persistence is the orchestrator's concern, not the pipeline's.
func (p *Pipeline) Invoke(ctx context.Context, message string) (string, []domain.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	docs, err := p.retriever.Search(ctx, p.clientID, message, retrieveK)
	if err != nil {
		return "", nil, err
	}

	answer, err := p.gen.Generate(ctx, p.history, docs, message)
	if err != nil {
		return "", nil, err
	}

	p.history = append(p.history,
		domain.Message{SessionID: p.sessionID, Role: domain.RoleUser, Content: message},
		domain.Message{SessionID: p.sessionID, Role: domain.RoleAssistant, Content: answer},
	)
	return answer, docs, nil
}

// HistoryLen reports how many messages the pipeline holds in memory.
func (p *Pipeline) HistoryLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}
