// Package index provides an in-memory per-client document index with
// token-overlap relevance scoring. It stands in for an external vector
// store: retrieval quality is not the point, client isolation and a stable
// top-k contract are.
package index

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/okulov/ragserver/internal/domain"
)

type indexedDoc struct {
	doc    domain.Document
	tokens map[string]struct{}
}

// Store holds each client's indexed document chunks. Safe for concurrent
// use; a client only ever sees its own documents.
type Store struct {
	mu       sync.RWMutex
	byClient map[string][]indexedDoc
}

// New constructs an empty index.
func New() *Store {
	return &Store{byClient: make(map[string][]indexedDoc)}
}

// Add indexes document chunks under the given client id and returns how
// many were added.
func (s *Store) Add(clientID string, docs []domain.Document) int {
	indexed := make([]indexedDoc, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}
		indexed = append(indexed, indexedDoc{doc: doc, tokens: tokenize(doc.Content)})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byClient[clientID] = append(s.byClient[clientID], indexed...)
	return len(indexed)
}

// Search returns up to k documents for the client ranked by shared-token
// count with the query. An unknown client or a query with no overlap yields
// an empty result.
func (s *Store) Search(_ context.Context, clientID, query string, k int) ([]domain.Document, error) {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	docs := s.byClient[clientID]
	s.mu.RUnlock()

	type scored struct {
		doc   domain.Document
		score int
	}
	var matches []scored
	for _, d := range docs {
		score := 0
		for tok := range queryTokens {
			if _, ok := d.tokens[tok]; ok {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{doc: d.doc, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > k {
		matches = matches[:k]
	}

	result := make([]domain.Document, len(matches))
	for i, m := range matches {
		result[i] = m.doc
	}
	return result, nil
}

// DocumentCount reports how many chunks a client has indexed.
func (s *Store) DocumentCount(clientID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byClient[clientID])
}

// tokenize lowercases the text and splits it on non-alphanumeric runes,
// dropping one-character fragments.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(field) > 1 {
			tokens[field] = struct{}{}
		}
	}
	return tokens
}
