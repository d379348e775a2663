package index

import (
	"context"
	"testing"

	"github.com/okulov/ragserver/internal/domain"
	"github.com/okulov/ragserver/internal/rag"
)

// Interface compliance (compile-time assertion)
var _ rag.Retriever = (*Store)(nil)

func TestSearch_RanksByOverlap(t *testing.T) {
	s := New()
	s.Add("c1", []domain.Document{
		{Content: "the billing cycle resets monthly"},
		{Content: "invoices are emailed after each billing cycle closes"},
		{Content: "our office dog is named biscuit"},
	})

	got, err := s.Search(context.Background(), "c1", "when does the billing cycle reset", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(got))
	}
	if got[0].Content != "the billing cycle resets monthly" {
		t.Errorf("Expected the reset document first, got %q", got[0].Content)
	}
}

func TestSearch_ClientIsolation(t *testing.T) {
	s := New()
	s.Add("c1", []domain.Document{{Content: "secret alpha report"}})
	s.Add("c2", []domain.Document{{Content: "public beta notes"}})

	got, err := s.Search(context.Background(), "c2", "alpha report", 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no cross-client results, got %v", got)
	}
}

func TestSearch_UnknownClient(t *testing.T) {
	s := New()
	got, err := s.Search(context.Background(), "nobody", "anything", 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty result, got %v", got)
	}
}

func TestAdd_SkipsEmptyChunks(t *testing.T) {
	s := New()
	added := s.Add("c1", []domain.Document{
		{Content: "real content"},
		{Content: "   "},
	})
	if added != 1 {
		t.Errorf("Expected 1 chunk added, got %d", added)
	}
	if s.DocumentCount("c1") != 1 {
		t.Errorf("Expected 1 indexed chunk, got %d", s.DocumentCount("c1"))
	}
}
