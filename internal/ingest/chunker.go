package ingest

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/okulov/ragserver/internal/domain"
)

const (
	// DefaultChunkSize and DefaultChunkOverlap match the ingest API
	// defaults.
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunk splits text into chunks of at most size runes, each overlapping the
// previous by overlap runes so context spanning a boundary survives in at
// least one chunk.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Documents loads and chunks one uploaded file into indexable documents
// tagged with their provenance.
func Documents(filename string, content []byte, size, overlap int) ([]domain.Document, error) {
	text, err := Load(filename, content)
	if err != nil {
		return nil, err
	}

	chunks := Chunk(text, size, overlap)
	docs := make([]domain.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = domain.Document{
			Content: chunk,
			Metadata: map[string]string{
				"source_file": filename,
				"file_type":   strings.ToLower(filepath.Ext(filename)),
				"chunk":       strconv.Itoa(i),
			},
		}
	}
	return docs, nil
}
