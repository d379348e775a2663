package domain

// Document is a chunk of ingested text with its provenance metadata.
// Retrieval returns documents as-is; their content is opaque to the core.
type Document struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
