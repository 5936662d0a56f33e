package vectorstore

import (
	"context"
	"errors"
)

// ErrEmptyQuery is returned when Search is called without query text.
var ErrEmptyQuery = errors.New("vectorstore: query is empty")

// Store is a technology-agnostic interface for vector similarity search.
// Implementations embed text themselves, either locally through an Embedder
// or server-side.
type Store interface {
	// Upsert indexes documents, replacing any with the same ID.
	Upsert(ctx context.Context, docs []Document) error

	// Search performs similarity search for query with optional filtering.
	Search(ctx context.Context, query string, filter SearchFilter, limit int) ([]SearchResult, error)

	// Close releases any resources held by the vector store.
	Close() error
}

// ProjectIndexer is implemented by stores that index a whole project
// server-side. It returns the number of vectors written.
type ProjectIndexer interface {
	IndexProject(ctx context.Context, projectID string) (int, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

// Document is a chunk of text to index.
type Document struct {
	// ID is stable across re-indexing of the same chunk.
	ID string

	Content string

	// SourceID is the project the chunk belongs to.
	SourceID string

	// DocumentID identifies the project document the chunk was cut from.
	DocumentID string

	Metadata map[string]any
}

// SearchFilter defines filtering options for vector search.
type SearchFilter struct {
	// SourceIDs restricts results to these projects. Empty means all.
	SourceIDs []string

	// Metadata filters results by metadata key-value pairs.
	Metadata map[string]any

	// MinScore filters results below this similarity threshold (0.0-1.0).
	MinScore float32
}

// SearchResult represents a single result from vector similarity search.
type SearchResult struct {
	ID         string         `json:"id"`
	Score      float32        `json:"score"`
	Content    string         `json:"content"`
	SourceID   string         `json:"source_id"`
	DocumentID string         `json:"document_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
