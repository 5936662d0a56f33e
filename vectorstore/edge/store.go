// Package edge implements vectorstore.Store over Supabase Edge Functions.
// Embedding and storage happen server-side; the standard tier is backed by
// Supabase vector and the premium tier by Pinecone.
package edge

import (
	"context"
	"fmt"
	"strings"

	"github.com/creastat/console"
	"github.com/creastat/console/supabase"
	"github.com/creastat/console/vectorstore"
)

// Functions are the Edge Function names used by one tier.
type Functions struct {
	Search string
	Index  string
}

// FunctionsFor returns the function pair that serves tier.
func FunctionsFor(tier console.Tier) Functions {
	if tier == console.TierPremium {
		return Functions{Search: "pinecone-search", Index: "pinecone-index"}
	}
	return Functions{Search: "vector-search", Index: "vector-index"}
}

// Store routes vector operations to the Edge Functions of one tier.
type Store struct {
	functions supabase.Functions
	names     Functions
	tier      console.Tier
}

// New creates a Store for tier.
func New(functions supabase.Functions, tier console.Tier) *Store {
	return &Store{functions: functions, names: FunctionsFor(tier), tier: tier}
}

// Tier returns the tier this store serves.
func (s *Store) Tier() console.Tier { return s.tier }

type indexDocument struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	SourceID   string         `json:"source_id"`
	DocumentID string         `json:"document_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type indexResponse struct {
	Indexed int `json:"indexed"`
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, docs []vectorstore.Document) error {
	if len(docs) == 0 {
		return nil
	}
	body := struct {
		Documents []indexDocument `json:"documents"`
	}{Documents: make([]indexDocument, 0, len(docs))}
	for _, d := range docs {
		body.Documents = append(body.Documents, indexDocument(d))
	}
	if err := s.functions.Invoke(ctx, s.names.Index, body, nil); err != nil {
		return fmt.Errorf("%s upsert: %w", s.tier, err)
	}
	return nil
}

// IndexProject implements vectorstore.ProjectIndexer.
func (s *Store) IndexProject(ctx context.Context, projectID string) (int, error) {
	if strings.TrimSpace(projectID) == "" {
		return 0, fmt.Errorf("%w: project id is required", console.ErrValidation)
	}
	var out indexResponse
	if err := s.functions.Invoke(ctx, s.names.Index, map[string]string{"project_id": projectID}, &out); err != nil {
		return 0, fmt.Errorf("%s index project %s: %w", s.tier, projectID, err)
	}
	return out.Indexed, nil
}

type searchRequest struct {
	Query      string         `json:"query"`
	ProjectIDs []string       `json:"project_ids,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	MinScore   float32        `json:"min_score,omitempty"`
	Limit      int            `json:"limit"`
}

type searchResponse struct {
	Results []vectorstore.SearchResult `json:"results"`
}

// Search implements vectorstore.Store.
func (s *Store) Search(ctx context.Context, query string, filter vectorstore.SearchFilter, limit int) ([]vectorstore.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, vectorstore.ErrEmptyQuery
	}
	req := searchRequest{
		Query:      query,
		ProjectIDs: filter.SourceIDs,
		Metadata:   filter.Metadata,
		MinScore:   filter.MinScore,
		Limit:      limit,
	}
	var out searchResponse
	if err := s.functions.Invoke(ctx, s.names.Search, req, &out); err != nil {
		return nil, fmt.Errorf("%s search: %w", s.tier, err)
	}

	results := out.Results[:0]
	for _, r := range out.Results {
		if filter.MinScore > 0 && r.Score < filter.MinScore {
			continue
		}
		results = append(results, r)
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close implements vectorstore.Store. The functions client is owned by the caller.
func (s *Store) Close() error { return nil }

var (
	_ vectorstore.Store          = (*Store)(nil)
	_ vectorstore.ProjectIndexer = (*Store)(nil)
)
