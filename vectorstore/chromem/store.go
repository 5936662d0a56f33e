// Package chromem implements vectorstore.Store on an embedded chromem-go
// database, one collection per project. It serves offline runs and the
// standard tier when no backend is reachable.
package chromem

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/creastat/console/logging"
	"github.com/creastat/console/vectorstore"
	chromemgo "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const collectionPrefix = "project:"

// Store is a chromem-backed vector store.
type Store struct {
	mu     sync.RWMutex
	db     *chromemgo.DB
	embed  chromemgo.EmbeddingFunc
	logger *logging.Logger
}

// New opens a persistent store at path, or an in-memory one when path is empty.
func New(path string, embedder vectorstore.Embedder, logger *logging.Logger) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("chromem embedder is required")
	}

	var db *chromemgo.DB
	if path == "" {
		db = chromemgo.NewDB()
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create vector store dir: %w", err)
		}
		var err error
		db, err = chromemgo.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
	}

	return &Store{
		db:     db,
		embed:  embedder.Embed,
		logger: logging.OrNop(logger).Named("vectorstore.chromem"),
	}, nil
}

func collectionName(sourceID string) string {
	return collectionPrefix + sourceID
}

// Upsert implements vectorstore.Store. Documents are grouped into their
// project collections.
func (s *Store) Upsert(ctx context.Context, docs []vectorstore.Document) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make(map[string][]chromemgo.Document)
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document id is required")
		}
		meta := stringMetadata(d.Metadata)
		meta["document_id"] = d.DocumentID
		meta["source_id"] = d.SourceID
		groups[d.SourceID] = append(groups[d.SourceID], chromemgo.Document{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: meta,
		})
	}

	for source, group := range groups {
		col, err := s.db.GetOrCreateCollection(collectionName(source), nil, s.embed)
		if err != nil {
			return fmt.Errorf("collection %s: %w", source, err)
		}
		// chromem keeps duplicates, so replaced chunks are removed first.
		for _, d := range group {
			if _, err := col.GetByID(ctx, d.ID); err == nil {
				if err := col.Delete(ctx, nil, nil, d.ID); err != nil {
					return fmt.Errorf("replace %s: %w", d.ID, err)
				}
			}
		}
		if err := col.AddDocuments(ctx, group, 1); err != nil {
			return fmt.Errorf("add documents to %s: %w", source, err)
		}
		s.logger.Debug(ctx, "indexed documents", zap.String("source_id", source), zap.Int("count", len(group)))
	}
	return nil
}

// Search implements vectorstore.Store. With no source filter every project
// collection is searched and the results merged by score.
func (s *Store) Search(ctx context.Context, query string, filter vectorstore.SearchFilter, limit int) ([]vectorstore.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, vectorstore.ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cols []*chromemgo.Collection
	if len(filter.SourceIDs) == 0 {
		for name, col := range s.db.ListCollections() {
			if strings.HasPrefix(name, collectionPrefix) {
				cols = append(cols, col)
			}
		}
	} else {
		for _, id := range filter.SourceIDs {
			if col := s.db.GetCollection(collectionName(id), s.embed); col != nil {
				cols = append(cols, col)
			}
		}
	}

	var where map[string]string
	if len(filter.Metadata) > 0 {
		where = stringMetadata(filter.Metadata)
	}

	var results []vectorstore.SearchResult
	for _, col := range cols {
		n := min(limit, col.Count())
		if n == 0 {
			continue
		}
		hits, err := col.Query(ctx, query, n, where, nil)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", col.Name, err)
		}
		for _, h := range hits {
			if filter.MinScore > 0 && h.Similarity < filter.MinScore {
				continue
			}
			meta := make(map[string]any, len(h.Metadata))
			for k, v := range h.Metadata {
				if k != "source_id" && k != "document_id" {
					meta[k] = v
				}
			}
			results = append(results, vectorstore.SearchResult{
				ID:         h.ID,
				Score:      h.Similarity,
				Content:    h.Content,
				SourceID:   h.Metadata["source_id"],
				DocumentID: h.Metadata["document_id"],
				Metadata:   meta,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Count returns the number of chunks stored for a project.
func (s *Store) Count(sourceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col := s.db.GetCollection(collectionName(sourceID), s.embed)
	if col == nil {
		return 0
	}
	return col.Count()
}

// Close implements vectorstore.Store. Persistent databases write through on
// every add, so there is nothing to flush.
func (s *Store) Close() error { return nil }

func stringMetadata(m map[string]any) map[string]string {
	out := make(map[string]string, len(m)+2)
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

var _ vectorstore.Store = (*Store)(nil)
