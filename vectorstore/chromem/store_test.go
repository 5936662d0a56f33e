package chromem

import (
	"context"
	"testing"

	"github.com/creastat/console"
	"github.com/creastat/console/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := New(path, vectorstore.NewHashEmbedder(128), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	docs := vectorstore.ChunkAll([]console.ProjectDocument{
		{ID: "sess", ProjectID: "p1", Path: "session.go", Content: "session store creates and switches chat sessions"},
		{ID: "msg", ProjectID: "p1", Path: "message.go", Content: "message store sends messages and retries failed messages"},
		{ID: "rag", ProjectID: "p2", Path: "rag.go", Content: "premium tier migration moves vectors to pinecone"},
	}, 0)
	require.NoError(t, s.Upsert(context.Background(), docs))
}

func TestStore_SearchRanksByVocabulary(t *testing.T) {
	s := newStore(t, "")
	seed(t, s)

	results, err := s.Search(context.Background(), "retry failed messages", vectorstore.SearchFilter{}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "msg#0", results[0].ID)
	assert.Equal(t, "p1", results[0].SourceID)
	assert.Equal(t, "msg", results[0].DocumentID)
	assert.Equal(t, "message.go", results[0].Metadata["path"])
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestStore_SearchFilters(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "")
	seed(t, s)

	results, err := s.Search(ctx, "vectors", vectorstore.SearchFilter{SourceIDs: []string{"p2"}}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "rag#0", results[0].ID)

	results, err = s.Search(ctx, "store", vectorstore.SearchFilter{
		SourceIDs: []string{"p1"},
		Metadata:  map[string]any{"path": "session.go"},
	}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sess#0", results[0].ID)

	results, err = s.Search(ctx, "store", vectorstore.SearchFilter{SourceIDs: []string{"missing"}}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = s.Search(ctx, "", vectorstore.SearchFilter{}, 1)
	assert.ErrorIs(t, err, vectorstore.ErrEmptyQuery)
}

func TestStore_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "")
	seed(t, s)
	assert.Equal(t, 2, s.Count("p1"))

	doc := vectorstore.Chunk(console.ProjectDocument{ID: "sess", ProjectID: "p1", Content: "rewritten session docs"}, 0)
	require.NoError(t, s.Upsert(ctx, doc))
	assert.Equal(t, 2, s.Count("p1"))

	results, err := s.Search(ctx, "rewritten", vectorstore.SearchFilter{SourceIDs: []string{"p1"}}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "rewritten session docs", results[0].Content)
}

func TestStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	s := newStore(t, dir)
	seed(t, s)

	reopened := newStore(t, dir)
	assert.Equal(t, 1, reopened.Count("p2"))
}

func TestNew_RequiresEmbedder(t *testing.T) {
	_, err := New("", nil, nil)
	assert.Error(t, err)
}
