package qdrant

import (
	"testing"

	"github.com/creastat/console/vectorstore"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresSettings(t *testing.T) {
	emb := vectorstore.NewHashEmbedder(8)

	_, err := New(Config{CollectionName: "c"}, emb)
	assert.ErrorContains(t, err, "url is required")

	_, err = New(Config{URL: "localhost:6334", CollectionName: "c"}, nil)
	assert.ErrorContains(t, err, "embedder is required")

	_, err = New(Config{URL: "localhost:6334"}, emb)
	assert.ErrorContains(t, err, "collection name is required")
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		raw  string
		host string
		port int
		tls  bool
	}{
		{"http://localhost:6334", "localhost", 6334, false},
		{"https://cluster.qdrant.io", "cluster.qdrant.io", 6334, true},
		{"cluster.qdrant.io:7000", "cluster.qdrant.io", 7000, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			host, port, tls, err := parseAddress(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.tls, tls)
		})
	}

	_, _, _, err := parseAddress("http://localhost:notaport")
	assert.Error(t, err)
}

func TestPointID_StableForChunkIDs(t *testing.T) {
	a := pointID("doc-1#0").GetUuid()
	b := pointID("doc-1#0").GetUuid()
	c := pointID("doc-1#1").GetUuid()
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	u := "0d3c6a4e-8a1f-4c7e-9d55-3c1c2b8e9f10"
	assert.Equal(t, u, pointID(u).GetUuid())
}

func TestPayloadRoundTrip(t *testing.T) {
	doc := vectorstore.Document{
		ID:         "doc-1#2",
		Content:    "func main() {}",
		SourceID:   "proj-1",
		DocumentID: "doc-1",
		Metadata:   map[string]any{"path": "main.go", "chunk": 2, "generated": false, "content": "ignored"},
	}

	payload := buildPayload(doc)
	got := convertPoint(pointID(doc.ID), 0.9, payload)

	assert.Equal(t, "doc-1#2", got.ID, "original id wins over the point uuid")
	assert.Equal(t, "func main() {}", got.Content)
	assert.Equal(t, "proj-1", got.SourceID)
	assert.Equal(t, "doc-1", got.DocumentID)
	assert.Equal(t, "main.go", got.Metadata["path"])
	assert.Equal(t, int64(2), got.Metadata["chunk"])
	assert.Equal(t, false, got.Metadata["generated"])
	assert.NotContains(t, got.Metadata, "content")
}

func TestBuildQdrantFilter(t *testing.T) {
	assert.Nil(t, buildQdrantFilter(vectorstore.SearchFilter{}))

	single := buildQdrantFilter(vectorstore.SearchFilter{SourceIDs: []string{"p1"}})
	require.Len(t, single.Must, 1)
	field := single.Must[0].GetField()
	assert.Equal(t, "source_id", field.Key)
	assert.Equal(t, "p1", field.Match.GetKeyword())

	multi := buildQdrantFilter(vectorstore.SearchFilter{
		SourceIDs: []string{"p1", "p2"},
		Metadata:  map[string]any{"lang": "go"},
	})
	require.Len(t, multi.Must, 2)
	assert.Equal(t, []string{"p1", "p2"}, multi.Must[0].GetField().Match.GetKeywords().GetStrings())
	assert.Equal(t, "go", multi.Must[1].GetField().Match.GetKeyword())
}

func TestBuildMatchCondition(t *testing.T) {
	tests := []struct {
		name  string
		value any
		check func(*testing.T, *qdrant.Match)
	}{
		{"int", 3, func(t *testing.T, m *qdrant.Match) { assert.Equal(t, int64(3), m.GetInteger()) }},
		{"bool", true, func(t *testing.T, m *qdrant.Match) { assert.True(t, m.GetBoolean()) }},
		{"other", 1.5, func(t *testing.T, m *qdrant.Match) { assert.Equal(t, "1.5", m.GetKeyword()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, buildMatchCondition("k", tt.value).GetField().Match)
		})
	}
}
