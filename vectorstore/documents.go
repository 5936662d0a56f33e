package vectorstore

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/creastat/console"
)

// DefaultChunkSize is the maximum chunk length in runes.
const DefaultChunkSize = 1500

// Chunk splits a project document into paragraph-aligned chunks of at most
// size runes. A single paragraph longer than size is cut hard. Chunk IDs are
// derived from the document ID so re-indexing overwrites earlier chunks.
func Chunk(doc console.ProjectDocument, size int) []Document {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}
	for _, para := range strings.Split(doc.Content, "\n\n") {
		for utf8.RuneCountInString(para) > size {
			flush()
			r := []rune(para)
			chunks = append(chunks, string(r[:size]))
			para = string(r[size:])
		}
		if utf8.RuneCountInString(cur.String())+utf8.RuneCountInString(para)+2 > size {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()

	out := make([]Document, 0, len(chunks))
	for i, c := range chunks {
		meta := map[string]any{"path": doc.Path, "chunk": i}
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		out = append(out, Document{
			ID:         fmt.Sprintf("%s#%d", doc.ID, i),
			Content:    c,
			SourceID:   doc.ProjectID,
			DocumentID: doc.ID,
			Metadata:   meta,
		})
	}
	return out
}

// ChunkAll chunks every document.
func ChunkAll(docs []console.ProjectDocument, size int) []Document {
	var out []Document
	for _, d := range docs {
		out = append(out, Chunk(d, size)...)
	}
	return out
}
