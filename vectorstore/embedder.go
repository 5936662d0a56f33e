package vectorstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	chromem "github.com/philippgille/chromem-go"
)

// DefaultDimensions is the vector size of the hashing embedder.
const DefaultDimensions = 256

// HashEmbedder is a deterministic bag-of-words embedder using feature
// hashing. It needs no model or network and is used for offline indexing
// and tests; similarity reflects shared vocabulary only.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder producing dims-sized vectors.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the vector size.
func (e *HashEmbedder) Dimensions() int { return e.dims }

// Embed implements Embedder. The result is L2-normalized.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[sum%uint64(e.dims)] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// chromem rejects zero vectors; give empty text a fixed direction.
		vec[0] = 1
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}

// NewEmbedder returns the embedder named by kind: "hash", "openai" or
// "ollama". model and baseURL are only used by the remote kinds.
func NewEmbedder(kind, apiKey, model, baseURL string) (Embedder, error) {
	switch kind {
	case "", "hash":
		return NewHashEmbedder(DefaultDimensions), nil
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("openai embedder requires an api key")
		}
		if model == "" {
			model = string(chromem.EmbeddingModelOpenAI3Small)
		}
		return EmbedderFunc(chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model))), nil
	case "ollama":
		if model == "" {
			model = "nomic-embed-text"
		}
		return EmbedderFunc(chromem.NewEmbeddingFuncOllama(model, baseURL)), nil
	default:
		return nil, fmt.Errorf("unknown embedder %q", kind)
	}
}

var _ Embedder = (*HashEmbedder)(nil)
