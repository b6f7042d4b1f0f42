package vector

import (
	"context"
	"math"
	"strconv"

	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/rag/searchfilter"
)

// Embedding is a passage together with its vector.
type Embedding struct {
	ID      string
	Vector  []float32
	Passage document.Passage
}

// Store is a similarity search client over the passage corpus.
type Store interface {
	// Search returns up to k passages ranked by similarity to query. An empty
	// filter means unconstrained.
	Search(ctx context.Context, query string, k int, filter searchfilter.Filter) ([]document.Passage, error)
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context, query string, k int, filter searchfilter.Filter) ([]document.Passage, error)

// Search implements Store.
func (fn StoreFunc) Search(ctx context.Context, query string, k int, filter searchfilter.Filter) ([]document.Passage, error) {
	return fn(ctx, query, k, filter)
}

// Index is a Store that also accepts new embeddings.
type Index interface {
	Store
	AddEmbedding(ctx context.Context, embedding *Embedding) error
	Count(ctx context.Context) (int, error)
}

// Embedder defines the interface for creating embeddings from text
type Embedder interface {
	// Embed converts text to a vector embedding
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to embeddings
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension return number of embedding dimensions
	Dimension() int
}

// CosineSimilarity calculates the cosine similarity between two vectors
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Normalize scales the vector to unit length (L2 norm).
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// Literal renders vec in the pgvector text format, e.g. "[0.1,0.2]".
func Literal(vec []float32) string {
	buf := make([]byte, 0, len(vec)*8+2)
	buf = append(buf, '[')
	for i, v := range vec {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(v), 'f', -1, 32)
	}
	return string(append(buf, ']'))
}
