package inmemory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/rag/searchfilter"
	"github.com/sweetpotato0/esg-rag/vector"
)

// VectorStore keeps embeddings in memory and evaluates filters locally.
type VectorStore struct {
	embedder vector.Embedder

	mu         sync.RWMutex
	embeddings []*vector.Embedding
	index      map[string]int
}

// NewVectorStore creates an empty store that embeds queries with embedder.
func NewVectorStore(embedder vector.Embedder) *VectorStore {
	return &VectorStore{
		embedder: embedder,
		index:    make(map[string]int),
	}
}

// AddEmbedding adds or replaces an embedding.
func (s *VectorStore) AddEmbedding(ctx context.Context, embedding *vector.Embedding) error {
	if embedding == nil {
		return fmt.Errorf("embedding cannot be nil")
	}
	if embedding.ID == "" {
		return fmt.Errorf("embedding ID cannot be empty")
	}
	if len(embedding.Vector) == 0 {
		return fmt.Errorf("embedding vector cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[embedding.ID]; ok {
		s.embeddings[i] = embedding
		return nil
	}
	s.index[embedding.ID] = len(s.embeddings)
	s.embeddings = append(s.embeddings, embedding)
	return nil
}

// AddPassages embeds and stores passages, keyed by their deduplication key.
func (s *VectorStore) AddPassages(ctx context.Context, passages ...document.Passage) error {
	if len(passages) == 0 {
		return nil
	}
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Content
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed passages: %w", err)
	}
	if len(vecs) != len(passages) {
		return fmt.Errorf("embedder returned %d vectors for %d passages", len(vecs), len(passages))
	}
	for i, p := range passages {
		if err := s.AddEmbedding(ctx, &vector.Embedding{ID: embeddingID(p), Vector: vecs[i], Passage: p}); err != nil {
			return err
		}
	}
	return nil
}

// Search embeds query and returns the k most similar passages matching filter.
// Ties keep insertion order.
func (s *VectorStore) Search(ctx context.Context, query string, k int, filter searchfilter.Filter) ([]document.Passage, error) {
	if k <= 0 {
		return nil, nil
	}
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type result struct {
		passage    document.Passage
		similarity float32
	}
	results := make([]result, 0, len(s.embeddings))
	for _, emb := range s.embeddings {
		if len(emb.Vector) != len(qv) || !filter.Match(emb.Passage.Metadata) {
			continue
		}
		results = append(results, result{
			passage:    emb.Passage,
			similarity: vector.CosineSimilarity(qv, emb.Vector),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].similarity > results[j].similarity
	})

	if k > len(results) {
		k = len(results)
	}
	out := make([]document.Passage, k)
	for i := 0; i < k; i++ {
		out[i] = results[i].passage
	}
	return out, nil
}

// Count returns the number of embeddings
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.embeddings), nil
}

// Clear removes all embeddings
func (s *VectorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings = nil
	s.index = make(map[string]int)
	return nil
}

type record struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  document.Metadata `json:"metadata"`
	Embedding []float32         `json:"embedding"`
}

// LoadJSONL reads a corpus export with one JSON object per line:
// {"id", "content", "metadata", "embedding"}. Records without an embedding
// are embedded in batches of batchSize.
func (s *VectorStore) LoadJSONL(ctx context.Context, r io.Reader, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 64
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var pending []document.Passage
	flush := func() error {
		err := s.AddPassages(ctx, pending...)
		pending = pending[:0]
		return err
	}

	n, line := 0, 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		p := document.Passage{Content: rec.Content, Metadata: rec.Metadata}
		n++
		if len(rec.Embedding) > 0 {
			id := rec.ID
			if id == "" {
				id = embeddingID(p)
			}
			if err := s.AddEmbedding(ctx, &vector.Embedding{ID: id, Vector: rec.Embedding, Passage: p}); err != nil {
				return n, fmt.Errorf("line %d: %w", line, err)
			}
			continue
		}
		pending = append(pending, p)
		if len(pending) >= batchSize {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("read corpus: %w", err)
	}
	if err := flush(); err != nil {
		return n, err
	}
	return n, nil
}

func embeddingID(p document.Passage) string {
	k := document.KeyOf(p)
	return k.Source + "#" + k.ID
}
