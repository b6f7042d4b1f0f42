package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/rag/searchfilter"
	"github.com/sweetpotato0/esg-rag/vector"
)

// VectorStore implements vector.Index on a MongoDB Atlas collection with a
// vector search index over "embedding" and filter fields under "metadata".
type VectorStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	embedder   vector.Embedder
	index      string
	candidates int
}

// Config holds MongoDB connection configuration
type Config struct {
	URI        string
	Database   string
	Collection string
	// Index is the Atlas vector search index name.
	Index string
	// Candidates scales numCandidates relative to k (default 20).
	Candidates int
}

// DefaultConfig returns default MongoDB configuration
func DefaultConfig() Config {
	return Config{
		URI:        "mongodb://localhost:27017",
		Database:   "esg_rag",
		Collection: "passages",
		Index:      "passage_vector_index",
		Candidates: 20,
	}
}

type passageDoc struct {
	ID        string         `bson:"_id"`
	Content   string         `bson:"content"`
	Metadata  map[string]any `bson:"metadata"`
	Embedding []float32      `bson:"embedding,omitempty"`
}

// NewVectorStore connects to MongoDB and returns a store.
func NewVectorStore(ctx context.Context, cfg Config, embedder vector.Embedder) (*VectorStore, error) {
	def := DefaultConfig()
	if cfg.URI == "" {
		cfg.URI = def.URI
	}
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.Index == "" {
		cfg.Index = def.Index
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = def.Candidates
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &VectorStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		embedder:   embedder,
		index:      cfg.Index,
		candidates: cfg.Candidates,
	}, nil
}

// AddEmbedding upserts an embedding document.
func (s *VectorStore) AddEmbedding(ctx context.Context, embedding *vector.Embedding) error {
	if embedding == nil {
		return fmt.Errorf("embedding cannot be nil")
	}
	if embedding.ID == "" {
		return fmt.Errorf("embedding ID cannot be empty")
	}

	meta := make(map[string]any, len(embedding.Passage.Metadata))
	for k, v := range embedding.Passage.Metadata {
		meta[k] = v.Any()
	}
	doc := passageDoc{
		ID:        embedding.ID,
		Content:   embedding.Passage.Content,
		Metadata:  meta,
		Embedding: embedding.Vector,
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": embedding.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to add embedding to MongoDB: %w", err)
	}
	return nil
}

// Search runs a $vectorSearch aggregation with the filter pushed down.
func (s *VectorStore) Search(ctx context.Context, query string, k int, filter searchfilter.Filter) ([]document.Passage, error) {
	if k <= 0 {
		return nil, nil
	}
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	cursor, err := s.collection.Aggregate(ctx, s.pipeline(qv, k, filter))
	if err != nil {
		return nil, fmt.Errorf("failed to search passages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []passageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode passages: %w", err)
	}

	out := make([]document.Passage, len(docs))
	for i, d := range docs {
		out[i] = document.Passage{Content: d.Content, Metadata: document.MetadataFromMap(d.Metadata)}
	}
	return out, nil
}

func (s *VectorStore) pipeline(qv []float32, k int, filter searchfilter.Filter) mongo.Pipeline {
	search := bson.D{
		{Key: "index", Value: s.index},
		{Key: "path", Value: "embedding"},
		{Key: "queryVector", Value: qv},
		{Key: "numCandidates", Value: k * s.candidates},
		{Key: "limit", Value: k},
	}
	if f := BuildFilter(filter); f != nil {
		search = append(search, bson.E{Key: "filter", Value: f})
	}
	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: search}},
		{{Key: "$project", Value: bson.D{
			{Key: "content", Value: 1},
			{Key: "metadata", Value: 1},
		}}},
	}
}

// Count returns the number of passages in the collection.
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	count, err := s.collection.EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count passages: %w", err)
	}
	return int(count), nil
}

// Close closes the MongoDB connection
func (s *VectorStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// BuildFilter converts filter into an MQL pre-filter over metadata fields.
// It returns nil for an empty filter.
func BuildFilter(filter searchfilter.Filter) bson.M {
	if filter.Empty() {
		return nil
	}
	clauses := make([]bson.M, 0, filter.Len())
	for _, c := range filter.Conditions() {
		path := "metadata." + c.Field
		if c.Operator == searchfilter.OperatorIn {
			clauses = append(clauses, bson.M{path: bson.M{"$in": c.Scalars()}})
			continue
		}
		clauses = append(clauses, bson.M{path: bson.M{"$eq": c.Value.Any()}})
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return bson.M{"$and": clauses}
}
