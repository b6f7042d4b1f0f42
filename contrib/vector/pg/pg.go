package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/rag/searchfilter"
	"github.com/sweetpotato0/esg-rag/vector"
)

// VectorStore implements vector.Index using PostgreSQL with the pgvector
// extension. Passage metadata lives in a JSONB column and filters are
// evaluated with containment.
type VectorStore struct {
	db        *sql.DB
	embedder  vector.Embedder
	dimension int
	tableName string
}

// Config holds pgvector configuration
type Config struct {
	DSN       string
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	SSLMode   string
	Dimension int    // Embedding dimension (default: 1536 for OpenAI)
	TableName string // Table name (default: esg_passages)
	// Setup creates the extension and table when true.
	Setup bool
}

// DefaultConfig returns default pgvector configuration
func DefaultConfig() Config {
	return Config{
		Host:      "127.0.0.1",
		Port:      5432,
		User:      "postgres",
		DBName:    "esg_rag",
		SSLMode:   "disable",
		Dimension: 1536,
		TableName: "esg_passages",
	}
}

func (c Config) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// NewVectorStore connects to PostgreSQL and returns a store.
func NewVectorStore(ctx context.Context, cfg Config, embedder vector.Embedder) (*VectorStore, error) {
	def := DefaultConfig()
	if cfg.Dimension <= 0 {
		cfg.Dimension = def.Dimension
	}
	if cfg.TableName == "" {
		cfg.TableName = def.TableName
	}

	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := NewWithDB(db, embedder, cfg.TableName, cfg.Dimension)
	if cfg.Setup {
		if err := store.Setup(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to setup pgvector: %w", err)
		}
	}
	return store, nil
}

// NewWithDB wraps an existing connection pool.
func NewWithDB(db *sql.DB, embedder vector.Embedder, table string, dimension int) *VectorStore {
	return &VectorStore{db: db, embedder: embedder, tableName: table, dimension: dimension}
}

// Setup enables pgvector and creates the passage table.
func (s *VectorStore) Setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) PRIMARY KEY,
		content TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		embedding vector(%d) NOT NULL
	)`, s.tableName, s.dimension)
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	indexSQL := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_metadata_idx ON %s USING GIN (metadata)`,
		s.tableName, s.tableName)
	if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("failed to create metadata index: %w", err)
	}
	return nil
}

// AddEmbedding upserts an embedding.
func (s *VectorStore) AddEmbedding(ctx context.Context, embedding *vector.Embedding) error {
	if embedding == nil {
		return fmt.Errorf("embedding cannot be nil")
	}
	if embedding.ID == "" {
		return fmt.Errorf("embedding ID cannot be empty")
	}
	if len(embedding.Vector) != s.dimension {
		return fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dimension, len(embedding.Vector))
	}

	meta, err := json.Marshal(embedding.Passage.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, content, metadata, embedding)
	VALUES ($1, $2, $3::jsonb, $4::vector)
	ON CONFLICT (id) DO UPDATE SET
		content = EXCLUDED.content,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query, embedding.ID, embedding.Passage.Content, string(meta), vector.Literal(embedding.Vector)); err != nil {
		return fmt.Errorf("failed to add embedding: %w", err)
	}
	return nil
}

// Search embeds query and returns the k nearest passages by cosine distance.
func (s *VectorStore) Search(ctx context.Context, query string, k int, filter searchfilter.Filter) ([]document.Passage, error) {
	if k <= 0 {
		return nil, nil
	}
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != s.dimension {
		return nil, fmt.Errorf("query vector dimension mismatch: expected %d, got %d", s.dimension, len(qv))
	}

	where, args, err := BuildWhere(filter, 3)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(`SELECT content, metadata FROM %s%s ORDER BY embedding <=> $1::vector LIMIT $2`, s.tableName, where)

	rows, err := s.db.QueryContext(ctx, stmt, append([]any{vector.Literal(qv), k}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search passages: %w", err)
	}
	defer rows.Close()

	out := make([]document.Passage, 0, k)
	for rows.Next() {
		var content string
		var meta []byte
		if err := rows.Scan(&content, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		md := document.Metadata{}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &md); err != nil {
				logging.WithComponent("pgvector").Warn("skipping row with malformed metadata", "error", err)
				continue
			}
		}
		out = append(out, document.Passage{Content: content, Metadata: md})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating passages: %w", err)
	}
	return out, nil
}

// Count returns the number of stored passages.
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.tableName)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count passages: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *VectorStore) Close() error {
	return s.db.Close()
}

// BuildWhere renders filter as a SQL WHERE clause over the JSONB metadata
// column. Placeholders start at $first. Equality uses containment; set
// membership is a disjunction of containments.
func BuildWhere(filter searchfilter.Filter, first int) (string, []any, error) {
	if filter.Empty() {
		return "", nil, nil
	}
	var (
		clauses []string
		args    []any
		n       = first
	)
	for _, c := range filter.Conditions() {
		values := c.Scalars()
		if len(values) == 0 {
			// an empty set matches nothing
			clauses = append(clauses, "FALSE")
			continue
		}
		alts := make([]string, 0, len(values))
		for _, v := range values {
			doc, err := json.Marshal(map[string]any{c.Field: v})
			if err != nil {
				return "", nil, fmt.Errorf("encode filter %s: %w", c.Field, err)
			}
			alts = append(alts, fmt.Sprintf("metadata @> $%d::jsonb", n))
			args = append(args, string(doc))
			n++
		}
		if len(alts) == 1 {
			clauses = append(clauses, alts[0])
		} else {
			clauses = append(clauses, "("+strings.Join(alts, " OR ")+")")
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}
