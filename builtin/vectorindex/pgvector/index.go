// Package pgvector provides a vector index on PostgreSQL with the
// pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"

	_ "github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

// identifierRe restricts collection names to plain SQL identifiers.
// Collection names come from user config and end up interpolated into
// DDL, so anything fancier is rejected up front.
var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Index stores entity vectors in a PostgreSQL table with a pgvector
// embedding column. One table per collection, provisioned on first use.
type Index struct {
	db         *sql.DB
	dimensions int

	mu          sync.Mutex
	provisioned map[string]struct{}
}

// New opens a connection to PostgreSQL and verifies the pgvector
// extension is available.
func New(config provider.VectorIndexConfig) (*Index, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("%w: pgvector index requires a connection string", types.ErrInvalidConfig)
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	return &Index{
		db:          db,
		dimensions:  config.Dimensions,
		provisioned: make(map[string]struct{}),
	}, nil
}

// Name returns the provider name.
func (i *Index) Name() string {
	return "pgvector"
}

// ensureCollection creates the collection table once per process.
// CREATE TABLE IF NOT EXISTS keeps it idempotent across processes.
func (i *Index) ensureCollection(ctx context.Context, collection string) error {
	if !identifierRe.MatchString(collection) {
		return fmt.Errorf("%w: invalid collection name %q", types.ErrInvalidConfig, collection)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.provisioned[collection]; ok {
		return nil
	}

	embeddingType := "vector"
	if i.dimensions > 0 {
		embeddingType = fmt.Sprintf("vector(%d)", i.dimensions)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			model_name TEXT NOT NULL,
			entity_kind TEXT NOT NULL,
			schema_name TEXT NOT NULL,
			entity_name TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			embedding %s NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, collection, embeddingType)

	if _, err := i.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}

	i.provisioned[collection] = struct{}{}
	return nil
}

// Upsert writes one record, overwriting any previous record with the
// same id.
func (i *Index) Upsert(ctx context.Context, record *types.EntityVectorRecord, infra *types.VectorInfrastructure) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: record has no id", types.ErrIndexWriteFailed)
	}
	if len(record.Vector) == 0 {
		return fmt.Errorf("%w: record %s has an empty vector", types.ErrIndexWriteFailed, record.ID)
	}
	if i.dimensions > 0 && len(record.Vector) != i.dimensions {
		return fmt.Errorf("%w: record %s has %d dimensions, index expects %d",
			types.ErrIndexWriteFailed, record.ID, len(record.Vector), i.dimensions)
	}
	if err := i.ensureCollection(ctx, infra.Collection); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, model_name, entity_kind, schema_name, entity_name,
			content, content_hash, embedding, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, now())
		ON CONFLICT (id) DO UPDATE SET
			model_name = EXCLUDED.model_name,
			entity_kind = EXCLUDED.entity_kind,
			schema_name = EXCLUDED.schema_name,
			entity_name = EXCLUDED.entity_name,
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			embedding = EXCLUDED.embedding,
			updated_at = now()
	`, infra.Collection)

	_, err := i.db.ExecContext(ctx, query,
		record.ID,
		record.ModelName,
		string(record.Kind),
		record.Schema,
		record.Name,
		record.Text,
		record.ContentHash,
		pgv.NewVector(record.Vector),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", types.ErrIndexWriteFailed, record.ID, err)
	}
	return nil
}

// Search returns the topK records closest to queryVector by cosine
// similarity, descending. Ties keep insertion order via created_at.
func (i *Index) Search(ctx context.Context, queryVector []float32, topK int, infra *types.VectorInfrastructure) ([]*types.VectorMatch, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", types.ErrSearchFailed)
	}
	if topK <= 0 {
		return nil, nil
	}
	if err := i.ensureCollection(ctx, infra.Collection); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			id, model_name, entity_kind, schema_name, entity_name,
			content, content_hash, embedding,
			(1 - (embedding <=> $1::vector))::float4 AS similarity
		FROM %s
		ORDER BY similarity DESC, created_at ASC
		LIMIT $2
	`, infra.Collection)

	rows, err := i.db.QueryContext(ctx, query, pgv.NewVector(queryVector), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSearchFailed, err)
	}
	defer rows.Close()

	var matches []*types.VectorMatch
	for rows.Next() {
		var (
			rec       types.EntityVectorRecord
			kind      string
			embedding pgv.Vector
			score     float32
		)
		if err := rows.Scan(&rec.ID, &rec.ModelName, &kind, &rec.Schema, &rec.Name,
			&rec.Text, &rec.ContentHash, &embedding, &score); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", types.ErrSearchFailed, err)
		}
		rec.Kind = types.EntityKind(kind)
		rec.Vector = embedding.Slice()
		matches = append(matches, &types.VectorMatch{Record: &rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSearchFailed, err)
	}
	return matches, nil
}

// Count returns the number of records in the collection.
func (i *Index) Count(ctx context.Context, infra *types.VectorInfrastructure) (int, error) {
	if err := i.ensureCollection(ctx, infra.Collection); err != nil {
		return 0, err
	}

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", infra.Collection)
	if err := i.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count collection %s: %w", infra.Collection, err)
	}
	return count, nil
}

// Close closes the database connection.
func (i *Index) Close() error {
	return i.db.Close()
}

// Ensure Index implements VectorIndex interface
var _ provider.VectorIndex = (*Index)(nil)
