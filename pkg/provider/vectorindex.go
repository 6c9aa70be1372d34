package provider

import (
	"context"

	"github.com/spetr/semindex/pkg/types"
)

// VectorIndex stores and searches entity embedding vectors.
type VectorIndex interface {
	// Name returns the provider name (e.g., "memory", "pgvector", "sqlitevec").
	Name() string

	// Upsert writes one record into the collection described by infra,
	// provisioning the collection on first use. Writing an id that is
	// already stored overwrites the previous record.
	Upsert(ctx context.Context, record *types.EntityVectorRecord, infra *types.VectorInfrastructure) error

	// Search returns the topK records most similar to queryVector,
	// ordered by descending similarity.
	Search(ctx context.Context, queryVector []float32, topK int, infra *types.VectorInfrastructure) ([]*types.VectorMatch, error)

	// Count returns the number of records in the collection.
	Count(ctx context.Context, infra *types.VectorInfrastructure) (int, error)

	// Close releases resources.
	Close() error
}

// VectorIndexConfig contains configuration for vector index providers.
type VectorIndexConfig struct {
	Provider   string // "memory", "pgvector", "sqlitevec"
	Collection string // Collection or table name
	Dimensions int    // Expected vector dimensions (0 accepts any)
	Path       string // Database file path (sqlitevec)
	DSN        string // Connection string (pgvector)
}
