// Package provider defines interfaces for pluggable components.
package provider

import (
	"context"

	"github.com/spetr/semindex/pkg/types"
)

// ModelRepository persists semantic models and their entities under a
// named storage strategy.
type ModelRepository interface {
	// Name returns the strategy name (e.g., "localdisk", "s3blob", "postgres").
	Name() string

	// SaveModel persists the full model at location.
	SaveModel(ctx context.Context, model *types.SemanticModel, location string) error

	// LoadModel reads the model stored at location.
	// Returns ErrNotFound when nothing is stored there.
	LoadModel(ctx context.Context, location string) (*types.SemanticModel, error)

	// Exists reports whether a model is stored at location.
	Exists(ctx context.Context, location string) (bool, error)

	// ListModels returns the model locations found under root.
	ListModels(ctx context.Context, root string) ([]string, error)

	// DeleteModel removes the model at location. Deleting an absent
	// model is not an error.
	DeleteModel(ctx context.Context, location string) error

	// SaveEntity writes one entity, wrapped with the embedding payload
	// when one is present.
	SaveEntity(ctx context.Context, location string, entity *types.Entity, payload *types.EmbeddingPayload) error

	// LoadEntityContent returns the unwrapped entity JSON at the given
	// relative path, or ("", nil) when the entity is not stored.
	LoadEntityContent(ctx context.Context, location, entityPath string) (string, error)

	// LoadEntityEnvelope reads the persisted envelope for one entity.
	// Strategies that keep vectors elsewhere return metadata-only
	// envelopes. Returns ErrNotFound when the entity is not stored.
	LoadEntityEnvelope(ctx context.Context, location string, kind types.EntityKind, schema, name string) (*types.PersistedEntityEnvelope, error)

	// CheckVectorExists returns the content hash recorded with the
	// stored embedding, or "" when no embedding is stored.
	CheckVectorExists(ctx context.Context, kind types.EntityKind, schema, name, location string) (string, error)

	// Close releases resources held by the strategy.
	Close() error
}

// RepositoryConfig contains configuration for repository strategies.
type RepositoryConfig struct {
	Strategy    string // "localdisk", "s3blob", "postgres"
	Root        string // Base directory for model roots (localdisk)
	Bucket      string // Bucket name (s3blob)
	Prefix      string // Key prefix inside the bucket (s3blob)
	Region      string // AWS region (s3blob)
	Endpoint    string // Custom endpoint for S3-compatible stores (s3blob)
	AccessKey   string // Static access key, empty uses the AWS default chain (s3blob)
	SecretKey   string // Static secret key (s3blob)
	DSN         string // Connection string (postgres)
	TablePrefix string // Table name prefix (postgres)
}
