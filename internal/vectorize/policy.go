// Package vectorize generates and reconciles the vector index derived
// from persisted semantic models.
package vectorize

import (
	"fmt"

	"github.com/spetr/semindex/pkg/types"
)

// Vector index provider names.
const (
	ProviderAuto      = "auto"
	ProviderMemory    = "memory"
	ProviderSQLiteVec = "sqlitevec"
	ProviderPgvector  = "pgvector"
)

// Repository strategy names.
const (
	StrategyLocalDisk = "localdisk"
	StrategyS3Blob    = "s3blob"
	StrategyPostgres  = "postgres"
)

// ResolveProvider maps the auto provider to a concrete one for the
// repository strategy: a postgres repository keeps its vectors in the
// same database, everything else defaults to the in-process index.
// Explicit providers pass through unchanged.
func ResolveProvider(settings types.VectorIndexSettings, repositoryStrategy string) string {
	if settings.Provider != "" && settings.Provider != ProviderAuto {
		return settings.Provider
	}
	if repositoryStrategy == StrategyPostgres {
		return ProviderPgvector
	}
	return ProviderMemory
}

// ValidatePolicy checks the provider/strategy pairing before any entity
// is touched.
func ValidatePolicy(settings types.VectorIndexSettings, repositoryStrategy string) error {
	resolved := ResolveProvider(settings, repositoryStrategy)

	known := map[string]bool{
		ProviderMemory:    true,
		ProviderSQLiteVec: true,
		ProviderPgvector:  true,
	}
	if !known[resolved] {
		return fmt.Errorf("%w: unknown vector index provider %q", types.ErrInvalidConfig, resolved)
	}

	// Postgres persistence keeps vectors in its own index; a second
	// external copy would drift from the database.
	if repositoryStrategy == StrategyPostgres && resolved != ProviderPgvector {
		return fmt.Errorf("%w: postgres repository requires the pgvector index, got %q",
			types.ErrInvalidConfig, resolved)
	}

	if settings.ExpectedDimensions < 0 {
		return fmt.Errorf("%w: expected dimensions must be positive, got %d",
			types.ErrInvalidConfig, settings.ExpectedDimensions)
	}

	if allowed, ok := settings.AllowedProviders[repositoryStrategy]; ok {
		permitted := false
		for _, name := range allowed {
			if name == resolved {
				permitted = true
				break
			}
		}
		if !permitted {
			return fmt.Errorf("%w: provider %q is not allowed for strategy %q (allowed: %v)",
				types.ErrInvalidConfig, resolved, repositoryStrategy, allowed)
		}
	}

	return nil
}

// ResolveInfrastructure builds the ephemeral descriptor handed to index
// operations. Resolved once per invocation.
func ResolveInfrastructure(settings types.VectorIndexSettings, repositoryStrategy string) (*types.VectorInfrastructure, error) {
	if err := ValidatePolicy(settings, repositoryStrategy); err != nil {
		return nil, err
	}

	resolved := settings
	resolved.Provider = ResolveProvider(settings, repositoryStrategy)
	if resolved.Collection == "" {
		resolved.Collection = "model_entities"
	}

	return &types.VectorInfrastructure{
		Provider:         resolved.Provider,
		Collection:       resolved.Collection,
		EmbeddingService: resolved.EmbeddingService,
		Settings:         resolved,
	}, nil
}
