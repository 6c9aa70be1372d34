// Package builtin registers all built-in providers with the default registry.
package builtin

import (
	ollamaEmbed "github.com/spetr/semindex/builtin/embedding/ollama"
	openaiEmbed "github.com/spetr/semindex/builtin/embedding/openai"
	"github.com/spetr/semindex/builtin/repository/localdisk"
	"github.com/spetr/semindex/builtin/repository/postgres"
	"github.com/spetr/semindex/builtin/repository/s3blob"
	memoryIndex "github.com/spetr/semindex/builtin/vectorindex/memory"
	pgvectorIndex "github.com/spetr/semindex/builtin/vectorindex/pgvector"
	sqlitevecIndex "github.com/spetr/semindex/builtin/vectorindex/sqlitevec"
	"github.com/spetr/semindex/pkg/provider"
)

func init() {
	// Register embedding providers
	provider.RegisterEmbedding("ollama", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return ollamaEmbed.New(ollamaEmbed.Config{
			Endpoint:  cfg.Endpoint,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		}), nil
	})

	provider.RegisterEmbedding("openai", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return openaiEmbed.New(openaiEmbed.Config{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.Endpoint,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		}), nil
	})

	// Register repository strategies
	provider.RegisterRepository("localdisk", func(cfg provider.RepositoryConfig) (provider.ModelRepository, error) {
		return localdisk.New(cfg)
	})

	provider.RegisterRepository("s3blob", func(cfg provider.RepositoryConfig) (provider.ModelRepository, error) {
		return s3blob.New(cfg)
	})

	provider.RegisterRepository("postgres", func(cfg provider.RepositoryConfig) (provider.ModelRepository, error) {
		return postgres.New(cfg)
	})

	// Register vector indexes
	provider.RegisterVectorIndex("memory", func(cfg provider.VectorIndexConfig) (provider.VectorIndex, error) {
		return memoryIndex.New(cfg)
	})

	provider.RegisterVectorIndex("sqlitevec", func(cfg provider.VectorIndexConfig) (provider.VectorIndex, error) {
		return sqlitevecIndex.New(cfg)
	})

	provider.RegisterVectorIndex("pgvector", func(cfg provider.VectorIndexConfig) (provider.VectorIndex, error) {
		return pgvectorIndex.New(cfg)
	})
}
