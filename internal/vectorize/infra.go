package vectorize

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spetr/semindex/pkg/plugin/host"
	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

// Infra bundles the collaborators resolved for one generation or
// reconcile invocation: the repository strategy, the vector index, the
// embedding provider and the infrastructure descriptor handed to index
// operations.
type Infra struct {
	Repository provider.ModelRepository
	Index      provider.VectorIndex
	Embedding  provider.EmbeddingProvider
	Descriptor *types.VectorInfrastructure

	plugins *host.Manager
}

// InfraOptions contains everything needed to resolve an Infra.
type InfraOptions struct {
	Registry   *provider.Registry // nil uses provider.DefaultRegistry
	Repository provider.RepositoryConfig
	Embedding  provider.EmbeddingConfig
	Settings   types.VectorIndexSettings
	PluginsDir string // searched for "plugin:<name>" embedding providers
}

// OpenInfra validates the index policy, resolves the effective vector
// index provider, and opens the repository, index, and embedding
// provider. Repository and index handles come from the registry cache;
// the embedding provider is owned by the returned Infra and released by
// Close.
func OpenInfra(opts InfraOptions) (*Infra, error) {
	reg := opts.Registry
	if reg == nil {
		reg = provider.DefaultRegistry
	}

	descriptor, err := ResolveInfrastructure(opts.Settings, opts.Repository.Strategy)
	if err != nil {
		return nil, err
	}

	repo, err := reg.OpenRepository(opts.Repository.Strategy, opts.Repository)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	index, err := reg.OpenVectorIndex(descriptor.Provider, provider.VectorIndexConfig{
		Provider:   descriptor.Provider,
		Collection: descriptor.Collection,
		Dimensions: opts.Settings.ExpectedDimensions,
		Path:       opts.Settings.Path,
		DSN:        opts.Settings.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	embedding, plugins, err := openEmbedding(reg, opts.Embedding, opts.PluginsDir)
	if err != nil {
		return nil, err
	}

	slog.Debug("infrastructure resolved",
		"repository", opts.Repository.Strategy,
		"index", descriptor.Provider,
		"collection", descriptor.Collection,
		"embedding", embedding.Name(),
	)

	return &Infra{
		Repository: repo,
		Index:      index,
		Embedding:  embedding,
		Descriptor: descriptor,
		plugins:    plugins,
	}, nil
}

// openEmbedding resolves the embedding provider name. A "plugin:<name>"
// provider starts the named external plugin process from the plugins
// directory; anything else goes through the registry factories.
func openEmbedding(reg *provider.Registry, cfg provider.EmbeddingConfig, pluginsDir string) (provider.EmbeddingProvider, *host.Manager, error) {
	if name, ok := strings.CutPrefix(cfg.Provider, "plugin:"); ok {
		manager := host.NewManager(pluginsDir)
		loaded, err := manager.LoadPlugin(name)
		if err != nil {
			return nil, nil, fmt.Errorf("load embedding plugin %s: %w", name, err)
		}
		return host.NewEmbeddingAdapter(loaded.Embedding), manager, nil
	}

	embedding, err := reg.CreateEmbedding(cfg.Provider, cfg)
	if err != nil {
		return nil, nil, err
	}
	return embedding, nil, nil
}

// Close releases the embedding provider and stops any plugin process.
// Repository and index handles stay open in the registry cache; the
// process-exit CloseAll releases those.
func (inf *Infra) Close() {
	if inf.Embedding != nil {
		if err := inf.Embedding.Close(); err != nil {
			slog.Warn("failed to close embedding provider", "error", err)
		}
	}
	if inf.plugins != nil {
		inf.plugins.UnloadAll()
	}
}
