package provider

import (
	"fmt"
	"sync"
)

// EmbeddingFactory creates an EmbeddingProvider from configuration.
type EmbeddingFactory func(config EmbeddingConfig) (EmbeddingProvider, error)

// RepositoryFactory creates a ModelRepository from configuration.
type RepositoryFactory func(config RepositoryConfig) (ModelRepository, error)

// VectorIndexFactory creates a VectorIndex from configuration.
type VectorIndexFactory func(config VectorIndexConfig) (VectorIndex, error)

// Registry holds factories for all provider types.
//
// Repository and vector index instances are cached per name: every
// caller in the process shares one handle per strategy, and the memory
// vector index keeps its records for as long as the registry lives.
// Embedding providers are constructed fresh on every call.
type Registry struct {
	mu sync.RWMutex

	embeddingFactories   map[string]EmbeddingFactory
	repositoryFactories  map[string]RepositoryFactory
	vectorIndexFactories map[string]VectorIndexFactory

	repositories  map[string]ModelRepository
	vectorIndexes map[string]VectorIndex
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		embeddingFactories:   make(map[string]EmbeddingFactory),
		repositoryFactories:  make(map[string]RepositoryFactory),
		vectorIndexFactories: make(map[string]VectorIndexFactory),
		repositories:         make(map[string]ModelRepository),
		vectorIndexes:        make(map[string]VectorIndex),
	}
}

// RegisterEmbedding registers an embedding provider factory.
func (r *Registry) RegisterEmbedding(name string, factory EmbeddingFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddingFactories[name] = factory
}

// RegisterRepository registers a repository strategy factory.
func (r *Registry) RegisterRepository(name string, factory RepositoryFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repositoryFactories[name] = factory
}

// RegisterVectorIndex registers a vector index factory.
func (r *Registry) RegisterVectorIndex(name string, factory VectorIndexFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vectorIndexFactories[name] = factory
}

// CreateEmbedding creates an embedding provider by name.
func (r *Registry) CreateEmbedding(name string, config EmbeddingConfig) (EmbeddingProvider, error) {
	r.mu.RLock()
	factory, ok := r.embeddingFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s (available: %v)", name, r.ListEmbeddings())
	}
	return factory(config)
}

// OpenRepository returns the repository strategy by name, creating it
// on first use. Later calls with the same name return the same
// instance regardless of config.
func (r *Registry) OpenRepository(name string, config RepositoryConfig) (ModelRepository, error) {
	r.mu.RLock()
	repo, cached := r.repositories[name]
	_, known := r.repositoryFactories[name]
	r.mu.RUnlock()

	if cached {
		return repo, nil
	}
	if !known {
		return nil, fmt.Errorf("unknown repository strategy: %s (available: %v)", name, r.ListRepositories())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if repo, ok := r.repositories[name]; ok {
		return repo, nil
	}
	repo, err := r.repositoryFactories[name](config)
	if err != nil {
		return nil, err
	}
	r.repositories[name] = repo
	return repo, nil
}

// OpenVectorIndex returns the vector index by name, creating it on
// first use. Later calls with the same name return the same instance.
func (r *Registry) OpenVectorIndex(name string, config VectorIndexConfig) (VectorIndex, error) {
	r.mu.RLock()
	index, cached := r.vectorIndexes[name]
	_, known := r.vectorIndexFactories[name]
	r.mu.RUnlock()

	if cached {
		return index, nil
	}
	if !known {
		return nil, fmt.Errorf("unknown vector index: %s (available: %v)", name, r.ListVectorIndexes())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if index, ok := r.vectorIndexes[name]; ok {
		return index, nil
	}
	index, err := r.vectorIndexFactories[name](config)
	if err != nil {
		return nil, err
	}
	r.vectorIndexes[name] = index
	return index, nil
}

// ListEmbeddings returns all registered embedding provider names.
func (r *Registry) ListEmbeddings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.embeddingFactories))
	for name := range r.embeddingFactories {
		names = append(names, name)
	}
	return names
}

// ListRepositories returns all registered repository strategy names.
func (r *Registry) ListRepositories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.repositoryFactories))
	for name := range r.repositoryFactories {
		names = append(names, name)
	}
	return names
}

// ListVectorIndexes returns all registered vector index names.
func (r *Registry) ListVectorIndexes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.vectorIndexFactories))
	for name := range r.vectorIndexFactories {
		names = append(names, name)
	}
	return names
}

// HasEmbedding checks if an embedding provider is registered.
func (r *Registry) HasEmbedding(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.embeddingFactories[name]
	return ok
}

// HasRepository checks if a repository strategy is registered.
func (r *Registry) HasRepository(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.repositoryFactories[name]
	return ok
}

// HasVectorIndex checks if a vector index is registered.
func (r *Registry) HasVectorIndex(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.vectorIndexFactories[name]
	return ok
}

// CloseAll closes every cached repository and vector index and clears
// the instance caches. The next Open call creates fresh instances.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, repo := range r.repositories {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close repository %s: %w", name, err)
		}
	}
	for name, index := range r.vectorIndexes {
		if err := index.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close vector index %s: %w", name, err)
		}
	}
	r.repositories = make(map[string]ModelRepository)
	r.vectorIndexes = make(map[string]VectorIndex)
	return firstErr
}

// DefaultRegistry is the global default registry.
var DefaultRegistry = NewRegistry()

// Register functions for the default registry.

// RegisterEmbedding registers an embedding provider in the default registry.
func RegisterEmbedding(name string, factory EmbeddingFactory) {
	DefaultRegistry.RegisterEmbedding(name, factory)
}

// RegisterRepository registers a repository strategy in the default registry.
func RegisterRepository(name string, factory RepositoryFactory) {
	DefaultRegistry.RegisterRepository(name, factory)
}

// RegisterVectorIndex registers a vector index in the default registry.
func RegisterVectorIndex(name string, factory VectorIndexFactory) {
	DefaultRegistry.RegisterVectorIndex(name, factory)
}

// CreateEmbedding creates an embedding provider from the default registry.
func CreateEmbedding(name string, config EmbeddingConfig) (EmbeddingProvider, error) {
	return DefaultRegistry.CreateEmbedding(name, config)
}

// OpenRepository opens a repository strategy from the default registry.
func OpenRepository(name string, config RepositoryConfig) (ModelRepository, error) {
	return DefaultRegistry.OpenRepository(name, config)
}

// OpenVectorIndex opens a vector index from the default registry.
func OpenVectorIndex(name string, config VectorIndexConfig) (VectorIndex, error) {
	return DefaultRegistry.OpenVectorIndex(name, config)
}

// CloseAll closes all cached instances in the default registry.
func CloseAll() error {
	return DefaultRegistry.CloseAll()
}
