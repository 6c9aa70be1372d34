package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/spetr/semindex/pkg/types"
)

type stubRepository struct {
	name   string
	closed bool
}

func (s *stubRepository) Name() string { return s.name }
func (s *stubRepository) SaveModel(ctx context.Context, model *types.SemanticModel, location string) error {
	return nil
}
func (s *stubRepository) LoadModel(ctx context.Context, location string) (*types.SemanticModel, error) {
	return nil, types.ErrNotFound
}
func (s *stubRepository) Exists(ctx context.Context, location string) (bool, error) {
	return false, nil
}
func (s *stubRepository) ListModels(ctx context.Context, root string) ([]string, error) {
	return nil, nil
}
func (s *stubRepository) DeleteModel(ctx context.Context, location string) error { return nil }
func (s *stubRepository) SaveEntity(ctx context.Context, location string, entity *types.Entity, payload *types.EmbeddingPayload) error {
	return nil
}
func (s *stubRepository) LoadEntityContent(ctx context.Context, location, entityPath string) (string, error) {
	return "", nil
}
func (s *stubRepository) LoadEntityEnvelope(ctx context.Context, location string, kind types.EntityKind, schema, name string) (*types.PersistedEntityEnvelope, error) {
	return nil, types.ErrNotFound
}
func (s *stubRepository) CheckVectorExists(ctx context.Context, kind types.EntityKind, schema, name, location string) (string, error) {
	return "", nil
}
func (s *stubRepository) Close() error {
	s.closed = true
	return nil
}

type stubIndex struct {
	name   string
	closed bool
}

func (s *stubIndex) Name() string { return s.name }
func (s *stubIndex) Upsert(ctx context.Context, record *types.EntityVectorRecord, infra *types.VectorInfrastructure) error {
	return nil
}
func (s *stubIndex) Search(ctx context.Context, queryVector []float32, topK int, infra *types.VectorInfrastructure) ([]*types.VectorMatch, error) {
	return nil, nil
}
func (s *stubIndex) Count(ctx context.Context, infra *types.VectorInfrastructure) (int, error) {
	return 0, nil
}
func (s *stubIndex) Close() error {
	s.closed = true
	return nil
}

type stubEmbedder struct{}

func (s *stubEmbedder) Name() string { return "stub" }
func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (s *stubEmbedder) Dimensions() int                  { return 4 }
func (s *stubEmbedder) MaxBatchSize() int                { return 1 }
func (s *stubEmbedder) Warmup(ctx context.Context) error { return nil }
func (s *stubEmbedder) Close() error                     { return nil }

func TestOpenRepositoryCachesInstance(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.RegisterRepository("localdisk", func(config RepositoryConfig) (ModelRepository, error) {
		calls++
		return &stubRepository{name: "localdisk"}, nil
	})

	first, err := reg.OpenRepository("localdisk", RepositoryConfig{})
	if err != nil {
		t.Fatalf("OpenRepository() error = %v", err)
	}
	second, err := reg.OpenRepository("localdisk", RepositoryConfig{})
	if err != nil {
		t.Fatalf("OpenRepository() second call error = %v", err)
	}

	if first != second {
		t.Error("expected cached instance, got a new one")
	}
	if calls != 1 {
		t.Errorf("factory calls = %d, want 1", calls)
	}
}

func TestOpenVectorIndexCachesInstance(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.RegisterVectorIndex("memory", func(config VectorIndexConfig) (VectorIndex, error) {
		calls++
		return &stubIndex{name: "memory"}, nil
	})

	first, err := reg.OpenVectorIndex("memory", VectorIndexConfig{})
	if err != nil {
		t.Fatalf("OpenVectorIndex() error = %v", err)
	}
	second, err := reg.OpenVectorIndex("memory", VectorIndexConfig{})
	if err != nil {
		t.Fatalf("OpenVectorIndex() second call error = %v", err)
	}

	if first != second {
		t.Error("expected cached instance, got a new one")
	}
	if calls != 1 {
		t.Errorf("factory calls = %d, want 1", calls)
	}
}

func TestCreateEmbeddingConstructsPerCall(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.RegisterEmbedding("stub", func(config EmbeddingConfig) (EmbeddingProvider, error) {
		calls++
		return &stubEmbedder{}, nil
	})

	first, err := reg.CreateEmbedding("stub", EmbeddingConfig{})
	if err != nil {
		t.Fatalf("CreateEmbedding() error = %v", err)
	}
	second, err := reg.CreateEmbedding("stub", EmbeddingConfig{})
	if err != nil {
		t.Fatalf("CreateEmbedding() second call error = %v", err)
	}

	if first == second {
		t.Error("expected a fresh provider per call, got the same instance")
	}
	if calls != 2 {
		t.Errorf("factory calls = %d, want 2", calls)
	}
}

func TestUnknownNames(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.OpenRepository("nope", RepositoryConfig{}); err == nil {
		t.Error("OpenRepository() expected error for unknown strategy")
	}
	if _, err := reg.OpenVectorIndex("nope", VectorIndexConfig{}); err == nil {
		t.Error("OpenVectorIndex() expected error for unknown provider")
	}
	if _, err := reg.CreateEmbedding("nope", EmbeddingConfig{}); err == nil {
		t.Error("CreateEmbedding() expected error for unknown provider")
	}
}

func TestFactoryErrorIsNotCached(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.RegisterRepository("flaky", func(config RepositoryConfig) (ModelRepository, error) {
		calls++
		return nil, errors.New("boom")
	})

	if _, err := reg.OpenRepository("flaky", RepositoryConfig{}); err == nil {
		t.Fatal("OpenRepository() expected factory error")
	}
	if _, err := reg.OpenRepository("flaky", RepositoryConfig{}); err == nil {
		t.Fatal("OpenRepository() expected factory error on retry")
	}
	if calls != 2 {
		t.Errorf("factory calls = %d, want 2 (failures must not be cached)", calls)
	}
}

func TestCloseAllResetsCache(t *testing.T) {
	reg := NewRegistry()
	repoCalls := 0
	var created []*stubRepository
	reg.RegisterRepository("localdisk", func(config RepositoryConfig) (ModelRepository, error) {
		repoCalls++
		repo := &stubRepository{name: "localdisk"}
		created = append(created, repo)
		return repo, nil
	})
	indexCalls := 0
	reg.RegisterVectorIndex("memory", func(config VectorIndexConfig) (VectorIndex, error) {
		indexCalls++
		return &stubIndex{name: "memory"}, nil
	})

	if _, err := reg.OpenRepository("localdisk", RepositoryConfig{}); err != nil {
		t.Fatalf("OpenRepository() error = %v", err)
	}
	if _, err := reg.OpenVectorIndex("memory", VectorIndexConfig{}); err != nil {
		t.Fatalf("OpenVectorIndex() error = %v", err)
	}

	if err := reg.CloseAll(); err != nil {
		t.Fatalf("CloseAll() error = %v", err)
	}
	if len(created) != 1 || !created[0].closed {
		t.Error("CloseAll() did not close the cached repository")
	}

	if _, err := reg.OpenRepository("localdisk", RepositoryConfig{}); err != nil {
		t.Fatalf("OpenRepository() after CloseAll error = %v", err)
	}
	if repoCalls != 2 {
		t.Errorf("repository factory calls = %d, want 2 after CloseAll", repoCalls)
	}
	if indexCalls != 1 {
		t.Errorf("vector index factory calls = %d, want 1", indexCalls)
	}
}

func TestHasAndList(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterRepository("localdisk", func(config RepositoryConfig) (ModelRepository, error) {
		return &stubRepository{name: "localdisk"}, nil
	})
	reg.RegisterVectorIndex("memory", func(config VectorIndexConfig) (VectorIndex, error) {
		return &stubIndex{name: "memory"}, nil
	})
	reg.RegisterEmbedding("stub", func(config EmbeddingConfig) (EmbeddingProvider, error) {
		return &stubEmbedder{}, nil
	})

	if !reg.HasRepository("localdisk") || reg.HasRepository("s3blob") {
		t.Error("HasRepository() wrong answer")
	}
	if !reg.HasVectorIndex("memory") || reg.HasVectorIndex("pgvector") {
		t.Error("HasVectorIndex() wrong answer")
	}
	if !reg.HasEmbedding("stub") || reg.HasEmbedding("openai") {
		t.Error("HasEmbedding() wrong answer")
	}

	if got := reg.ListRepositories(); len(got) != 1 || got[0] != "localdisk" {
		t.Errorf("ListRepositories() = %v, want [localdisk]", got)
	}
	if got := reg.ListVectorIndexes(); len(got) != 1 || got[0] != "memory" {
		t.Errorf("ListVectorIndexes() = %v, want [memory]", got)
	}
	if got := reg.ListEmbeddings(); len(got) != 1 || got[0] != "stub" {
		t.Errorf("ListEmbeddings() = %v, want [stub]", got)
	}
}
