// Package localdisk persists semantic models as a directory tree on the
// local filesystem.
package localdisk

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spetr/semindex/pkg/envelope"
	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

// Repository stores each model under its own directory: the index
// document at the root, one JSON file per entity in per-kind folders.
type Repository struct {
	root string

	// Guards read-modify-write of the model index document. Entity
	// files themselves are written atomically and never contended.
	mu sync.Mutex
}

// New creates a localdisk repository. Relative locations resolve
// against config.Root when it is set.
func New(config provider.RepositoryConfig) (*Repository, error) {
	return &Repository{root: config.Root}, nil
}

// Name returns the strategy name.
func (r *Repository) Name() string {
	return "localdisk"
}

func (r *Repository) resolve(location string) string {
	if location == "" {
		return r.root
	}
	if r.root == "" || filepath.IsAbs(location) {
		return location
	}
	return filepath.Join(r.root, location)
}

// SaveModel writes the whole model: every entity file first, the index
// document last, so a reader that finds the index finds complete files.
func (r *Repository) SaveModel(ctx context.Context, model *types.SemanticModel, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if model == nil {
		return fmt.Errorf("%w: model is nil", types.ErrStoreFailed)
	}
	if err := model.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreFailed, err)
	}

	dir := r.resolve(location)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create model directory: %v", types.ErrStoreFailed, err)
	}

	for _, e := range model.AllEntities() {
		if err := r.writeEntity(dir, e, nil); err != nil {
			return err
		}
	}

	return r.writeIndex(dir, envelope.BuildModelIndex(model))
}

// LoadModel reads the index document and every entity it references.
func (r *Repository) LoadModel(ctx context.Context, location string) (*types.SemanticModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := r.resolve(location)
	idx, err := r.readIndex(dir)
	if err != nil {
		return nil, err
	}

	model := &types.SemanticModel{
		Name:          idx.Name,
		Source:        idx.Source,
		Description:   idx.Description,
		SchemaVersion: idx.SchemaVersion,
	}

	for _, kr := range idx.Refs() {
		raw, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(kr.Ref.Path)))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: index references missing entity file %s", types.ErrCorruptData, kr.Ref.Path)
			}
			return nil, fmt.Errorf("read entity %s: %w", kr.Ref.Path, err)
		}
		env, err := envelope.Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", kr.Ref.Path, err)
		}
		entity := env.Data
		entity.Kind = kr.Kind
		if err := model.Attach(entity); err != nil {
			return nil, fmt.Errorf("%w: entity %s: %v", types.ErrCorruptData, kr.Ref.Path, err)
		}
	}

	return model, nil
}

// Exists reports whether a model index document is present at location.
func (r *Repository) Exists(ctx context.Context, location string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(filepath.Join(r.resolve(location), envelope.ModelIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListModels returns the names of direct subdirectories of root that
// contain a model index document.
func (r *Repository) ListModels(ctx context.Context, root string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := r.resolve(root)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var models []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, entry.Name(), envelope.ModelIndexFile)); err == nil {
			models = append(models, entry.Name())
		}
	}
	return models, nil
}

// DeleteModel removes the model directory. A location without a model
// index is left untouched; deleting an absent model is not an error.
func (r *Repository) DeleteModel(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := r.resolve(location)
	if _, err := os.Stat(filepath.Join(dir, envelope.ModelIndexFile)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.RemoveAll(dir)
}

// SaveEntity writes one entity file, wrapped with the embedding payload
// when one is present, and registers the entity in the index document
// if it is not listed yet.
func (r *Repository) SaveEntity(ctx context.Context, location string, entity *types.Entity, payload *types.EmbeddingPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entity == nil || entity.Name == "" {
		return fmt.Errorf("%w: entity has no name", types.ErrStoreFailed)
	}

	dir := r.resolve(location)
	if err := r.writeEntity(dir, entity, payload); err != nil {
		return err
	}
	return r.registerEntity(dir, entity)
}

// LoadEntityContent returns the unwrapped entity JSON at entityPath, or
// ("", nil) when no file is stored there.
func (r *Repository) LoadEntityContent(ctx context.Context, location, entityPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, err := os.ReadFile(filepath.Join(r.resolve(location), filepath.FromSlash(entityPath)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	env, err := envelope.Unmarshal(raw)
	if err != nil {
		return "", err
	}
	return envelope.EntityJSON(env)
}

// LoadEntityEnvelope reads the persisted envelope for one entity,
// including the embedding payload when the file carries one.
func (r *Repository) LoadEntityEnvelope(ctx context.Context, location string, kind types.EntityKind, schema, name string) (*types.PersistedEntityEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(r.resolve(location), filepath.FromSlash(envelope.EntityRelPath(kind, schema, name)))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: entity %s %s.%s", types.ErrNotFound, kind, schema, name)
		}
		return nil, err
	}
	return envelope.Unmarshal(raw)
}

// CheckVectorExists returns the content hash stored with the entity's
// embedding. Only the embedding metadata is decoded; a file that does
// not parse as an envelope counts as having no embedding.
func (r *Repository) CheckVectorExists(ctx context.Context, kind types.EntityKind, schema, name, location string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(r.resolve(location), filepath.FromSlash(envelope.EntityRelPath(kind, schema, name)))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	var probe struct {
		Embedding *struct {
			Metadata *types.EmbeddingMetadata `json:"metadata"`
		} `json:"embedding"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", nil
	}
	if probe.Embedding == nil || probe.Embedding.Metadata == nil {
		return "", nil
	}
	return probe.Embedding.Metadata.ContentHash, nil
}

// Close releases nothing; the strategy holds no connections.
func (r *Repository) Close() error {
	return nil
}

func (r *Repository) writeEntity(dir string, entity *types.Entity, payload *types.EmbeddingPayload) error {
	relPath := envelope.EntityRelPath(entity.Kind, entity.Schema, entity.Name)
	path := filepath.Join(dir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: create entity directory: %v", types.ErrStoreFailed, err)
	}

	raw, err := envelope.Marshal(envelope.Wrap(entity, payload))
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, raw); err != nil {
		return fmt.Errorf("%w: write entity %s: %v", types.ErrStoreFailed, relPath, err)
	}
	return nil
}

func (r *Repository) registerEntity(dir string, entity *types.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.readIndex(dir)
	if err != nil {
		return err
	}

	relPath := envelope.EntityRelPath(entity.Kind, entity.Schema, entity.Name)
	for _, kr := range idx.Refs() {
		if kr.Kind == entity.Kind && kr.Ref.Path == relPath {
			return nil
		}
	}

	ref := envelope.EntityRef{Schema: entity.Schema, Name: entity.Name, Path: relPath}
	switch entity.Kind {
	case types.EntityKindTable:
		idx.Tables = append(idx.Tables, ref)
	case types.EntityKindView:
		idx.Views = append(idx.Views, ref)
	case types.EntityKindStoredProcedure:
		idx.StoredProcedures = append(idx.StoredProcedures, ref)
	default:
		return fmt.Errorf("%w: unknown entity kind %q", types.ErrStoreFailed, entity.Kind)
	}
	return r.writeIndexLocked(dir, idx)
}

func (r *Repository) readIndex(dir string) (*envelope.ModelIndex, error) {
	raw, err := os.ReadFile(filepath.Join(dir, envelope.ModelIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no model at %s", types.ErrNotFound, dir)
		}
		return nil, err
	}

	var idx envelope.ModelIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("%w: model index: %v", types.ErrCorruptData, err)
	}
	if idx.Name == "" {
		return nil, fmt.Errorf("%w: model index has no name", types.ErrCorruptData)
	}
	return &idx, nil
}

func (r *Repository) writeIndex(dir string, idx *envelope.ModelIndex) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeIndexLocked(dir, idx)
}

func (r *Repository) writeIndexLocked(dir string, idx *envelope.ModelIndex) error {
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal model index: %v", types.ErrStoreFailed, err)
	}
	if err := writeFileAtomic(filepath.Join(dir, envelope.ModelIndexFile), raw); err != nil {
		return fmt.Errorf("%w: write model index: %v", types.ErrStoreFailed, err)
	}
	return nil
}

// writeFileAtomic writes to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure Repository implements ModelRepository interface
var _ provider.ModelRepository = (*Repository)(nil)
