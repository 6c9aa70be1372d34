// Package postgres persists semantic models as JSONB documents in
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"

	"github.com/spetr/semindex/pkg/envelope"
	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

var prefixRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Repository stores one row per model and one row per entity. Entity
// documents carry embedding metadata only, never vector floats; with
// this strategy the vectors belong to the pgvector index in the same
// database. The location argument is the model name.
type Repository struct {
	db            *sql.DB
	modelsTable   string
	entitiesTable string
}

// New opens a connection to PostgreSQL and provisions the document
// tables.
func New(config provider.RepositoryConfig) (*Repository, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("%w: postgres repository requires a connection string", types.ErrInvalidConfig)
	}
	prefix := config.TablePrefix
	if prefix != "" && !prefixRe.MatchString(prefix) {
		return nil, fmt.Errorf("%w: invalid table prefix %q", types.ErrInvalidConfig, prefix)
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	r := &Repository{
		db:            db,
		modelsTable:   prefix + "semantic_models",
		entitiesTable: prefix + "model_entities",
	}
	if err := r.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Name returns the strategy name.
func (r *Repository) Name() string {
	return "postgres"
}

func (r *Repository) ensureSchema() error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY,
				document JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)
		`, r.modelsTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				model_name TEXT NOT NULL,
				entity_kind TEXT NOT NULL,
				schema_name TEXT NOT NULL,
				entity_name TEXT NOT NULL,
				entity_path TEXT NOT NULL,
				position INTEGER NOT NULL DEFAULT 0,
				document JSONB NOT NULL,
				content_hash TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)
		`, r.entitiesTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_model_idx ON %s (model_name)",
			r.entitiesTable, r.entitiesTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_hash_idx ON %s (content_hash)",
			r.entitiesTable, r.entitiesTable),
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to provision schema: %w", err)
		}
	}
	return nil
}

type modelDocument struct {
	Name          string `json:"name"`
	Source        string `json:"source,omitempty"`
	Description   string `json:"description,omitempty"`
	SchemaVersion int    `json:"schema_version"`
}

// SaveModel replaces the model row and all of its entity rows in one
// transaction.
func (r *Repository) SaveModel(ctx context.Context, model *types.SemanticModel, location string) error {
	if model == nil {
		return fmt.Errorf("%w: model is nil", types.ErrStoreFailed)
	}
	if err := model.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreFailed, err)
	}
	name := r.modelName(model, location)

	doc, err := json.Marshal(modelDocument{
		Name:          name,
		Source:        model.Source,
		Description:   model.Description,
		SchemaVersion: types.EnvelopeSchemaVersion,
	})
	if err != nil {
		return fmt.Errorf("%w: marshal model document: %v", types.ErrStoreFailed, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, document, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = now()
	`, r.modelsTable), name, string(doc))
	if err != nil {
		return fmt.Errorf("%w: store model %s: %v", types.ErrStoreFailed, name, err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE model_name = $1", r.entitiesTable), name); err != nil {
		return fmt.Errorf("%w: clear entities for %s: %v", types.ErrStoreFailed, name, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
		(id, model_name, entity_kind, schema_name, entity_name, entity_path, position, document, content_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', now())
	`, r.entitiesTable))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for pos, e := range model.AllEntities() {
		doc := envelope.ToDocumentEntity(name, e, nil)
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("%w: marshal entity %s: %v", types.ErrStoreFailed, e.QualifiedName(), err)
		}
		_, err = stmt.ExecContext(ctx,
			doc.ID, name, string(e.Kind), e.Schema, e.Name,
			envelope.EntityRelPath(e.Kind, e.Schema, e.Name), pos, string(raw),
		)
		if err != nil {
			return fmt.Errorf("%w: store entity %s: %v", types.ErrStoreFailed, e.QualifiedName(), err)
		}
	}

	return tx.Commit()
}

// LoadModel reads the model row and its entity rows in stored order.
func (r *Repository) LoadModel(ctx context.Context, location string) (*types.SemanticModel, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT document FROM %s WHERE name = $1", r.modelsTable), location,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no model named %s", types.ErrNotFound, location)
	}
	if err != nil {
		return nil, err
	}

	var doc modelDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: model document: %v", types.ErrCorruptData, err)
	}

	model := &types.SemanticModel{
		Name:          doc.Name,
		Source:        doc.Source,
		Description:   doc.Description,
		SchemaVersion: doc.SchemaVersion,
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT document FROM %s WHERE model_name = $1 ORDER BY position, id", r.entitiesTable,
	), location)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var entityRaw string
		if err := rows.Scan(&entityRaw); err != nil {
			return nil, err
		}
		var entityDoc envelope.DocumentEntity
		if err := json.Unmarshal([]byte(entityRaw), &entityDoc); err != nil {
			return nil, fmt.Errorf("%w: entity document: %v", types.ErrCorruptData, err)
		}
		if entityDoc.Entity == nil {
			return nil, fmt.Errorf("%w: entity document %s has no entity", types.ErrCorruptData, entityDoc.ID)
		}
		entity := entityDoc.Entity
		entity.Kind = entityDoc.Kind
		if err := model.Attach(entity); err != nil {
			return nil, fmt.Errorf("%w: entity %s: %v", types.ErrCorruptData, entityDoc.ID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return model, nil
}

// Exists reports whether a model row is present.
func (r *Repository) Exists(ctx context.Context, location string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT EXISTS(SELECT 1 FROM %s WHERE name = $1)", r.modelsTable,
	), location).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ListModels returns all model names. The root argument has no meaning
// for a document store and is ignored.
func (r *Repository) ListModels(ctx context.Context, root string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT name FROM %s ORDER BY name", r.modelsTable,
	))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		models = append(models, name)
	}
	return models, rows.Err()
}

// DeleteModel removes the model row and its entity rows. Deleting an
// absent model is not an error.
func (r *Repository) DeleteModel(ctx context.Context, location string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE model_name = $1", r.entitiesTable), location); err != nil {
		return fmt.Errorf("%w: delete entities for %s: %v", types.ErrStoreFailed, location, err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE name = $1", r.modelsTable), location); err != nil {
		return fmt.Errorf("%w: delete model %s: %v", types.ErrStoreFailed, location, err)
	}
	return tx.Commit()
}

// SaveEntity upserts one entity row. The document carries embedding
// metadata when a payload is present; the content hash lands in its
// indexed column for the skip probe.
func (r *Repository) SaveEntity(ctx context.Context, location string, entity *types.Entity, payload *types.EmbeddingPayload) error {
	if entity == nil || entity.Name == "" {
		return fmt.Errorf("%w: entity has no name", types.ErrStoreFailed)
	}

	var metadata *types.EmbeddingMetadata
	if payload != nil {
		metadata = payload.Metadata
	}
	doc := envelope.ToDocumentEntity(location, entity, metadata)
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: marshal entity %s: %v", types.ErrStoreFailed, entity.QualifiedName(), err)
	}

	contentHash := ""
	if metadata != nil {
		contentHash = metadata.ContentHash
	}

	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
		(id, model_name, entity_kind, schema_name, entity_name, entity_path, position, document, content_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6,
			(SELECT COALESCE(MAX(position) + 1, 0) FROM %s WHERE model_name = $2),
			$7, $8, now())
		ON CONFLICT (id) DO UPDATE SET
			document = EXCLUDED.document,
			content_hash = EXCLUDED.content_hash,
			updated_at = now()
	`, r.entitiesTable, r.entitiesTable),
		doc.ID, location, string(entity.Kind), entity.Schema, entity.Name,
		envelope.EntityRelPath(entity.Kind, entity.Schema, entity.Name),
		string(raw), contentHash,
	)
	if err != nil {
		return fmt.Errorf("%w: store entity %s: %v", types.ErrStoreFailed, entity.QualifiedName(), err)
	}
	return nil
}

// LoadEntityContent returns the unwrapped entity JSON for the row whose
// stored path matches entityPath, or ("", nil) when there is none.
func (r *Repository) LoadEntityContent(ctx context.Context, location, entityPath string) (string, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT document FROM %s WHERE model_name = $1 AND entity_path = $2", r.entitiesTable,
	), location, entityPath).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var doc envelope.DocumentEntity
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("%w: entity document: %v", types.ErrCorruptData, err)
	}
	if doc.Entity == nil {
		return "", fmt.Errorf("%w: entity document has no entity", types.ErrCorruptData)
	}
	body, err := json.MarshalIndent(doc.Entity, "", "  ")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// LoadEntityEnvelope reads one entity row as an envelope. The embedding
// payload is metadata-only: this strategy never stores vector floats.
func (r *Repository) LoadEntityEnvelope(ctx context.Context, location string, kind types.EntityKind, schema, name string) (*types.PersistedEntityEnvelope, error) {
	id := envelope.DocumentKey(location, kind, schema, name)

	var raw string
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT document FROM %s WHERE id = $1", r.entitiesTable,
	), id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: entity %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var doc envelope.DocumentEntity
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: entity document: %v", types.ErrCorruptData, err)
	}
	if doc.Entity == nil {
		return nil, fmt.Errorf("%w: entity document %s has no entity", types.ErrCorruptData, id)
	}

	env := &types.PersistedEntityEnvelope{
		SchemaVersion: doc.SchemaVersion,
		Data:          doc.Entity,
	}
	if doc.Embedding != nil {
		env.Embedding = &types.EmbeddingPayload{Metadata: doc.Embedding}
	}
	return env, nil
}

// CheckVectorExists reads the indexed content hash column.
func (r *Repository) CheckVectorExists(ctx context.Context, kind types.EntityKind, schema, name, location string) (string, error) {
	id := envelope.DocumentKey(location, kind, schema, name)

	var hash string
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT content_hash FROM %s WHERE id = $1", r.entitiesTable,
	), id).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// modelName prefers the explicit location; an empty location falls back
// to the model's own name.
func (r *Repository) modelName(model *types.SemanticModel, location string) string {
	if location != "" {
		return location
	}
	return model.Name
}

// Ensure Repository implements ModelRepository interface
var _ provider.ModelRepository = (*Repository)(nil)
