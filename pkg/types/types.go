// Package types contains shared data types used across the semindex project.
package types

import (
	"fmt"
	"strings"
	"time"
)

// EnvelopeSchemaVersion is written into every persisted entity envelope.
// Incremented when the envelope layout changes incompatibly.
const EnvelopeSchemaVersion = 1

// EntityKind represents the kind of semantic model entity.
type EntityKind string

const (
	EntityKindTable           EntityKind = "table"
	EntityKindView            EntityKind = "view"
	EntityKindStoredProcedure EntityKind = "storedprocedure"
)

// EntityKinds lists all supported kinds in persistence order.
var EntityKinds = []EntityKind{EntityKindTable, EntityKindView, EntityKindStoredProcedure}

// ParseEntityKind converts a string to an EntityKind.
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "tables":
		return EntityKindTable, nil
	case "view", "views":
		return EntityKindView, nil
	case "storedprocedure", "storedprocedures", "procedure", "proc":
		return EntityKindStoredProcedure, nil
	default:
		return "", fmt.Errorf("unknown entity kind: %q", s)
	}
}

// Folder returns the per-kind subfolder name used in the persisted layout.
func (k EntityKind) Folder() string {
	switch k {
	case EntityKindTable:
		return "tables"
	case EntityKindView:
		return "views"
	case EntityKindStoredProcedure:
		return "storedprocedures"
	default:
		return string(k)
	}
}

// Column describes one column of a table or view.
type Column struct {
	Name             string `json:"name"`
	Type             string `json:"type,omitempty"`
	Description      string `json:"description,omitempty"`
	IsPrimaryKey     bool   `json:"is_primary_key,omitempty"`
	IsNullable       bool   `json:"is_nullable,omitempty"`
	ReferencedTable  string `json:"referenced_table,omitempty"`
	ReferencedColumn string `json:"referenced_column,omitempty"`
}

// Parameter describes one parameter of a stored procedure.
type Parameter struct {
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Direction string `json:"direction,omitempty"` // in, out, inout
}

// Entity is one semantic model entity: a table, view, or stored procedure.
// Identity within a model is (kind, schema, name).
type Entity struct {
	Kind          EntityKind  `json:"kind"`
	Schema        string      `json:"schema"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	AIDescription string      `json:"ai_description,omitempty"`
	Columns       []Column    `json:"columns,omitempty"`    // tables and views
	Parameters    []Parameter `json:"parameters,omitempty"` // stored procedures
	Definition    string      `json:"definition,omitempty"` // SQL text for views/procedures
}

// QualifiedName returns "schema.name".
func (e *Entity) QualifiedName() string {
	return e.Schema + "." + e.Name
}

// SemanticModel is the root aggregate: a named collection of entities.
type SemanticModel struct {
	Name             string    `json:"name"`
	Source           string    `json:"source,omitempty"`
	Description      string    `json:"description,omitempty"`
	SchemaVersion    int       `json:"schema_version,omitempty"`
	Tables           []*Entity `json:"tables"`
	Views            []*Entity `json:"views"`
	StoredProcedures []*Entity `json:"stored_procedures"`
}

// AllEntities returns every entity in persistence order with Kind populated.
func (m *SemanticModel) AllEntities() []*Entity {
	out := make([]*Entity, 0, len(m.Tables)+len(m.Views)+len(m.StoredProcedures))
	for _, e := range m.Tables {
		e.Kind = EntityKindTable
		out = append(out, e)
	}
	for _, e := range m.Views {
		e.Kind = EntityKindView
		out = append(out, e)
	}
	for _, e := range m.StoredProcedures {
		e.Kind = EntityKindStoredProcedure
		out = append(out, e)
	}
	return out
}

// EntityCount returns the total number of entities in the model.
func (m *SemanticModel) EntityCount() int {
	return len(m.Tables) + len(m.Views) + len(m.StoredProcedures)
}

// FindEntity looks up an entity by identity. Schema and name comparison is
// case-insensitive, matching key normalization. Returns nil if absent.
func (m *SemanticModel) FindEntity(kind EntityKind, schema, name string) *Entity {
	for _, e := range m.AllEntities() {
		if e.Kind == kind && strings.EqualFold(e.Schema, schema) && strings.EqualFold(e.Name, name) {
			return e
		}
	}
	return nil
}

// Attach adds an entity to the collection matching its Kind.
func (m *SemanticModel) Attach(e *Entity) error {
	switch e.Kind {
	case EntityKindTable:
		m.Tables = append(m.Tables, e)
	case EntityKindView:
		m.Views = append(m.Views, e)
	case EntityKindStoredProcedure:
		m.StoredProcedures = append(m.StoredProcedures, e)
	default:
		return fmt.Errorf("unknown entity kind: %q", e.Kind)
	}
	return nil
}

// Validate checks model invariants: non-blank name, non-blank entity
// identities, and (kind, schema, name) uniqueness.
func (m *SemanticModel) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: model name is blank", ErrInvalidKey)
	}
	seen := make(map[string]bool)
	for _, e := range m.AllEntities() {
		key, err := BuildEntityKey(m.Name, e.Kind, e.Schema, e.Name)
		if err != nil {
			return fmt.Errorf("entity %s.%s: %w", e.Schema, e.Name, err)
		}
		if seen[key] {
			return fmt.Errorf("duplicate entity identity: %s", key)
		}
		seen[key] = true
	}
	return nil
}

// EmbeddingMetadata describes a generated embedding without carrying the
// vector. It is the part of the payload every backend co-locates with the
// entity, so staleness checks never need the vector itself.
type EmbeddingMetadata struct {
	Service       string    `json:"service,omitempty"` // embedding service id
	Model         string    `json:"model,omitempty"`   // model name
	Dimensions    int       `json:"dimensions,omitempty"`
	ContentHash   string    `json:"content_hash"`
	GeneratedAt   time.Time `json:"generated_at"`
	SchemaVersion int       `json:"schema_version,omitempty"`
}

// EmbeddingPayload is a vector plus its metadata. The vector is omitted
// when the backend keeps vectors in its own index (document database).
type EmbeddingPayload struct {
	Vector   []float32          `json:"vector,omitempty"`
	Metadata *EmbeddingMetadata `json:"metadata,omitempty"`
}

// ContentHash returns the stored content hash, or "" when no metadata is
// present. Safe on a nil payload.
func (p *EmbeddingPayload) ContentHash() string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	return p.Metadata.ContentHash
}

// PersistedEntityEnvelope is the durable unit for one entity: the entity
// data plus an optional embedding payload. Readers also accept bare entity
// JSON written before vector generation existed; writers always emit the
// envelope with its schema version.
type PersistedEntityEnvelope struct {
	SchemaVersion int               `json:"schema_version,omitempty"`
	Data          *Entity           `json:"data,omitempty"`
	Embedding     *EmbeddingPayload `json:"embedding,omitempty"`
}

// EntityVectorRecord is the unit written to the vector index. The ID is the
// deterministic composite key, so re-upserting the same entity overwrites.
type EntityVectorRecord struct {
	ID          string     `json:"id"`
	ModelName   string     `json:"model_name"`
	Kind        EntityKind `json:"kind"`
	Schema      string     `json:"schema"`
	Name        string     `json:"name"`
	Text        string     `json:"text"`
	Vector      []float32  `json:"vector"`
	ContentHash string     `json:"content_hash"`
}

// VectorMatch is one similarity search hit.
type VectorMatch struct {
	Record *EntityVectorRecord
	Score  float32 // similarity, higher is closer
}

// VectorIndexSettings is the configuration consumed by the vector index
// policy and providers.
type VectorIndexSettings struct {
	Provider           string              // auto, memory, sqlitevec, pgvector
	Collection         string              // collection/index/table name
	EmbeddingService   string              // logical id of the embedding service
	ExpectedDimensions int                 // 0 = accept provider default
	AllowedProviders   map[string][]string // optional per-strategy allow-list
	Path               string              // sqlitevec database file
	DSN                string              // pgvector connection string
}

// VectorInfrastructure is the ephemeral descriptor handed to index
// operations. Recomputed from settings per invocation, never persisted.
type VectorInfrastructure struct {
	Provider         string
	Collection       string
	EmbeddingService string
	Settings         VectorIndexSettings
}

// GenerateRequest parameterizes one vector generation batch.
type GenerateRequest struct {
	Overwrite bool         // regenerate even when the content hash matches
	DryRun    bool         // report intended actions, no calls, no writes
	Kinds     []EntityKind // empty = all kinds
	Schema    string       // optional single target, paired with Name
	Name      string
	Workers   int // 0 = runtime.NumCPU
}

// WantsKind reports whether the request's kind filter admits k.
func (r *GenerateRequest) WantsKind(k EntityKind) bool {
	if len(r.Kinds) == 0 {
		return true
	}
	for _, want := range r.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

// WantsEntity reports whether the request selects e.
func (r *GenerateRequest) WantsEntity(e *Entity) bool {
	if !r.WantsKind(e.Kind) {
		return false
	}
	if r.Schema != "" && !strings.EqualFold(r.Schema, e.Schema) {
		return false
	}
	if r.Name != "" && !strings.EqualFold(r.Name, e.Name) {
		return false
	}
	return true
}

// GenerateResult summarizes one generation batch. Processed counts entities
// actually generated (or would-be-generated in dry-run); skipped entities
// are unchanged, failed entities hit a per-entity error.
type GenerateResult struct {
	RunID     string
	Processed int
	Skipped   int
	Failed    int
	DryRun    bool
	Duration  time.Duration
}

// GenerateProgress reports batch progress to an optional callback.
type GenerateProgress struct {
	Total         int
	Processed     int
	Skipped       int
	Failed        int
	CurrentEntity string
}

// ReconcileResult summarizes one index reconciliation run.
type ReconcileResult struct {
	Restored int // records re-upserted into the index
	Missing  int // persisted entities without a stored vector
	Failed   int
	Duration time.Duration
}

// ModelStats describes one persisted model and its index.
type ModelStats struct {
	ModelName        string
	Tables           int
	Views            int
	StoredProcedures int
	IndexedVectors   int
}
