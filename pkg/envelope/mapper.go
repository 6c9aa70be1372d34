// Package envelope maps semantic model entities to and from their
// persisted shapes. All functions are pure: they transform values and do
// no I/O, so every backend shares one set of shape rules.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spetr/semindex/pkg/types"
)

// ModelIndexFile is the name of the root document persisted for a model.
const ModelIndexFile = "semanticmodel.json"

// Wrap builds the envelope for an entity and an optional embedding payload.
func Wrap(e *types.Entity, payload *types.EmbeddingPayload) *types.PersistedEntityEnvelope {
	return &types.PersistedEntityEnvelope{
		SchemaVersion: types.EnvelopeSchemaVersion,
		Data:          e,
		Embedding:     payload,
	}
}

// Marshal serializes an envelope for the file and blob backends. An
// envelope without an embedding serializes as the bare entity, keeping
// files written before vector generation and files that never had a
// vector byte-compatible.
func Marshal(env *types.PersistedEntityEnvelope) ([]byte, error) {
	if env.Data == nil {
		return nil, fmt.Errorf("%w: envelope without entity data", types.ErrCorruptData)
	}
	if env.Embedding == nil {
		return json.MarshalIndent(env.Data, "", "  ")
	}
	return json.MarshalIndent(env, "", "  ")
}

// Unmarshal parses a persisted entity body. It accepts both the envelope
// shape and bare entity JSON; the result is always an envelope.
func Unmarshal(raw []byte) (*types.PersistedEntityEnvelope, error) {
	var env types.PersistedEntityEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Data != nil {
		return &env, nil
	}

	var e types.Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCorruptData, err)
	}
	if strings.TrimSpace(e.Name) == "" {
		return nil, fmt.Errorf("%w: entity body has no name", types.ErrCorruptData)
	}
	return &types.PersistedEntityEnvelope{
		SchemaVersion: types.EnvelopeSchemaVersion,
		Data:          &e,
	}, nil
}

// EntityJSON returns the unwrapped entity body for an envelope, the shape
// callers of LoadEntityContent see regardless of backend.
func EntityJSON(env *types.PersistedEntityEnvelope) (string, error) {
	if env == nil || env.Data == nil {
		return "", fmt.Errorf("%w: envelope without entity data", types.ErrCorruptData)
	}
	raw, err := json.MarshalIndent(env.Data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DocumentEntity is the shape the document database backend stores: the
// entity plus embedding metadata only. The vector never appears here; the
// database's own vector index owns it.
type DocumentEntity struct {
	ID            string                   `json:"id"`
	ModelName     string                   `json:"model_name"`
	Kind          types.EntityKind         `json:"kind"`
	Schema        string                   `json:"schema"`
	Name          string                   `json:"name"`
	Entity        *types.Entity            `json:"entity"`
	Embedding     *types.EmbeddingMetadata `json:"embedding,omitempty"`
	SchemaVersion int                      `json:"schema_version"`
}

// DocumentKey builds the composite document key for an entity.
func DocumentKey(modelName string, kind types.EntityKind, schema, name string) string {
	return modelName + "_" + string(kind) + "_" + schema + "." + name
}

// ToDocumentEntity maps an entity to its document shape.
func ToDocumentEntity(modelName string, e *types.Entity, meta *types.EmbeddingMetadata) *DocumentEntity {
	return &DocumentEntity{
		ID:            DocumentKey(modelName, e.Kind, e.Schema, e.Name),
		ModelName:     modelName,
		Kind:          e.Kind,
		Schema:        e.Schema,
		Name:          e.Name,
		Entity:        e,
		Embedding:     meta,
		SchemaVersion: types.EnvelopeSchemaVersion,
	}
}

// EntityFileName returns the deterministic file name for an entity within
// its kind folder.
func EntityFileName(schema, name string) string {
	return sanitizeFileName(schema) + "." + sanitizeFileName(name) + ".json"
}

// EntityRelPath returns the entity's path relative to the model root.
func EntityRelPath(kind types.EntityKind, schema, name string) string {
	return kind.Folder() + "/" + EntityFileName(schema, name)
}

func sanitizeFileName(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EntityRef is one entry in the model index document.
type EntityRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Path   string `json:"path"`
}

// ModelIndex is the root document for a model: metadata plus the relative
// paths of its entities, in collection order.
type ModelIndex struct {
	Name             string      `json:"name"`
	Source           string      `json:"source,omitempty"`
	Description      string      `json:"description,omitempty"`
	SchemaVersion    int         `json:"schema_version"`
	Tables           []EntityRef `json:"tables"`
	Views            []EntityRef `json:"views"`
	StoredProcedures []EntityRef `json:"stored_procedures"`
}

// BuildModelIndex derives the index document from a model.
func BuildModelIndex(m *types.SemanticModel) *ModelIndex {
	idx := &ModelIndex{
		Name:          m.Name,
		Source:        m.Source,
		Description:   m.Description,
		SchemaVersion: types.EnvelopeSchemaVersion,
	}
	for _, e := range m.Tables {
		idx.Tables = append(idx.Tables, entityRef(types.EntityKindTable, e))
	}
	for _, e := range m.Views {
		idx.Views = append(idx.Views, entityRef(types.EntityKindView, e))
	}
	for _, e := range m.StoredProcedures {
		idx.StoredProcedures = append(idx.StoredProcedures, entityRef(types.EntityKindStoredProcedure, e))
	}
	return idx
}

func entityRef(kind types.EntityKind, e *types.Entity) EntityRef {
	return EntityRef{
		Schema: e.Schema,
		Name:   e.Name,
		Path:   EntityRelPath(kind, e.Schema, e.Name),
	}
}

// KindedRef pairs an entity reference with its kind.
type KindedRef struct {
	Kind types.EntityKind
	Ref  EntityRef
}

// Refs returns every entity reference in persistence order with its kind.
func (idx *ModelIndex) Refs() []KindedRef {
	out := make([]KindedRef, 0, len(idx.Tables)+len(idx.Views)+len(idx.StoredProcedures))
	for _, r := range idx.Tables {
		out = append(out, KindedRef{types.EntityKindTable, r})
	}
	for _, r := range idx.Views {
		out = append(out, KindedRef{types.EntityKindView, r})
	}
	for _, r := range idx.StoredProcedures {
		out = append(out, KindedRef{types.EntityKindStoredProcedure, r})
	}
	return out
}
