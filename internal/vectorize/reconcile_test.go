package vectorize

import (
	"context"
	"testing"

	"github.com/spetr/semindex/pkg/types"
)

func TestReconcileRestoresWithoutEmbeddingCalls(t *testing.T) {
	repo := newStubRepo(testModel())
	index := newStubIndex()
	embed := &stubEmbedder{vector: []float32{0.3, 0.7}}
	orch := newTestOrchestrator(repo, index, embed)

	if _, err := orch.Generate(context.Background(), "sales", &types.GenerateRequest{}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// Simulate a dropped index.
	index.clear()
	calls := embed.callCount()

	result, err := orch.Reconcile(context.Background(), "sales")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Restored != 3 || result.Missing != 0 || result.Failed != 0 {
		t.Fatalf("result = %d/%d/%d, want 3/0/0", result.Restored, result.Missing, result.Failed)
	}
	if len(index.records) != 3 {
		t.Errorf("index records = %d, want 3", len(index.records))
	}
	if embed.callCount() != calls {
		t.Errorf("reconcile made %d embedding calls, want 0", embed.callCount()-calls)
	}
}

func TestReconcileRestoredRecordsMatchStoredVectors(t *testing.T) {
	repo := newStubRepo(testModel())
	index := newStubIndex()
	embed := &stubEmbedder{vector: []float32{0.25, 0.75}}
	orch := newTestOrchestrator(repo, index, embed)

	if _, err := orch.Generate(context.Background(), "sales", &types.GenerateRequest{}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	index.clear()

	if _, err := orch.Reconcile(context.Background(), "sales"); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	id, err := types.BuildVectorID("sales", types.EntityKindTable, "dbo", "Customers")
	if err != nil {
		t.Fatalf("BuildVectorID() error = %v", err)
	}
	record := index.records[id]
	if record == nil {
		t.Fatalf("no record under id %s", id)
	}
	if len(record.Vector) != 2 || record.Vector[0] != 0.25 {
		t.Errorf("restored vector = %v, want [0.25 0.75]", record.Vector)
	}
	env := repo.envelopes[entityKey(types.EntityKindTable, "dbo", "Customers")]
	if record.ContentHash != env.Embedding.Metadata.ContentHash {
		t.Errorf("restored hash = %s, want stored %s", record.ContentHash, env.Embedding.Metadata.ContentHash)
	}
}

func TestReconcileUnpersistedEntitiesAreMissing(t *testing.T) {
	repo := newStubRepo(testModel())
	index := newStubIndex()
	embed := &stubEmbedder{vector: []float32{1}}
	orch := newTestOrchestrator(repo, index, embed)

	result, err := orch.Reconcile(context.Background(), "sales")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Restored != 0 || result.Missing != 3 {
		t.Errorf("result = %d restored %d missing, want 0/3", result.Restored, result.Missing)
	}
	if index.upserts != 0 {
		t.Errorf("upserts = %d, want 0", index.upserts)
	}
}

func TestReconcileMetadataOnlyEnvelopeIsMissing(t *testing.T) {
	model := &types.SemanticModel{
		Name:          "sales",
		SchemaVersion: 1,
		Tables: []*types.Entity{
			{Schema: "dbo", Name: "Customers"},
		},
	}
	repo := newStubRepo(model)

	// Document backends persist metadata without the vector floats.
	entity := model.AllEntities()[0]
	repo.envelopes[entityKey(types.EntityKindTable, "dbo", "Customers")] = &types.PersistedEntityEnvelope{
		SchemaVersion: types.EnvelopeSchemaVersion,
		Data:          entity,
		Embedding: &types.EmbeddingPayload{
			Metadata: &types.EmbeddingMetadata{ContentHash: "abc123"},
		},
	}

	index := newStubIndex()
	embed := &stubEmbedder{vector: []float32{1}}
	orch := newTestOrchestrator(repo, index, embed)

	result, err := orch.Reconcile(context.Background(), "sales")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Missing != 1 || result.Restored != 0 {
		t.Errorf("result = %d restored %d missing, want 0/1", result.Restored, result.Missing)
	}
}

func TestReconcileIndexFailureCounts(t *testing.T) {
	repo := newStubRepo(testModel())
	index := newStubIndex()
	embed := &stubEmbedder{vector: []float32{1}}
	orch := newTestOrchestrator(repo, index, embed)

	if _, err := orch.Generate(context.Background(), "sales", &types.GenerateRequest{}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	index.clear()
	index.fail = true

	result, err := orch.Reconcile(context.Background(), "sales")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Failed != 3 {
		t.Errorf("failed = %d, want 3", result.Failed)
	}
}
