package pgvector

import (
	"context"
	"testing"

	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

// testIndex builds an Index without a database connection. Only paths
// that reject input before touching the connection are exercised here.
func testIndex(dimensions int) *Index {
	return &Index{
		dimensions:  dimensions,
		provisioned: make(map[string]struct{}),
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(provider.VectorIndexConfig{}); err == nil {
		t.Error("New() expected error for missing connection string")
	}
}

func TestUpsertRejectsBadRecords(t *testing.T) {
	idx := testIndex(4)
	ctx := context.Background()
	infra := &types.VectorInfrastructure{Provider: "pgvector", Collection: "entities"}

	tests := []struct {
		name string
		rec  *types.EntityVectorRecord
	}{
		{"nil record", nil},
		{"blank id", &types.EntityVectorRecord{Vector: []float32{1, 0, 0, 0}}},
		{"empty vector", &types.EntityVectorRecord{ID: "x"}},
		{"wrong dimensions", &types.EntityVectorRecord{ID: "x", Vector: []float32{1, 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := idx.Upsert(ctx, tt.rec, infra); err == nil {
				t.Error("Upsert() expected error")
			}
		})
	}
}

func TestEnsureCollectionRejectsBadNames(t *testing.T) {
	idx := testIndex(0)
	ctx := context.Background()

	bad := []string{"", "has space", "has-dash", "1leading", "semi;colon", `quoted"name`}
	for _, name := range bad {
		if err := idx.ensureCollection(ctx, name); err == nil {
			t.Errorf("ensureCollection(%q) expected error", name)
		}
	}
}

func TestEnsureCollectionCachesProvisioned(t *testing.T) {
	idx := testIndex(0)
	idx.provisioned["entities"] = struct{}{}

	// Already provisioned skips the database entirely.
	if err := idx.ensureCollection(context.Background(), "entities"); err != nil {
		t.Errorf("ensureCollection() error = %v", err)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	idx := testIndex(0)
	infra := &types.VectorInfrastructure{Provider: "pgvector", Collection: "entities"}

	if _, err := idx.Search(context.Background(), nil, 5, infra); err == nil {
		t.Error("Search() expected error for empty query vector")
	}

	matches, err := idx.Search(context.Background(), []float32{1, 0}, 0, infra)
	if err != nil {
		t.Errorf("Search() with topK 0 error = %v", err)
	}
	if matches != nil {
		t.Errorf("Search() with topK 0 = %v, want nil", matches)
	}
}
