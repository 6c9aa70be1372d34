package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

func testInfra() *types.VectorInfrastructure {
	return &types.VectorInfrastructure{Provider: "memory", Collection: "entities"}
}

func record(id string, vector []float32) *types.EntityVectorRecord {
	return &types.EntityVectorRecord{
		ID:          id,
		ModelName:   "sales",
		Kind:        types.EntityKindTable,
		Schema:      "dbo",
		Name:        id,
		Text:        "table dbo." + id,
		Vector:      vector,
		ContentHash: "hash-" + id,
	}
}

func TestUpsertSameIDOverwrites(t *testing.T) {
	idx, err := New(provider.VectorIndexConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	infra := testInfra()

	first := record("customer", []float32{1, 0, 0})
	if err := idx.Upsert(ctx, first, infra); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	second := record("customer", []float32{0, 1, 0})
	second.ContentHash = "hash-updated"
	if err := idx.Upsert(ctx, second, infra); err != nil {
		t.Fatalf("Upsert() second error = %v", err)
	}

	count, err := idx.Count(ctx, infra)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1 after re-upsert", count)
	}

	matches, err := idx.Search(ctx, []float32{0, 1, 0}, 1, infra)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Search() returned %d matches, want 1", len(matches))
	}
	if matches[0].Record.ContentHash != "hash-updated" {
		t.Errorf("stored hash = %s, want hash-updated (last write wins)", matches[0].Record.ContentHash)
	}
}

func TestSearchOrdersByDescendingSimilarity(t *testing.T) {
	idx, err := New(provider.VectorIndexConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	infra := testInfra()

	if err := idx.Upsert(ctx, record("far", []float32{0, 1, 0, 0}), infra); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := idx.Upsert(ctx, record("near", []float32{1, 0, 0, 0}), infra); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := idx.Upsert(ctx, record("mid", []float32{1, 1, 0, 0}), infra); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	matches, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, infra)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("Search() returned %d matches, want 3", len(matches))
	}

	wantOrder := []string{"near", "mid", "far"}
	for i, want := range wantOrder {
		if matches[i].Record.Name != want {
			t.Errorf("match[%d] = %s, want %s", i, matches[i].Record.Name, want)
		}
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Errorf("scores not descending: %v then %v", matches[i-1].Score, matches[i].Score)
		}
	}
}

func TestSearchTiesKeepInsertionOrder(t *testing.T) {
	idx, err := New(provider.VectorIndexConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	infra := testInfra()

	// Both orthogonal to the query, identical score.
	if err := idx.Upsert(ctx, record("first", []float32{0, 1, 0}), infra); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := idx.Upsert(ctx, record("second", []float32{0, 0, 1}), infra); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	matches, err := idx.Search(ctx, []float32{1, 0, 0}, 10, infra)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Search() returned %d matches, want 2", len(matches))
	}
	if matches[0].Record.Name != "first" || matches[1].Record.Name != "second" {
		t.Errorf("tie order = [%s %s], want [first second]",
			matches[0].Record.Name, matches[1].Record.Name)
	}
}

func TestSearchLimitsToTopK(t *testing.T) {
	idx, err := New(provider.VectorIndexConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	infra := testInfra()

	for _, name := range []string{"a", "b", "c", "d"} {
		if err := idx.Upsert(ctx, record(name, []float32{1, 0}), infra); err != nil {
			t.Fatalf("Upsert(%s) error = %v", name, err)
		}
	}

	matches, err := idx.Search(ctx, []float32{1, 0}, 2, infra)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("Search() returned %d matches, want 2", len(matches))
	}
}

func TestFreshInstancesAreIsolated(t *testing.T) {
	ctx := context.Background()
	infra := testInfra()

	a, err := New(provider.VectorIndexConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b, err := New(provider.VectorIndexConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := a.Upsert(ctx, record("only-in-a", []float32{1, 0}), infra); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	count, err := b.Count(ctx, infra)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("second instance Count() = %d, want 0", count)
	}
}

func TestConcurrentSameIDUpserts(t *testing.T) {
	idx, err := New(provider.VectorIndexConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	infra := testInfra()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				rec := record("shared", []float32{1, 0, 0})
				if err := idx.Upsert(ctx, rec, infra); err != nil {
					t.Errorf("Upsert() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	count, err := idx.Count(ctx, infra)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1 after concurrent same-id upserts", count)
	}
}

func TestUpsertRejectsBadRecords(t *testing.T) {
	idx, err := New(provider.VectorIndexConfig{Dimensions: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	infra := testInfra()

	tests := []struct {
		name string
		rec  *types.EntityVectorRecord
	}{
		{"nil record", nil},
		{"blank id", record("", []float32{1, 0, 0, 0})},
		{"empty vector", record("x", nil)},
		{"wrong dimensions", record("x", []float32{1, 0, 0})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := idx.Upsert(ctx, tt.rec, infra); err == nil {
				t.Error("Upsert() expected error")
			}
		})
	}
}

func TestSearchUnwrittenCollection(t *testing.T) {
	idx, err := New(provider.VectorIndexConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	matches, err := idx.Search(ctx, []float32{1, 0}, 5, testInfra())
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Search() returned %d matches, want 0", len(matches))
	}

	count, err := idx.Count(ctx, testInfra())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, want 0", count)
	}
}

func TestStoredRecordsDetachedFromCaller(t *testing.T) {
	idx, err := New(provider.VectorIndexConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	infra := testInfra()

	rec := record("customer", []float32{1, 0, 0})
	if err := idx.Upsert(ctx, rec, infra); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	rec.Vector[0] = 0
	rec.Vector[1] = 1

	matches, err := idx.Search(ctx, []float32{1, 0, 0}, 1, infra)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Search() returned %d matches, want 1", len(matches))
	}
	if matches[0].Score < 0.99 {
		t.Errorf("score = %v, want ~1.0 (stored vector must not follow caller mutation)", matches[0].Score)
	}
}

func TestCancelledContext(t *testing.T) {
	idx, err := New(provider.VectorIndexConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := idx.Upsert(ctx, record("x", []float32{1}), testInfra()); err == nil {
		t.Error("Upsert() expected context error")
	}
	if _, err := idx.Search(ctx, []float32{1}, 1, testInfra()); err == nil {
		t.Error("Search() expected context error")
	}
}
