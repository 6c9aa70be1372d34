// Package memory provides an in-process vector index.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

// Index keeps vector records in process memory. Each instance owns its
// records; lifetime is whatever the caller gives it (the registry cache
// for a CLI process, a local variable in tests). Records survive only
// as long as the instance.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collection
	dimensions  int
}

type collection struct {
	records map[string]*types.EntityVectorRecord
	order   []string // ids in first-insertion order, used for tie-breaking
}

// New creates an empty in-process index.
func New(config provider.VectorIndexConfig) (*Index, error) {
	return &Index{
		collections: make(map[string]*collection),
		dimensions:  config.Dimensions,
	}, nil
}

// Name returns the provider name.
func (i *Index) Name() string {
	return "memory"
}

// Upsert stores a copy of the record in the named collection, creating
// the collection on first use. An existing id is overwritten in place
// and keeps its original insertion position.
func (i *Index) Upsert(ctx context.Context, record *types.EntityVectorRecord, infra *types.VectorInfrastructure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: record has no id", types.ErrIndexWriteFailed)
	}
	if len(record.Vector) == 0 {
		return fmt.Errorf("%w: record %s has an empty vector", types.ErrIndexWriteFailed, record.ID)
	}
	if i.dimensions > 0 && len(record.Vector) != i.dimensions {
		return fmt.Errorf("%w: record %s has %d dimensions, index expects %d",
			types.ErrIndexWriteFailed, record.ID, len(record.Vector), i.dimensions)
	}
	name := collectionName(infra)
	if name == "" {
		return fmt.Errorf("%w: collection name is empty", types.ErrIndexWriteFailed)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	coll, ok := i.collections[name]
	if !ok {
		coll = &collection{records: make(map[string]*types.EntityVectorRecord)}
		i.collections[name] = coll
	}
	if _, exists := coll.records[record.ID]; !exists {
		coll.order = append(coll.order, record.ID)
	}
	coll.records[record.ID] = copyRecord(record)
	return nil
}

// Search returns the topK records most similar to queryVector by cosine
// similarity, descending. Equal scores keep insertion order. Searching
// a collection that was never written yields no matches.
func (i *Index) Search(ctx context.Context, queryVector []float32, topK int, infra *types.VectorInfrastructure) ([]*types.VectorMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", types.ErrSearchFailed)
	}
	if topK <= 0 {
		return nil, nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	coll, ok := i.collections[collectionName(infra)]
	if !ok {
		return nil, nil
	}

	matches := make([]*types.VectorMatch, 0, len(coll.order))
	for _, id := range coll.order {
		rec := coll.records[id]
		if len(rec.Vector) != len(queryVector) {
			continue
		}
		matches = append(matches, &types.VectorMatch{
			Record: copyRecord(rec),
			Score:  cosineSimilarity(queryVector, rec.Vector),
		})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count returns the number of records in the collection.
func (i *Index) Count(ctx context.Context, infra *types.VectorInfrastructure) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	coll, ok := i.collections[collectionName(infra)]
	if !ok {
		return 0, nil
	}
	return len(coll.records), nil
}

// Close drops all collections.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.collections = make(map[string]*collection)
	return nil
}

func collectionName(infra *types.VectorInfrastructure) string {
	if infra == nil {
		return ""
	}
	return infra.Collection
}

// copyRecord detaches the stored record from caller-owned memory so
// later mutation of the argument cannot change what the index holds,
// and vice versa on the way out.
func copyRecord(rec *types.EntityVectorRecord) *types.EntityVectorRecord {
	out := *rec
	out.Vector = make([]float32, len(rec.Vector))
	copy(out.Vector, rec.Vector)
	return &out
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for idx := range a {
		dot += float64(a[idx]) * float64(b[idx])
		normA += float64(a[idx]) * float64(a[idx])
		normB += float64(b[idx]) * float64(b[idx])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Ensure Index implements VectorIndex interface
var _ provider.VectorIndex = (*Index)(nil)
