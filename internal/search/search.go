// Package search implements similarity and name search over the entity
// vector index.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

// Engine handles search operations.
type Engine struct {
	repo       provider.ModelRepository
	index      provider.VectorIndex
	embedding  provider.EmbeddingProvider
	descriptor *types.VectorInfrastructure
}

// Config contains search engine configuration.
type Config struct {
	Repository provider.ModelRepository
	Index      provider.VectorIndex
	Embedding  provider.EmbeddingProvider
	Descriptor *types.VectorInfrastructure
}

// New creates a new search engine.
func New(cfg Config) *Engine {
	return &Engine{
		repo:       cfg.Repository,
		index:      cfg.Index,
		embedding:  cfg.Embedding,
		descriptor: cfg.Descriptor,
	}
}

// Request parameterizes one similarity search.
type Request struct {
	Query     string
	QueryVec  []float32          // set to skip the query embedding call
	Limit     int                // default 10
	ModelName string             // optional model filter
	Kinds     []types.EntityKind // optional kind filter
}

// Result is one ranked search hit.
type Result struct {
	ID     string           `json:"id"`
	Model  string           `json:"model"`
	Kind   types.EntityKind `json:"kind"`
	Schema string           `json:"schema"`
	Name   string           `json:"name"`
	Score  float32          `json:"score"`
	Text   string           `json:"text,omitempty"`
}

// Search embeds the query and returns the closest indexed entities,
// ordered by descending similarity. Model and kind filters are applied
// after the index lookup, over a widened candidate set.
func (e *Engine) Search(ctx context.Context, req *Request) ([]*Result, error) {
	if req.Limit == 0 {
		req.Limit = 10
	}

	queryVec := req.QueryVec
	if len(queryVec) == 0 {
		if strings.TrimSpace(req.Query) == "" {
			return nil, fmt.Errorf("%w: empty query", types.ErrSearchFailed)
		}
		embeddings, err := e.embedding.Embed(ctx, []string{req.Query})
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		if len(embeddings) == 0 || len(embeddings[0]) == 0 {
			return nil, fmt.Errorf("%w: empty query embedding", types.ErrEmbeddingFailed)
		}
		queryVec = embeddings[0]
	}

	filtered := req.ModelName != "" || len(req.Kinds) > 0
	topK := req.Limit
	if filtered {
		topK = req.Limit * 10
	}

	matches, err := e.index.Search(ctx, queryVec, topK, e.descriptor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSearchFailed, err)
	}

	results := make([]*Result, 0, req.Limit)
	for _, m := range matches {
		if m.Record == nil {
			continue
		}
		if req.ModelName != "" && !strings.EqualFold(m.Record.ModelName, req.ModelName) {
			continue
		}
		if len(req.Kinds) > 0 && !wantsKind(req.Kinds, m.Record.Kind) {
			continue
		}
		results = append(results, &Result{
			ID:     m.Record.ID,
			Model:  m.Record.ModelName,
			Kind:   m.Record.Kind,
			Schema: m.Record.Schema,
			Name:   m.Record.Name,
			Score:  m.Score,
			Text:   m.Record.Text,
		})
		if len(results) == req.Limit {
			break
		}
	}

	return results, nil
}

func wantsKind(kinds []types.EntityKind, k types.EntityKind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
