package vectorize

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/spetr/semindex/internal/perf"
	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

// Orchestrator drives vector generation for persisted semantic models.
// Per entity the pipeline is select, canonical text, content hash,
// skip decision, embed, persist, index upsert. Persistence strictly
// precedes the index write; a persisted entity whose upsert failed is
// repaired by Reconcile.
type Orchestrator struct {
	repo       provider.ModelRepository
	index      provider.VectorIndex
	embedding  provider.EmbeddingProvider
	descriptor *types.VectorInfrastructure
	model      string // embedding model recorded in metadata
	monitor    *perf.Monitor

	// Progress tracking
	progressMu sync.Mutex
	progress   types.GenerateProgress
	onProgress func(types.GenerateProgress)
}

// Config contains orchestrator configuration.
type Config struct {
	Repository     provider.ModelRepository
	Index          provider.VectorIndex
	Embedding      provider.EmbeddingProvider
	Descriptor     *types.VectorInfrastructure
	EmbeddingModel string
	Monitor        *perf.Monitor // nil uses perf.DefaultMonitor
	OnProgress     func(types.GenerateProgress)
}

// New creates a new orchestrator.
func New(cfg Config) *Orchestrator {
	monitor := cfg.Monitor
	if monitor == nil {
		monitor = perf.DefaultMonitor
	}
	return &Orchestrator{
		repo:       cfg.Repository,
		index:      cfg.Index,
		embedding:  cfg.Embedding,
		descriptor: cfg.Descriptor,
		model:      cfg.EmbeddingModel,
		monitor:    monitor,
		onProgress: cfg.OnProgress,
	}
}

// NewFromInfra creates an orchestrator over a resolved Infra.
func NewFromInfra(inf *Infra, embeddingModel string, onProgress func(types.GenerateProgress)) *Orchestrator {
	return New(Config{
		Repository:     inf.Repository,
		Index:          inf.Index,
		Embedding:      inf.Embedding,
		Descriptor:     inf.Descriptor,
		EmbeddingModel: embeddingModel,
		OnProgress:     onProgress,
	})
}

type entityOutcome int

const (
	outcomeProcessed entityOutcome = iota
	outcomeSkipped
	outcomeFailed
)

type entityResult struct {
	entity  string
	outcome entityOutcome
}

// Generate runs one vector generation batch against the model stored at
// location. Per-entity failures are logged and counted, never fatal to
// the batch. On cancellation the partial counts are returned together
// with the context error; already completed entities stay valid.
func (o *Orchestrator) Generate(ctx context.Context, location string, req *types.GenerateRequest) (*types.GenerateResult, error) {
	start := time.Now()
	runID := uuid.NewString()

	if req == nil {
		req = &types.GenerateRequest{}
	}

	timer := o.monitor.StartTimer("vectorize", "generate")

	model, err := o.repo.LoadModel(ctx, location)
	if err != nil {
		timer.Stop(false, map[string]string{"run_id": runID})
		return nil, fmt.Errorf("load model: %w", err)
	}

	entities := selectEntities(model, req)

	slog.Info("vector generation started",
		"run_id", runID,
		"model", model.Name,
		"entities", len(entities),
		"overwrite", req.Overwrite,
		"dry_run", req.DryRun,
	)

	o.updateProgress(len(entities), 0, 0, 0, "")

	result := o.processParallel(ctx, model.Name, location, entities, req, runID)
	result.RunID = runID
	result.DryRun = req.DryRun
	result.Duration = time.Since(start)

	timer.Stop(result.Failed == 0, map[string]string{"run_id": runID, "model": model.Name})

	if err := ctx.Err(); err != nil {
		slog.Warn("vector generation cancelled",
			"run_id", runID,
			"processed", result.Processed,
			"skipped", result.Skipped,
			"failed", result.Failed,
		)
		return result, err
	}

	slog.Info("vector generation complete",
		"run_id", runID,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", result.Duration.Round(time.Millisecond),
	)
	return result, nil
}

// selectEntities returns the entities matching the request scope, in
// model order.
func selectEntities(model *types.SemanticModel, req *types.GenerateRequest) []*types.Entity {
	all := model.AllEntities()
	selected := make([]*types.Entity, 0, len(all))
	for _, e := range all {
		if req.WantsEntity(e) {
			selected = append(selected, e)
		}
	}
	return selected
}

// processParallel runs the per-entity pipeline over a bounded worker
// pool. Entities are independent; completion order is unordered.
func (o *Orchestrator) processParallel(ctx context.Context, modelName, location string, entities []*types.Entity, req *types.GenerateRequest, runID string) *types.GenerateResult {
	result := &types.GenerateResult{}
	if len(entities) == 0 {
		return result
	}

	workers := req.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(entities) {
		workers = len(entities)
	}

	entityCh := make(chan *types.Entity, len(entities))
	resultCh := make(chan entityResult, len(entities))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range entityCh {
				if ctx.Err() != nil {
					// Drain without processing; the entity stays uncounted.
					continue
				}
				outcome := o.processEntity(ctx, modelName, location, e, req, runID)
				resultCh <- entityResult{entity: e.QualifiedName(), outcome: outcome}
			}
		}()
	}

	for _, e := range entities {
		entityCh <- e
	}
	close(entityCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for res := range resultCh {
		switch res.outcome {
		case outcomeProcessed:
			result.Processed++
		case outcomeSkipped:
			result.Skipped++
		case outcomeFailed:
			result.Failed++
		}
		o.updateProgress(0, result.Processed, result.Skipped, result.Failed, res.entity)
	}

	return result
}

// processEntity runs the pipeline for one entity and reports how it
// ended. Every failure path logs with the run id and entity name.
func (o *Orchestrator) processEntity(ctx context.Context, modelName, location string, e *types.Entity, req *types.GenerateRequest, runID string) entityOutcome {
	name := e.QualifiedName()

	text := types.CanonicalText(e)
	hash, err := types.BuildContentHash(text)
	if err != nil {
		slog.Error("content hash failed", "run_id", runID, "entity", name, "error", err)
		return outcomeFailed
	}

	id, err := types.BuildVectorID(modelName, e.Kind, e.Schema, e.Name)
	if err != nil {
		slog.Error("vector id failed", "run_id", runID, "entity", name, "error", err)
		return outcomeFailed
	}

	if !req.Overwrite {
		stored, err := o.repo.CheckVectorExists(ctx, e.Kind, e.Schema, e.Name, location)
		if err != nil {
			// A failed probe falls through to regeneration.
			slog.Warn("hash probe failed", "run_id", runID, "entity", name, "error", err)
		} else if stored == hash {
			slog.Debug("entity unchanged", "run_id", runID, "entity", name, "hash", hash)
			return outcomeSkipped
		}
	}

	if req.DryRun {
		slog.Info("would generate", "run_id", runID, "entity", name, "kind", e.Kind)
		return outcomeProcessed
	}

	timer := o.monitor.StartTimer("vectorize", "entity")

	vector, err := o.embedWithRetry(ctx, text)
	if err != nil {
		timer.Stop(false, map[string]string{"run_id": runID})
		slog.Error("embedding failed", "run_id", runID, "entity", name, "error", err)
		return outcomeFailed
	}

	payload := &types.EmbeddingPayload{
		Vector: vector,
		Metadata: &types.EmbeddingMetadata{
			Service:       o.descriptor.EmbeddingService,
			Model:         o.model,
			Dimensions:    len(vector),
			ContentHash:   hash,
			GeneratedAt:   time.Now().UTC(),
			SchemaVersion: types.EnvelopeSchemaVersion,
		},
	}

	if err := o.repo.SaveEntity(ctx, location, e, payload); err != nil {
		// Unpersisted hash must never reach the index.
		timer.Stop(false, map[string]string{"run_id": runID})
		slog.Error("persist failed", "run_id", runID, "entity", name, "error", err)
		return outcomeFailed
	}

	record := &types.EntityVectorRecord{
		ID:          id,
		ModelName:   modelName,
		Kind:        e.Kind,
		Schema:      e.Schema,
		Name:        e.Name,
		Text:        text,
		Vector:      vector,
		ContentHash: hash,
	}

	if err := o.index.Upsert(ctx, record, o.descriptor); err != nil {
		timer.Stop(false, map[string]string{"run_id": runID})
		slog.Warn("index write failed after persist, reconcile repairs this",
			"run_id", runID, "entity", name, "error", err)
		return outcomeFailed
	}

	timer.Stop(true, map[string]string{"run_id": runID})
	slog.Debug("entity indexed", "run_id", runID, "entity", name, "id", id, "dimensions", len(vector))
	return outcomeProcessed
}

// embedWithRetry calls the embedding provider with exponential backoff.
// Context cancellation and empty results are permanent.
func (o *Orchestrator) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var vector []float32

	operation := func() error {
		vectors, err := o.embedding.Embed(ctx, []string{text})
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			return backoff.Permanent(fmt.Errorf("%w: empty vector", types.ErrEmbeddingFailed))
		}
		vector = vectors[0]
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 2 * time.Minute

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return vector, nil
}

// Stats returns model and index statistics for the model at location.
func (o *Orchestrator) Stats(ctx context.Context, location string) (*types.ModelStats, error) {
	model, err := o.repo.LoadModel(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	indexed, err := o.index.Count(ctx, o.descriptor)
	if err != nil {
		slog.Warn("index count failed", "error", err)
		indexed = 0
	}

	return &types.ModelStats{
		ModelName:        model.Name,
		Tables:           len(model.Tables),
		Views:            len(model.Views),
		StoredProcedures: len(model.StoredProcedures),
		IndexedVectors:   indexed,
	}, nil
}

// Progress returns a snapshot of the current batch progress.
func (o *Orchestrator) Progress() types.GenerateProgress {
	o.progressMu.Lock()
	defer o.progressMu.Unlock()
	return o.progress
}

func (o *Orchestrator) updateProgress(total, processed, skipped, failed int, current string) {
	o.progressMu.Lock()
	if total > 0 {
		o.progress.Total = total
	}
	o.progress.Processed = processed
	o.progress.Skipped = skipped
	o.progress.Failed = failed
	if current != "" {
		o.progress.CurrentEntity = current
	}
	progress := o.progress
	callback := o.onProgress
	o.progressMu.Unlock()

	if callback != nil {
		callback(progress)
	}
}
