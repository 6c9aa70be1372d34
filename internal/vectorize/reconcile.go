package vectorize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/spetr/semindex/pkg/types"
)

// Reconcile re-upserts the vectors stored with the model at location
// into the vector index, without calling the embedding provider and
// without mutating persisted state. Used to repair a dropped or rebuilt
// index independently of content changes.
//
// Entities persisted without a vector (metadata-only envelopes from
// document backends, or entities never embedded) are counted as missing
// and need a Generate run.
func (o *Orchestrator) Reconcile(ctx context.Context, location string) (*types.ReconcileResult, error) {
	start := time.Now()
	runID := uuid.NewString()

	timer := o.monitor.StartTimer("vectorize", "reconcile")

	model, err := o.repo.LoadModel(ctx, location)
	if err != nil {
		timer.Stop(false, map[string]string{"run_id": runID})
		return nil, fmt.Errorf("load model: %w", err)
	}

	entities := model.AllEntities()

	slog.Info("index reconcile started",
		"run_id", runID,
		"model", model.Name,
		"entities", len(entities),
	)

	result := &types.ReconcileResult{}
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			timer.Stop(false, map[string]string{"run_id": runID})
			slog.Warn("index reconcile cancelled",
				"run_id", runID,
				"restored", result.Restored,
				"missing", result.Missing,
				"failed", result.Failed,
			)
			return result, err
		}
		o.reconcileEntity(ctx, model.Name, location, e, runID, result)
	}

	result.Duration = time.Since(start)
	timer.Stop(result.Failed == 0, map[string]string{"run_id": runID, "model": model.Name})

	slog.Info("index reconcile complete",
		"run_id", runID,
		"restored", result.Restored,
		"missing", result.Missing,
		"failed", result.Failed,
		"duration", result.Duration.Round(time.Millisecond),
	)
	return result, nil
}

func (o *Orchestrator) reconcileEntity(ctx context.Context, modelName, location string, e *types.Entity, runID string, result *types.ReconcileResult) {
	name := e.QualifiedName()

	env, err := o.repo.LoadEntityEnvelope(ctx, location, e.Kind, e.Schema, e.Name)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			result.Missing++
			slog.Debug("entity not persisted", "run_id", runID, "entity", name)
			return
		}
		result.Failed++
		slog.Error("envelope read failed", "run_id", runID, "entity", name, "error", err)
		return
	}

	if env.Embedding == nil || len(env.Embedding.Vector) == 0 {
		result.Missing++
		slog.Debug("no stored vector", "run_id", runID, "entity", name)
		return
	}

	id, err := types.BuildVectorID(modelName, e.Kind, e.Schema, e.Name)
	if err != nil {
		result.Failed++
		slog.Error("vector id failed", "run_id", runID, "entity", name, "error", err)
		return
	}

	// The stored entity data is what the vector was computed from; the
	// in-memory model copy may already be newer.
	data := env.Data
	if data == nil {
		data = e
	}

	record := &types.EntityVectorRecord{
		ID:          id,
		ModelName:   modelName,
		Kind:        e.Kind,
		Schema:      e.Schema,
		Name:        e.Name,
		Text:        types.CanonicalText(data),
		Vector:      env.Embedding.Vector,
		ContentHash: env.Embedding.ContentHash(),
	}

	if err := o.index.Upsert(ctx, record, o.descriptor); err != nil {
		result.Failed++
		slog.Error("index write failed", "run_id", runID, "entity", name, "error", err)
		return
	}

	result.Restored++
	slog.Debug("vector restored", "run_id", runID, "entity", name, "id", id)
}
