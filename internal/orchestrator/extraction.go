package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/recruit-orchestrator/internal/model"
	"github.com/sells-group/recruit-orchestrator/internal/resilience"
	"github.com/sells-group/recruit-orchestrator/internal/session"
)

// runExtraction fetches spec.Count records and hands them to the matching
// pool. Either call failing, or the completion not being recorded, marks the
// component FAILED; nothing is marked COMPLETED on partial success.
func (d *Dispatcher) runExtraction(ctx context.Context, store *session.Store, t *Task, spec model.ExtractionSpec) error {
	log := zap.L().With(zap.String("task_id", t.ID), zap.String("pipeline", t.PipelineID), zap.Int("component", t.ComponentIndex))

	if err := d.markRunning(store, t); err != nil {
		return err
	}

	records, err := resilience.Call(ctx, d.guard, "extraction", "fetch_candidates", func(ctx context.Context) ([]model.CandidateRecord, error) {
		return d.svc.Extraction.FetchCandidates(ctx, spec.Count)
	})
	if err != nil {
		return d.fail(store, t, err)
	}

	_, err = resilience.Call(ctx, d.guard, "matching", "add_candidates", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.svc.Matching.AddCandidates(ctx, records)
	})
	if err != nil {
		return d.fail(store, t, err)
	}

	if _, err := d.publish(store, model.Update{
		PipelineID:     t.PipelineID,
		ComponentIndex: t.ComponentIndex,
		ComponentType:  model.ComponentExtraction,
		Status:         model.StatusCompleted,
	}); err != nil {
		return d.fail(store, t, err)
	}
	log.Info("orchestrator: extraction complete",
		zap.Int("requested", spec.Count),
		zap.Int("fetched", len(records)),
	)
	return nil
}
