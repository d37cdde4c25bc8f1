package orchestrator

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recruit-orchestrator/internal/model"
)

// RunChain executes every component of a pipeline in chain order, waiting
// for each to settle before starting the next. A calling component settles
// when its poll job ends. It stops at the first component that does not end
// COMPLETED.
func (d *Dispatcher) RunChain(ctx context.Context, sessionID, pipelineID string) error {
	store, err := d.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	p, err := store.Pipeline(pipelineID)
	if err != nil {
		return err
	}

	for i, c := range p.Chain {
		log := zap.L().With(zap.String("pipeline", pipelineID), zap.Int("component", i), zap.String("type", string(c.Type)))

		ack, err := d.Dispatch(ctx, Request{SessionID: sessionID, PipelineID: pipelineID, ComponentIndex: i})
		if err != nil {
			return eris.Wrapf(err, "orchestrator: dispatch component %d", i)
		}
		if err := d.Wait(ctx, ack.TaskID); err != nil {
			return eris.Wrapf(err, "orchestrator: component %d", i)
		}
		if c.Type == model.ComponentCalling {
			if done := d.jobs.doneChan(jobKey{session: sessionID, pipeline: pipelineID}); done != nil {
				log.Info("orchestrator: waiting for calling run to finish")
				select {
				case <-done:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		comp, err := store.Component(pipelineID, i)
		if err != nil {
			return err
		}
		if comp.Status != model.StatusCompleted {
			return eris.Errorf("orchestrator: component %d ended %s", i, comp.Status)
		}
		log.Info("orchestrator: component completed")
	}
	return nil
}
