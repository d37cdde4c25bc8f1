package orchestrator

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recruit-orchestrator/internal/model"
	"github.com/sells-group/recruit-orchestrator/internal/resilience"
	"github.com/sells-group/recruit-orchestrator/internal/session"
	"github.com/sells-group/recruit-orchestrator/pkg/calling"
)

// planCalling checks a calling request and reserves the pipeline's poll-job
// slot. The returned release frees the slot if the task is never launched.
//
// The calling list is, in order of precedence: the request override, the
// component's explicit list, or the pipeline's Found buffer.
func (d *Dispatcher) planCalling(store *session.Store, req Request, comp model.Component) (func(context.Context, *Task) error, func(), error) {
	pipelineNum, err := pipelineNumber(req.PipelineID)
	if err != nil {
		return nil, nil, err
	}

	candidates := req.Candidates
	if len(candidates) == 0 && comp.Calling != nil {
		candidates = comp.Calling.Candidates
	}
	fromBuffer := len(candidates) == 0
	if fromBuffer {
		snap, err := store.Buffer(req.PipelineID)
		if err != nil {
			return nil, nil, err
		}
		if snap.State != model.BufferFound {
			return nil, nil, eris.Wrapf(model.ErrInvalidPrecondition,
				"orchestrator: pipeline %s has no candidates to call (buffer %s)", req.PipelineID, snap.State)
		}
	}

	key := jobKey{session: req.SessionID, pipeline: req.PipelineID}
	job, err := d.jobs.reserve(d.baseCtx, key, req.ComponentIndex, pipelineNum)
	if err != nil {
		return nil, nil, err
	}

	run := func(ctx context.Context, t *Task) error {
		return d.runCalling(ctx, store, t, job, candidates, fromBuffer)
	}
	release := func() { d.jobs.remove(job) }
	return run, release, nil
}

// runCalling starts the calling run and, once the service acknowledges it,
// marks the component RUNNING and starts polling. The reserved job is
// released on every failure path.
func (d *Dispatcher) runCalling(ctx context.Context, store *session.Store, t *Task, job *pollJob, candidates []model.CandidateRecord, fromBuffer bool) error {
	log := zap.L().With(zap.String("task_id", t.ID), zap.String("pipeline", t.PipelineID), zap.Int("component", t.ComponentIndex))

	if fromBuffer {
		snap, err := store.Buffer(t.PipelineID)
		if err != nil {
			d.jobs.remove(job)
			return err
		}
		if snap.State != model.BufferFound {
			d.jobs.remove(job)
			return eris.Wrapf(model.ErrInvalidPrecondition, "orchestrator: pipeline %s buffer is %s", t.PipelineID, snap.State)
		}
		candidates = snap.Candidates
	}

	status, err := resilience.Call(ctx, d.guard, "calling", "start_calls", func(ctx context.Context) (string, error) {
		return d.svc.Calling.StartCalls(ctx, job.pipelineNum, candidates)
	})
	if err != nil {
		d.jobs.remove(job)
		return d.fail(store, t, err)
	}
	if status != calling.StatusStarted {
		d.jobs.remove(job)
		return d.fail(store, t, eris.Wrapf(model.ErrUpstreamUnavailable, "calling start_calls: unexpected status %q", status))
	}

	if err := d.markRunning(store, t); err != nil {
		d.jobs.remove(job)
		return d.fail(store, t, err)
	}
	d.startPolling(store, job)
	log.Info("orchestrator: calling run started", zap.Int("candidates", len(candidates)))
	return nil
}

// Interrupt stops a RUNNING calling component. The component is checked
// before the calling service is contacted, so an unknown or idle component
// changes nothing. If the service refuses the cancel, the state is left as is.
// INTERRUPTED only ever replaces RUNNING: a run that finished while the cancel
// was in flight keeps its final status and the interrupt is refused.
func (d *Dispatcher) Interrupt(ctx context.Context, sessionID, pipelineID string, index int) (model.Receipt, error) {
	store, err := d.sessions.Get(sessionID)
	if err != nil {
		return model.Receipt{}, err
	}
	comp, err := store.Component(pipelineID, index)
	if err != nil {
		return model.Receipt{}, err
	}
	if comp.Type != model.ComponentCalling {
		return model.Receipt{}, eris.Wrapf(model.ErrInvalidPrecondition, "orchestrator: component %d is %s, not calling", index, comp.Type)
	}
	if !comp.Interruptable {
		return model.Receipt{}, eris.Wrapf(model.ErrInvalidPrecondition, "orchestrator: component %d is not interruptable", index)
	}
	if comp.Status != model.StatusRunning {
		return model.Receipt{}, eris.Wrapf(model.ErrInvalidPrecondition, "orchestrator: component %d is %s, not running", index, comp.Status)
	}
	pipelineNum, err := pipelineNumber(pipelineID)
	if err != nil {
		return model.Receipt{}, err
	}

	status, err := resilience.Call(ctx, d.guard, "calling", "cancel", func(ctx context.Context) (string, error) {
		return d.svc.Calling.Cancel(ctx, pipelineNum)
	})
	if err != nil {
		return model.Receipt{}, err
	}
	if status != calling.StatusCancelled {
		return model.Receipt{}, eris.Wrapf(model.ErrUpstreamUnavailable, "calling cancel: unexpected status %q", status)
	}

	removed := d.jobs.removeKey(jobKey{session: sessionID, pipeline: pipelineID})
	receipt, err := d.recordInterrupt(store, pipelineID, index)
	if err != nil {
		return model.Receipt{}, err
	}
	zap.L().Info("orchestrator: calling run interrupted",
		zap.String("session", sessionID),
		zap.String("pipeline", pipelineID),
		zap.Int("component", index),
		zap.Bool("poll_job_removed", removed),
	)
	return receipt, nil
}

// recordInterrupt writes INTERRUPTED conditioned on the component still being
// RUNNING at the revision it was read at. A poll tick that lands in between
// bumps the revision, so the read is repeated.
func (d *Dispatcher) recordInterrupt(store *session.Store, pipelineID string, index int) (model.Receipt, error) {
	for {
		comp, err := store.Component(pipelineID, index)
		if err != nil {
			return model.Receipt{}, err
		}
		if comp.Status != model.StatusRunning {
			return model.Receipt{}, eris.Wrapf(model.ErrInvalidPrecondition,
				"orchestrator: component %d became %s before the interrupt was recorded", index, comp.Status)
		}
		receipt, err := d.publish(store, model.Update{
			PipelineID:     pipelineID,
			ComponentIndex: index,
			ComponentType:  model.ComponentCalling,
			Status:         model.StatusInterrupted,
			ExpectRevision: model.Revision(comp.Revision),
		})
		if errors.Is(err, model.ErrStale) {
			continue
		}
		return receipt, err
	}
}
