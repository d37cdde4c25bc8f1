package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recruit-orchestrator/internal/model"
	"github.com/sells-group/recruit-orchestrator/internal/resilience"
	"github.com/sells-group/recruit-orchestrator/internal/session"
)

type jobKey struct {
	session  string
	pipeline string
}

// pollJob is one pipeline's recurring status check. Its context is cancelled
// when the job is removed from the registry.
type pollJob struct {
	key            jobKey
	componentIndex int
	pipelineNum    int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// registry maps (session, pipeline) to the active poll job. Insertion requires
// the key to be free; removal compares job identity so a late removal never
// drops a newer job.
type registry struct {
	mu   sync.Mutex
	jobs map[jobKey]*pollJob
}

func newRegistry() *registry {
	return &registry{jobs: make(map[jobKey]*pollJob)}
}

// reserve registers a new job for key or fails with ErrDuplicateJob.
func (r *registry) reserve(parent context.Context, key jobKey, componentIndex, pipelineNum int) (*pollJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[key]; ok {
		return nil, eris.Wrapf(model.ErrDuplicateJob, "orchestrator: pipeline %s of session %s", key.pipeline, key.session)
	}
	ctx, cancel := context.WithCancel(parent)
	job := &pollJob{
		key:            key,
		componentIndex: componentIndex,
		pipelineNum:    pipelineNum,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	r.jobs[key] = job
	return job, nil
}

// active reports whether job is still the registered job for its key.
func (r *registry) active(job *pollJob) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[job.key] == job
}

func (r *registry) has(key jobKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[key]
	return ok
}

// remove deregisters job if it is still the active one. It reports whether
// this call did the removal; repeated calls are no-ops.
func (r *registry) remove(job *pollJob) bool {
	r.mu.Lock()
	cur, ok := r.jobs[job.key]
	if !ok || cur != job {
		r.mu.Unlock()
		return false
	}
	delete(r.jobs, job.key)
	r.mu.Unlock()
	job.cancel()
	return true
}

// removeKey deregisters whatever job holds key. A missing key is not an error.
func (r *registry) removeKey(key jobKey) bool {
	r.mu.Lock()
	job, ok := r.jobs[key]
	if ok {
		delete(r.jobs, key)
	}
	r.mu.Unlock()
	if ok {
		job.cancel()
	}
	return ok
}

// removeSession deregisters every job of a session and returns the count.
func (r *registry) removeSession(sessionID string) int {
	r.mu.Lock()
	var removed []*pollJob
	for key, job := range r.jobs {
		if key.session == sessionID {
			removed = append(removed, job)
			delete(r.jobs, key)
		}
	}
	r.mu.Unlock()
	for _, job := range removed {
		job.cancel()
	}
	return len(removed)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// doneChan returns the done channel of the job holding key, or nil.
func (r *registry) doneChan(key jobKey) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[key]; ok {
		return job.done
	}
	return nil
}

// startPolling runs the job loop in the background until the job is removed.
func (d *Dispatcher) startPolling(store *session.Store, job *pollJob) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(job.done)
		d.pollLoop(store, job)
	}()
}

func (d *Dispatcher) pollLoop(store *session.Store, job *pollJob) {
	log := zap.L().With(
		zap.String("session", job.key.session),
		zap.String("pipeline", job.key.pipeline),
		zap.Int("component", job.componentIndex),
	)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-job.ctx.Done():
			return
		case <-ticker.C:
		}

		stop, err := d.pollOnce(store, job)
		if stop {
			return
		}
		if err == nil {
			failures = 0
			continue
		}

		failures++
		log.Warn("orchestrator: status check failed", zap.Int("consecutive_failures", failures), zap.Error(err))
		if failures >= d.cfg.MaxPollFailures {
			d.abandonPoll(store, job, err)
			return
		}
	}
}

// pollOnce runs one tick. It returns stop=true once the job must end; a
// non-nil error with stop=false is a failed status check that may be retried
// on the next tick.
func (d *Dispatcher) pollOnce(store *session.Store, job *pollJob) (stop bool, err error) {
	if !d.jobs.active(job) {
		return true, nil
	}
	comp, err := store.Component(job.key.pipeline, job.componentIndex)
	if err != nil {
		d.jobs.remove(job)
		return true, nil
	}
	if comp.Status != model.StatusRunning {
		d.jobs.remove(job)
		return true, nil
	}
	rev := comp.Revision

	statuses, err := resilience.Call(job.ctx, d.guard, "calling", "check_status", func(ctx context.Context) ([]model.CallStatus, error) {
		return d.svc.Calling.CheckStatus(ctx, job.pipelineNum)
	})
	if err != nil {
		if job.ctx.Err() != nil {
			return true, nil
		}
		return false, err
	}
	// The job may have been removed while the call was in flight.
	if !d.jobs.active(job) {
		return true, nil
	}

	finished := model.AllFinished(statuses)
	stats := model.SummarizeCalls(statuses)
	next := model.StatusRunning
	if finished {
		next = model.StatusCompleted
	}
	_, err = d.publish(store, model.Update{
		PipelineID:     job.key.pipeline,
		ComponentIndex: job.componentIndex,
		ComponentType:  model.ComponentCalling,
		Status:         next,
		ExpectRevision: model.Revision(rev),
		FinishTask:     &finished,
		CallStatuses:   statuses,
		Stats:          &stats,
	})
	switch {
	case errors.Is(err, model.ErrStale):
		zap.L().Debug("orchestrator: discarded stale poll result",
			zap.String("session", job.key.session),
			zap.String("pipeline", job.key.pipeline),
		)
		d.jobs.remove(job)
		return true, nil
	case err != nil:
		zap.L().Error("orchestrator: record poll result", zap.String("pipeline", job.key.pipeline), zap.Error(err))
		d.jobs.remove(job)
		return true, nil
	}

	if finished {
		d.jobs.remove(job)
		zap.L().Info("orchestrator: calling run finished",
			zap.String("session", job.key.session),
			zap.String("pipeline", job.key.pipeline),
			zap.Int("total", stats.Total),
			zap.Int("accepted_offer", stats.AcceptedOffer),
		)
		return true, nil
	}
	return false, nil
}

// abandonPoll gives up on a run whose status cannot be read: the component
// goes FAILED unless something else changed it first, and the job is removed.
func (d *Dispatcher) abandonPoll(store *session.Store, job *pollJob, cause error) {
	defer d.jobs.remove(job)
	if !d.jobs.active(job) {
		return
	}
	comp, err := store.Component(job.key.pipeline, job.componentIndex)
	if err != nil || comp.Status != model.StatusRunning {
		return
	}
	_, err = d.publish(store, model.Update{
		PipelineID:     job.key.pipeline,
		ComponentIndex: job.componentIndex,
		ComponentType:  model.ComponentCalling,
		Status:         model.StatusFailed,
		ExpectRevision: model.Revision(comp.Revision),
	})
	if err != nil && !errors.Is(err, model.ErrStale) {
		zap.L().Error("orchestrator: record poll failure", zap.String("pipeline", job.key.pipeline), zap.Error(err))
		return
	}
	zap.L().Error("orchestrator: calling run abandoned after repeated status failures",
		zap.String("session", job.key.session),
		zap.String("pipeline", job.key.pipeline),
		zap.Error(cause),
	)
}
