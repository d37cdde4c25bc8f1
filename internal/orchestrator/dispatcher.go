// Package orchestrator runs pipeline components as background tasks: it
// dispatches executors, polls in-flight calling runs and handles interrupts.
package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/recruit-orchestrator/internal/model"
	"github.com/sells-group/recruit-orchestrator/internal/notify"
	"github.com/sells-group/recruit-orchestrator/internal/resilience"
	"github.com/sells-group/recruit-orchestrator/internal/session"
	"github.com/sells-group/recruit-orchestrator/pkg/calling"
	"github.com/sells-group/recruit-orchestrator/pkg/extraction"
	"github.com/sells-group/recruit-orchestrator/pkg/matching"
)

// Matching modes.
const (
	MatchingLocal  = "local"
	MatchingRemote = "remote"
)

// Config tunes the dispatcher.
type Config struct {
	// MatchingMode is MatchingLocal (per-batch fan-out here) or MatchingRemote
	// (the matching service runs the batched search).
	MatchingMode string
	BatchSize    int
	// SearchRate caps per-batch searches per second. 0 means unlimited.
	SearchRate      float64
	PollInterval    time.Duration
	MaxPollFailures int
	// TaskRetention is how long a finished task stays queryable.
	TaskRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.MatchingMode == "" {
		c.MatchingMode = MatchingLocal
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.MaxPollFailures <= 0 {
		c.MaxPollFailures = 3
	}
	if c.TaskRetention <= 0 {
		c.TaskRetention = 15 * time.Minute
	}
	return c
}

// Services bundles the backend service clients.
type Services struct {
	Extraction extraction.Client
	Matching   matching.Client
	Calling    calling.Client
}

// Request asks for one component to be executed.
type Request struct {
	SessionID      string
	PipelineID     string
	ComponentIndex int
	// ComponentType, when set, must agree with the stored component.
	ComponentType model.ComponentType
	// Candidates overrides the buffer as the calling list.
	Candidates []model.CandidateRecord
}

// Ack is returned as soon as a task has been launched.
type Ack struct {
	TaskID         string              `json:"task_id"`
	SessionID      string              `json:"session_id"`
	PipelineID     string              `json:"index_of_pipeline"`
	ComponentIndex int                 `json:"index_of_component"`
	ComponentType  model.ComponentType `json:"component_type"`
}

type componentKey struct {
	session  string
	pipeline string
	index    int
}

// Dispatcher launches executors and owns the poll-job registry.
type Dispatcher struct {
	cfg      Config
	sessions *session.Manager
	svc      Services
	guard    *resilience.Guard
	notifier *notify.Notifier
	limiter  *rate.Limiter
	jobs     *registry

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	tasks   map[string]*Task
	running map[componentKey]string
}

// New creates a dispatcher. Tasks run under a context owned by the
// dispatcher, not the caller's, and stop on Shutdown.
func New(cfg Config, sessions *session.Manager, svc Services, guard *resilience.Guard, notifier *notify.Notifier) *Dispatcher {
	cfg = cfg.withDefaults()
	if guard == nil {
		guard = resilience.NewGuard(nil, resilience.NoRetry())
	}
	var limiter *rate.Limiter
	if cfg.SearchRate > 0 {
		burst := int(cfg.SearchRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SearchRate), burst)
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:      cfg,
		sessions: sessions,
		svc:      svc,
		guard:    guard,
		notifier: notifier,
		limiter:  limiter,
		jobs:     newRegistry(),
		baseCtx:  ctx,
		stop:     stop,
		tasks:    make(map[string]*Task),
		running:  make(map[componentKey]string),
	}
}

// CreatePipeline stores a new pipeline in the session and announces it to
// observers.
func (d *Dispatcher) CreatePipeline(sessionID string, chain []model.Component) (model.Pipeline, error) {
	store, err := d.sessions.Get(sessionID)
	if err != nil {
		return model.Pipeline{}, err
	}
	p, err := store.CreatePipeline(chain)
	if err != nil {
		return model.Pipeline{}, err
	}
	d.notifier.PipelineCreated(p)
	zap.L().Info("orchestrator: pipeline created",
		zap.String("session", sessionID),
		zap.String("pipeline", p.ID),
		zap.Int("components", len(p.Chain)),
	)
	return p, nil
}

// Dispatch validates req and starts the component's executor in the
// background. Validation failures are returned synchronously and launch
// nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	store, err := d.sessions.Get(req.SessionID)
	if err != nil {
		return Ack{}, err
	}
	comp, err := store.Component(req.PipelineID, req.ComponentIndex)
	if err != nil {
		return Ack{}, err
	}
	if req.ComponentType != "" && req.ComponentType != comp.Type {
		return Ack{}, eris.Wrapf(model.ErrInvalidPrecondition,
			"orchestrator: component %d is %s, not %s", req.ComponentIndex, comp.Type, req.ComponentType)
	}
	switch comp.Status {
	case model.StatusNotStarted, model.StatusFailed, model.StatusInterrupted:
	default:
		return Ack{}, eris.Wrapf(model.ErrInvalidPrecondition,
			"orchestrator: component %d is already %s", req.ComponentIndex, comp.Status)
	}

	var (
		plan    func(ctx context.Context, t *Task) error
		release = func() {}
	)
	switch comp.Type {
	case model.ComponentExtraction:
		spec := *comp.Extraction
		plan = func(ctx context.Context, t *Task) error { return d.runExtraction(ctx, store, t, spec) }
	case model.ComponentMatching:
		snap, err := store.Buffer(req.PipelineID)
		if err != nil {
			return Ack{}, err
		}
		if snap.State != model.BufferPending {
			return Ack{}, eris.Wrapf(model.ErrInvalidPrecondition,
				"orchestrator: pipeline %s already has matching results (buffer %s)", req.PipelineID, snap.State)
		}
		spec := *comp.Matching
		plan = func(ctx context.Context, t *Task) error { return d.runMatching(ctx, store, t, spec) }
	case model.ComponentCalling:
		plan, release, err = d.planCalling(store, req, comp)
		if err != nil {
			return Ack{}, err
		}
	default:
		return Ack{}, eris.Wrapf(model.ErrInvalidPrecondition, "orchestrator: unknown component type %q", comp.Type)
	}

	key := componentKey{session: req.SessionID, pipeline: req.PipelineID, index: req.ComponentIndex}
	t := d.launch(key, comp.Type, plan)
	if t == nil {
		release()
		return Ack{}, eris.Wrapf(model.ErrInvalidPrecondition,
			"orchestrator: component %d of pipeline %s already has a task in flight", req.ComponentIndex, req.PipelineID)
	}
	zap.L().Info("orchestrator: task dispatched",
		zap.String("task_id", t.ID),
		zap.String("session", req.SessionID),
		zap.String("pipeline", req.PipelineID),
		zap.Int("component", req.ComponentIndex),
		zap.String("type", string(comp.Type)),
	)
	return Ack{
		TaskID:         t.ID,
		SessionID:      req.SessionID,
		PipelineID:     req.PipelineID,
		ComponentIndex: req.ComponentIndex,
		ComponentType:  comp.Type,
	}, nil
}

// launch registers and starts a task, or returns nil when the component
// already has one in flight.
func (d *Dispatcher) launch(key componentKey, typ model.ComponentType, run func(ctx context.Context, t *Task) error) *Task {
	d.mu.Lock()
	if _, busy := d.running[key]; busy {
		d.mu.Unlock()
		return nil
	}
	d.pruneLocked(time.Now().Add(-d.cfg.TaskRetention))
	ctx, cancel := context.WithCancel(d.baseCtx)
	t := &Task{
		ID:             uuid.New().String(),
		SessionID:      key.session,
		PipelineID:     key.pipeline,
		ComponentIndex: key.index,
		ComponentType:  typ,
		StartedAt:      time.Now(),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	d.tasks[t.ID] = t
	d.running[key] = t.ID
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer cancel()
		err := run(ctx, t)

		d.mu.Lock()
		delete(d.running, key)
		d.mu.Unlock()
		t.finish(err)

		if err != nil {
			zap.L().Warn("orchestrator: task failed",
				zap.String("task_id", t.ID),
				zap.String("pipeline", t.PipelineID),
				zap.Int("component", t.ComponentIndex),
				zap.Error(err),
			)
		}
	}()
	return t
}

// pruneLocked drops tasks that finished before cutoff.
func (d *Dispatcher) pruneLocked(cutoff time.Time) {
	for id, t := range d.tasks {
		if t.finishedBefore(cutoff) {
			delete(d.tasks, id)
		}
	}
}

// Task returns the state of a dispatched task.
func (d *Dispatcher) Task(taskID string) (TaskInfo, error) {
	t, err := d.task(taskID)
	if err != nil {
		return TaskInfo{}, err
	}
	return t.Info(), nil
}

func (d *Dispatcher) task(taskID string) (*Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[taskID]
	if !ok {
		return nil, eris.Wrapf(model.ErrNotFound, "orchestrator: task %q", taskID)
	}
	return t, nil
}

// Wait blocks until the task finishes or ctx ends and returns the task error.
func (d *Dispatcher) Wait(ctx context.Context, taskID string) error {
	t, err := d.task(taskID)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndSession stops the session's tasks and poll jobs and discards its state.
func (d *Dispatcher) EndSession(sessionID string) error {
	if err := d.sessions.Delete(sessionID); err != nil {
		return err
	}
	removed := d.jobs.removeSession(sessionID)

	d.mu.Lock()
	for id, t := range d.tasks {
		if t.SessionID == sessionID {
			t.cancel()
			delete(d.tasks, id)
		}
	}
	d.mu.Unlock()

	zap.L().Info("orchestrator: session ended",
		zap.String("session", sessionID),
		zap.Int("poll_jobs_removed", removed),
	)
	return nil
}

// ActiveJobs returns the number of registered poll jobs.
func (d *Dispatcher) ActiveJobs() int {
	return d.jobs.len()
}

// HasJob reports whether a poll job is registered for the pipeline.
func (d *Dispatcher) HasJob(sessionID, pipelineID string) bool {
	return d.jobs.has(jobKey{session: sessionID, pipeline: pipelineID})
}

// Shutdown cancels every task and poll job and waits for them to return.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stop()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "orchestrator: shutdown")
	}
}

// publish sends u through the notifier. Session state is updated before
// publish returns.
func (d *Dispatcher) publish(store *session.Store, u model.Update) (model.Receipt, error) {
	u.SessionID = store.ID()
	return d.notifier.Publish(context.Background(), store, u)
}

// fail marks a component FAILED and returns cause.
func (d *Dispatcher) fail(store *session.Store, t *Task, cause error) error {
	if _, err := d.publish(store, model.Update{
		PipelineID:     t.PipelineID,
		ComponentIndex: t.ComponentIndex,
		ComponentType:  t.ComponentType,
		Status:         model.StatusFailed,
	}); err != nil {
		zap.L().Error("orchestrator: record failure",
			zap.String("task_id", t.ID),
			zap.String("pipeline", t.PipelineID),
			zap.Int("component", t.ComponentIndex),
			zap.Error(err),
		)
	}
	return cause
}

// markRunning records that the task's component started.
func (d *Dispatcher) markRunning(store *session.Store, t *Task) error {
	_, err := d.publish(store, model.Update{
		PipelineID:     t.PipelineID,
		ComponentIndex: t.ComponentIndex,
		ComponentType:  t.ComponentType,
		Status:         model.StatusRunning,
	})
	return err
}

// pipelineNumber converts a pipeline id to the integer the calling service
// keys runs by.
func pipelineNumber(pipelineID string) (int, error) {
	n, err := strconv.Atoi(pipelineID)
	if err != nil {
		return 0, eris.Wrapf(model.ErrInvalidPrecondition, "orchestrator: pipeline id %q is not numeric", pipelineID)
	}
	return n, nil
}

// ApplyStatusDelta overlays a raw flag delta on a component, for callers that
// drive status by hand. Observers see the change like any other.
func (d *Dispatcher) ApplyStatusDelta(sessionID, pipelineID string, index int, delta model.StatusDelta) (model.Receipt, error) {
	store, err := d.sessions.Get(sessionID)
	if err != nil {
		return model.Receipt{}, err
	}
	return d.notifier.PublishDelta(store, pipelineID, index, delta)
}
