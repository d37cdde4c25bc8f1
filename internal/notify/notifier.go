// Package notify delivers component status changes to the two sinks: the
// authoritative session state and the best-effort observer dashboard.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recruit-orchestrator/internal/model"
	"github.com/sells-group/recruit-orchestrator/internal/resilience"
	"github.com/sells-group/recruit-orchestrator/pkg/dashboard"
)

// SessionSink applies an update to session state and acknowledges it
// synchronously. Its errors are returned to the publisher.
type SessionSink interface {
	Apply(ctx context.Context, u model.Update) (model.Receipt, error)
}

// DeltaSink overlays a raw flag delta on session state.
type DeltaSink interface {
	ApplyStatusDelta(pipelineID string, index int, delta model.StatusDelta) (model.Receipt, error)
}

// Options configures a Notifier.
type Options struct {
	// QueueSize bounds the observer queue. When full, events are dropped.
	QueueSize int
	// Timeout bounds each observer send.
	Timeout time.Duration
	// Guard wraps observer sends in a breaker and retry. Optional.
	Guard *resilience.Guard
}

type event struct {
	op   string
	send func(ctx context.Context) error
}

// Notifier publishes updates. Observer events leave through one ordered queue
// drained by a single goroutine, so they arrive in publish order and never
// block the publisher. Applying to the session sink and queueing the observer
// events happen under one lock, so observers see updates in the order session
// state took them. Sinks must not block.
type Notifier struct {
	observer dashboard.Client
	guard    *resilience.Guard
	timeout  time.Duration

	pubMu sync.Mutex

	mu     sync.Mutex
	closed bool
	queue  chan event
	done   chan struct{}
}

// New starts a notifier. A nil observer disables the dashboard sink.
func New(observer dashboard.Client, opts Options) *Notifier {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.Guard == nil {
		opts.Guard = resilience.NewGuard(nil, resilience.DefaultRetryConfig())
	}
	n := &Notifier{
		observer: observer,
		guard:    opts.Guard,
		timeout:  opts.Timeout,
		queue:    make(chan event, opts.QueueSize),
		done:     make(chan struct{}),
	}
	go n.drain()
	return n
}

// Publish applies u to the session sink and, once acknowledged, queues the
// matching observer events. A sink error is returned and nothing is sent to
// observers.
func (n *Notifier) Publish(ctx context.Context, sink SessionSink, u model.Update) (model.Receipt, error) {
	n.pubMu.Lock()
	defer n.pubMu.Unlock()

	receipt, err := sink.Apply(ctx, u)
	if err != nil {
		return model.Receipt{}, eris.Wrapf(err, "notify: apply update to pipeline %s component %d", u.PipelineID, u.ComponentIndex)
	}

	n.StatusChanged(u.PipelineID, u.ComponentIndex, receipt.Delta, u.Stats)
	if u.Candidates != nil {
		found := append([]model.CandidateRecord{}, (*u.Candidates)...)
		n.CandidatesFound(u.PipelineID, found)
	}
	return receipt, nil
}

// PublishDelta applies a raw status delta to the sink and queues the resulting
// status change for observers.
func (n *Notifier) PublishDelta(sink DeltaSink, pipelineID string, index int, delta model.StatusDelta) (model.Receipt, error) {
	n.pubMu.Lock()
	defer n.pubMu.Unlock()

	receipt, err := sink.ApplyStatusDelta(pipelineID, index, delta)
	if err != nil {
		return model.Receipt{}, eris.Wrapf(err, "notify: apply delta to pipeline %s component %d", pipelineID, index)
	}
	n.StatusChanged(pipelineID, index, receipt.Delta, nil)
	return receipt, nil
}

// StatusChanged tells observers about a status change that has already been
// applied to session state.
func (n *Notifier) StatusChanged(pipelineID string, componentIndex int, delta model.StatusDelta, stats *model.CallStats) {
	update := dashboard.StatusUpdate{
		PipelineID:     pipelineID,
		ComponentIndex: componentIndex,
		StateChanges:   delta,
		Stats:          stats,
	}
	n.enqueue("update_status", func(ctx context.Context) error {
		return n.observer.UpdateStatus(ctx, update)
	})
}

// PipelineCreated tells observers about a new pipeline.
func (n *Notifier) PipelineCreated(p model.Pipeline) {
	req := dashboard.PipelineBroadcast{PipelineID: p.ID, Pipeline: p}
	n.enqueue("broadcast_pipeline", func(ctx context.Context) error {
		return n.observer.BroadcastPipeline(ctx, req)
	})
}

// CandidatesFound tells observers about a matching result, including an empty one.
func (n *Notifier) CandidatesFound(pipelineID string, candidates []model.CandidateRecord) {
	req := dashboard.CandidatesBroadcast{PipelineID: pipelineID, Candidates: candidates, Count: len(candidates)}
	n.enqueue("broadcast_candidates", func(ctx context.Context) error {
		return n.observer.BroadcastCandidates(ctx, req)
	})
}

func (n *Notifier) enqueue(op string, send func(ctx context.Context) error) {
	if n.observer == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- event{op: op, send: send}:
	default:
		zap.L().Warn("notify: observer queue full, dropping event", zap.String("op", op))
	}
}

func (n *Notifier) drain() {
	defer close(n.done)
	for ev := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		_, err := resilience.Call(ctx, n.guard, "dashboard", ev.op, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, ev.send(ctx)
		})
		cancel()
		if err != nil {
			zap.L().Warn("notify: observer update failed", zap.String("op", ev.op), zap.Error(err))
		}
	}
}

// Close stops accepting observer events and waits for queued ones to be sent
// or for ctx to end.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
