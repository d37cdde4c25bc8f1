package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/recruit-orchestrator/internal/model"
	"github.com/sells-group/recruit-orchestrator/internal/resilience"
	"github.com/sells-group/recruit-orchestrator/internal/session"
)

// quota is the shared remaining-count of a matching run. The check and the
// decrement happen under one lock so concurrent batches can never claim more
// than the requested total.
type quota struct {
	mu        sync.Mutex
	remaining int
}

func newQuota(n int) *quota {
	return &quota{remaining: n}
}

// Remaining is an advisory read used to skip work early.
func (q *quota) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remaining
}

// claim takes up to want slots and returns how many were granted.
func (q *quota) claim(want int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if want <= 0 || q.remaining <= 0 {
		return 0
	}
	take := min(want, q.remaining)
	q.remaining -= take
	return take
}

// partition splits records into consecutive batches of at most size.
func partition(records []model.CandidateRecord, size int) [][]model.CandidateRecord {
	if size <= 0 {
		size = 1
	}
	var out [][]model.CandidateRecord
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		out = append(out, records[start:end])
	}
	return out
}

// runMatching searches the pool for spec.Count candidates and settles the
// buffer: Found with at most Count records, or NoMatch. An empty result is
// still COMPLETED; a search error is FAILED and leaves the buffer Pending. If
// the result cannot be recorded the component is marked FAILED instead of
// being left RUNNING.
func (d *Dispatcher) runMatching(ctx context.Context, store *session.Store, t *Task, spec model.MatchingSpec) error {
	log := zap.L().With(zap.String("task_id", t.ID), zap.String("pipeline", t.PipelineID), zap.Int("component", t.ComponentIndex))

	if err := d.markRunning(store, t); err != nil {
		return err
	}

	var (
		found []model.CandidateRecord
		err   error
	)
	if d.cfg.MatchingMode == MatchingRemote {
		found, err = d.matchRemote(ctx, spec)
	} else {
		found, err = d.matchLocal(ctx, spec)
	}
	if err != nil {
		return d.fail(store, t, err)
	}

	if _, err := d.publish(store, model.Update{
		PipelineID:     t.PipelineID,
		ComponentIndex: t.ComponentIndex,
		ComponentType:  model.ComponentMatching,
		Status:         model.StatusCompleted,
		Candidates:     &found,
	}); err != nil {
		return d.fail(store, t, err)
	}
	log.Info("orchestrator: matching complete",
		zap.String("mode", d.cfg.MatchingMode),
		zap.Int("requested", spec.Count),
		zap.Int("found", len(found)),
	)
	return nil
}

// matchLocal loads the pool and runs one search per batch, at most Count+2 at
// a time.
func (d *Dispatcher) matchLocal(ctx context.Context, spec model.MatchingSpec) ([]model.CandidateRecord, error) {
	pool, err := resilience.Call(ctx, d.guard, "matching", "get_pool", func(ctx context.Context) ([]model.CandidateRecord, error) {
		return d.svc.Matching.Pool(ctx)
	})
	if err != nil {
		return nil, err
	}

	batches := partition(pool, d.cfg.BatchSize)
	q := newQuota(spec.Count)
	claimed := make([][]model.CandidateRecord, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(spec.Count + 2)
	for i, batch := range batches {
		g.Go(func() error {
			if q.Remaining() == 0 {
				return nil
			}
			if d.limiter != nil {
				if err := d.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			hits, err := resilience.Call(gctx, d.guard, "matching", "search_batch", func(ctx context.Context) ([]model.CandidateRecord, error) {
				return d.svc.Matching.SearchBatch(ctx, spec.Query, batch)
			})
			if err != nil {
				return err
			}
			if n := q.claim(len(hits)); n > 0 {
				claimed[i] = hits[:n]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return collect(claimed, spec.Count), nil
}

// matchRemote lets the matching service run the batched search and applies
// the same quota to the batches it returns.
func (d *Dispatcher) matchRemote(ctx context.Context, spec model.MatchingSpec) ([]model.CandidateRecord, error) {
	batches, err := resilience.Call(ctx, d.guard, "matching", "search", func(ctx context.Context) ([][]model.CandidateRecord, error) {
		res, err := d.svc.Matching.Search(ctx, spec.Query, spec.Count)
		if err != nil {
			return nil, err
		}
		out := make([][]model.CandidateRecord, len(res))
		for i, b := range res {
			out[i] = b.Result
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	q := newQuota(spec.Count)
	claimed := make([][]model.CandidateRecord, len(batches))
	for i, hits := range batches {
		if n := q.claim(len(hits)); n > 0 {
			claimed[i] = hits[:n]
		}
	}
	return collect(claimed, spec.Count), nil
}

// collect flattens claimed batches in batch order, capped at limit. The result
// is never nil so an empty match still resolves the buffer.
func collect(claimed [][]model.CandidateRecord, limit int) []model.CandidateRecord {
	out := make([]model.CandidateRecord, 0, limit)
	for _, c := range claimed {
		out = append(out, c...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
