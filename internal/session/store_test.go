package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/recruit-orchestrator/internal/model"
)

func newPipeline(t *testing.T, s *Store, chain ...model.Component) string {
	t.Helper()
	p, err := s.CreatePipeline(chain)
	require.NoError(t, err)
	return p.ID
}

func found(t *testing.T, s *Store, pid string, idx int, recs ...model.CandidateRecord) {
	t.Helper()
	_, err := s.Apply(context.Background(), model.Update{
		PipelineID: pid, ComponentIndex: idx, Status: model.StatusCompleted, Candidates: &recs,
	})
	require.NoError(t, err)
}

func TestStore_CreatePipeline(t *testing.T) {
	t.Parallel()
	s := NewStore("s1")

	running := model.NewExtraction(2)
	running.Status = model.StatusRunning
	running.Revision = 9

	p, err := s.CreatePipeline([]model.Component{running, model.NewCalling()})
	require.NoError(t, err)
	assert.Equal(t, "0", p.ID)
	assert.Equal(t, model.StatusNotStarted, p.Chain[0].Status)
	assert.Zero(t, p.Chain[0].Revision)

	p2, err := s.CreatePipeline([]model.Component{model.NewCalling()})
	require.NoError(t, err)
	assert.Equal(t, "1", p2.ID)

	buf, err := s.Buffer(p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BufferPending, buf.State)

	_, err = s.CreatePipeline(nil)
	assert.True(t, errors.Is(err, model.ErrInvalidPrecondition))
	_, err = s.CreatePipeline([]model.Component{model.NewExtraction(0)})
	assert.Error(t, err)

	ids := []string{}
	for _, p := range s.Pipelines() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"0", "1"}, ids)
}

func TestStore_NotFound(t *testing.T) {
	t.Parallel()
	s := NewStore("s1")
	pid := newPipeline(t, s, model.NewCalling())

	_, err := s.Pipeline("7")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = s.Component(pid, 1)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = s.Component(pid, -1)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = s.Snapshot("7")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestStore_ApplyRevisions(t *testing.T) {
	t.Parallel()
	s := NewStore("s1")
	pid := newPipeline(t, s, model.NewCalling())

	r, err := s.Apply(context.Background(), model.Update{PipelineID: pid, Status: model.StatusRunning})
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotStarted, r.Previous)
	assert.Equal(t, model.StatusRunning, r.Current)
	assert.EqualValues(t, 1, r.Revision)

	_, err = s.Apply(context.Background(), model.Update{
		PipelineID: pid, Status: model.StatusCompleted, ExpectRevision: model.Revision(0),
	})
	assert.True(t, errors.Is(err, model.ErrStale))

	c, err := s.Component(pid, 0)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, c.Status)

	r, err = s.Apply(context.Background(), model.Update{
		PipelineID: pid, Status: model.StatusCompleted, ExpectRevision: model.Revision(1),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, r.Revision)
}

func TestStore_ApplyRejects(t *testing.T) {
	t.Parallel()
	s := NewStore("s1")
	pid := newPipeline(t, s, model.NewMatching("go", 1))

	_, err := s.Apply(context.Background(), model.Update{PipelineID: pid, Status: model.Status(9)})
	assert.True(t, errors.Is(err, model.ErrInvalidPrecondition))

	_, err = s.Apply(context.Background(), model.Update{
		PipelineID: pid, ComponentType: model.ComponentCalling, Status: model.StatusRunning,
	})
	assert.True(t, errors.Is(err, model.ErrInvalidPrecondition))

	found(t, s, pid, 0, model.CandidateRecord{ID: 1, PersonName: "Ada"})
	again := []model.CandidateRecord{}
	_, err = s.Apply(context.Background(), model.Update{PipelineID: pid, Status: model.StatusCompleted, Candidates: &again})
	assert.True(t, errors.Is(err, model.ErrInvalidPrecondition))

	buf, err := s.Buffer(pid)
	require.NoError(t, err)
	assert.Equal(t, model.BufferFound, buf.State)
}

func TestStore_ApprovalsDeduplicated(t *testing.T) {
	t.Parallel()
	s := NewStore("s1")
	pid := newPipeline(t, s, model.NewCalling())

	apply := func(statuses ...model.CallStatus) {
		_, err := s.Apply(context.Background(), model.Update{PipelineID: pid, Status: model.StatusRunning, CallStatuses: statuses})
		require.NoError(t, err)
	}
	apply(model.CallStatus{Name: "José", AcceptedCall: true, Approved: true}, model.CallStatus{Name: "Grace", AcceptedCall: false})
	// decomposed form of the same name
	apply(model.CallStatus{Name: "José ", AcceptedCall: true, Approved: true}, model.CallStatus{Name: "Grace", AcceptedCall: true})
	apply(model.CallStatus{Name: "  ", AcceptedCall: true})

	a, err := s.Approvals(pid)
	require.NoError(t, err)
	assert.Equal(t, []string{"José", "Grace"}, a.Screened)
	assert.Equal(t, []string{"José"}, a.ApprovedOffer)
}

func TestStore_ApplyStatusDelta(t *testing.T) {
	t.Parallel()
	s := NewStore("s1")
	pid := newPipeline(t, s, model.NewExtraction(1))

	yes, no := true, false
	r, err := s.ApplyStatusDelta(pid, 0, model.StatusDelta{NotStarted: &no, Failed: &yes})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, r.Current)

	_, err = s.ApplyStatusDelta(pid, 0, model.StatusDelta{Running: &yes})
	assert.True(t, errors.Is(err, model.ErrInvalidPrecondition))

	c, err := s.Component(pid, 0)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, c.Status)
	assert.EqualValues(t, 1, c.Revision)
}

func TestStore_FilterCandidates(t *testing.T) {
	t.Parallel()

	t.Run("by id and name", func(t *testing.T) {
		t.Parallel()
		s := NewStore("s1")
		pid := newPipeline(t, s, model.NewMatching("go", 3), model.NewCalling())
		found(t, s, pid, 0,
			model.CandidateRecord{ID: 1, PersonName: "Ada"},
			model.CandidateRecord{ID: 2, PersonName: "Grace"},
			model.CandidateRecord{ID: 3, PersonName: "Linus"},
		)

		removed, err := s.FilterCandidates(pid, 1, []int{1}, []string{" Linus "})
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		tr, err := s.Truncated(pid)
		require.NoError(t, err)
		assert.Equal(t, []string{"2 Grace"}, tr)

		c, err := s.Component(pid, 1)
		require.NoError(t, err)
		assert.True(t, c.Calling.Ready)
	})

	t.Run("no filters only marks ready", func(t *testing.T) {
		t.Parallel()
		s := NewStore("s1")
		pid := newPipeline(t, s, model.NewMatching("go", 1), model.NewCalling())
		found(t, s, pid, 0, model.CandidateRecord{ID: 1, PersonName: "Ada"})

		removed, err := s.FilterCandidates(pid, 1, nil, nil)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("rejects", func(t *testing.T) {
		t.Parallel()
		s := NewStore("s1")
		pid := newPipeline(t, s, model.NewMatching("go", 1), model.NewCalling())

		_, err := s.FilterCandidates(pid, 0, nil, nil)
		assert.True(t, errors.Is(err, model.ErrInvalidPrecondition), "not a calling component")

		_, err = s.FilterCandidates(pid, 1, []int{1}, nil)
		assert.True(t, errors.Is(err, model.ErrInvalidPrecondition), "buffer still pending")

		found(t, s, pid, 0, model.CandidateRecord{ID: 1, PersonName: "Ada"})
		_, err = s.FilterCandidates(pid, 1, []int{1}, nil)
		assert.True(t, errors.Is(err, model.ErrInvalidPrecondition), "would empty the buffer")
	})
}

func TestStore_Snapshot(t *testing.T) {
	t.Parallel()
	s := NewStore("s1")
	pid := newPipeline(t, s, model.NewMatching("go", 1), model.NewCalling())
	found(t, s, pid, 0, model.CandidateRecord{ID: 4, PersonName: "Ada"})

	snap, err := s.Snapshot(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, snap.Pipeline.ID)
	assert.Equal(t, model.BufferFound, snap.Buffer.State)
	assert.Equal(t, []string{"4 Ada"}, snap.Truncated)
	assert.Equal(t, model.StatusCompleted, snap.Pipeline.Chain[0].Status)
}

func TestStore_ConcurrentApply(t *testing.T) {
	t.Parallel()
	s := NewStore("s1")
	pid := newPipeline(t, s, model.NewCalling())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Apply(context.Background(), model.Update{PipelineID: pid, Status: model.StatusRunning})
		}()
	}
	wg.Wait()

	c, err := s.Component(pid, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 50, c.Revision)
}
