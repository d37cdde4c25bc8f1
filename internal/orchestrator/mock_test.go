package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/recruit-orchestrator/internal/model"
	"github.com/sells-group/recruit-orchestrator/internal/notify"
	"github.com/sells-group/recruit-orchestrator/internal/resilience"
	"github.com/sells-group/recruit-orchestrator/internal/session"
	"github.com/sells-group/recruit-orchestrator/pkg/matching"
)

// --- Extraction Mock ---

type mockExtraction struct {
	mock.Mock
}

func (m *mockExtraction) FetchCandidates(ctx context.Context, count int) ([]model.CandidateRecord, error) {
	args := m.Called(ctx, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CandidateRecord), args.Error(1)
}

// --- Matching Mock ---

type mockMatching struct {
	mock.Mock
}

func (m *mockMatching) AddCandidates(ctx context.Context, records []model.CandidateRecord) error {
	return m.Called(ctx, records).Error(0)
}

func (m *mockMatching) Pool(ctx context.Context) ([]model.CandidateRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CandidateRecord), args.Error(1)
}

func (m *mockMatching) SearchBatch(ctx context.Context, query string, batch []model.CandidateRecord) ([]model.CandidateRecord, error) {
	args := m.Called(ctx, query, batch)
	if fn, ok := args.Get(0).(func([]model.CandidateRecord) []model.CandidateRecord); ok {
		return fn(batch), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CandidateRecord), args.Error(1)
}

func (m *mockMatching) Search(ctx context.Context, query string, count int) ([]matching.Batch, error) {
	args := m.Called(ctx, query, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]matching.Batch), args.Error(1)
}

// --- Calling Mock ---

type mockCalling struct {
	mock.Mock
}

func (m *mockCalling) StartCalls(ctx context.Context, pipelineID int, candidates []model.CandidateRecord) (string, error) {
	args := m.Called(ctx, pipelineID, candidates)
	return args.String(0), args.Error(1)
}

func (m *mockCalling) CheckStatus(ctx context.Context, pipelineID int) ([]model.CallStatus, error) {
	args := m.Called(ctx, pipelineID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CallStatus), args.Error(1)
}

func (m *mockCalling) Cancel(ctx context.Context, pipelineID int) (string, error) {
	args := m.Called(ctx, pipelineID)
	return args.String(0), args.Error(1)
}

// --- Fixture ---

type fixture struct {
	d        *Dispatcher
	sessions *session.Manager
	store    *session.Store
	ext      *mockExtraction
	match    *mockMatching
	call     *mockCalling
}

func testConfig() Config {
	return Config{
		MatchingMode:    MatchingLocal,
		BatchSize:       5,
		PollInterval:    10 * time.Millisecond,
		MaxPollFailures: 3,
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	sessions := session.NewManager()
	store, _, err := sessions.Create("s1")
	require.NoError(t, err)

	f := &fixture{
		sessions: sessions,
		store:    store,
		ext:      &mockExtraction{},
		match:    &mockMatching{},
		call:     &mockCalling{},
	}
	n := notify.New(nil, notify.Options{})
	f.d = New(cfg, sessions, Services{Extraction: f.ext, Matching: f.match, Calling: f.call},
		resilience.NewGuard(nil, resilience.NoRetry()), n)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.d.Shutdown(ctx)
		_ = n.Close(ctx)
	})
	return f
}

func (f *fixture) pipeline(t *testing.T, chain ...model.Component) string {
	t.Helper()
	p, err := f.d.CreatePipeline("s1", chain)
	require.NoError(t, err)
	return p.ID
}

// seedFound settles the pipeline's buffer as if matching had run.
func (f *fixture) seedFound(t *testing.T, pipelineID string, matchingIndex int, recs []model.CandidateRecord) {
	t.Helper()
	_, err := f.store.Apply(context.Background(), model.Update{
		PipelineID:     pipelineID,
		ComponentIndex: matchingIndex,
		Status:         model.StatusCompleted,
		Candidates:     &recs,
	})
	require.NoError(t, err)
}

func (f *fixture) status(t *testing.T, pipelineID string, index int) model.Status {
	t.Helper()
	c, err := f.store.Component(pipelineID, index)
	require.NoError(t, err)
	return c.Status
}

func (f *fixture) dispatch(t *testing.T, pipelineID string, index int) Ack {
	t.Helper()
	ack, err := f.d.Dispatch(context.Background(), Request{SessionID: "s1", PipelineID: pipelineID, ComponentIndex: index})
	require.NoError(t, err)
	return ack
}

func (f *fixture) wait(t *testing.T, taskID string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := f.d.Wait(ctx, taskID)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func records(n, offset int) []model.CandidateRecord {
	out := make([]model.CandidateRecord, n)
	for i := range out {
		id := offset + i
		out[i] = model.CandidateRecord{ID: id, PersonName: fmt.Sprintf("Candidate %d", id)}
	}
	return out
}

func calls(finished bool, names ...string) []model.CallStatus {
	out := make([]model.CallStatus, len(names))
	for i, n := range names {
		out[i] = model.CallStatus{Name: n, AcceptedCall: true, Approved: i == 0, FinishedCall: finished}
	}
	return out
}
