package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/recruit-orchestrator/internal/model"
	"github.com/sells-group/recruit-orchestrator/pkg/calling"
)

const settle = 2 * time.Second

// callingPipeline creates Matching → Calling with a Found buffer of n records.
func callingPipeline(t *testing.T, f *fixture, n int) (string, []model.CandidateRecord) {
	t.Helper()
	pid := f.pipeline(t, model.NewMatching("python developer", n), model.NewCalling())
	recs := records(n, 0)
	f.seedFound(t, pid, 0, recs)
	return pid, recs
}

func TestCalling_StartsRunAndPollsToCompletion(t *testing.T) {
	f := newFixture(t, testConfig())
	pid, recs := callingPipeline(t, f, 2)

	f.call.On("StartCalls", mock.Anything, 0, recs).Return(calling.StatusStarted, nil).Once()
	f.call.On("CheckStatus", mock.Anything, 0).Return(calls(false, "Ana", "Bo"), nil).Once()
	f.call.On("CheckStatus", mock.Anything, 0).Return(calls(true, "Ana", "Bo"), nil)

	ack := f.dispatch(t, pid, 1)
	require.NoError(t, f.wait(t, ack.TaskID))

	require.Eventually(t, func() bool { return !f.d.HasJob("s1", pid) }, settle, 5*time.Millisecond)
	assert.Equal(t, model.StatusCompleted, f.status(t, pid, 1))

	approvals, err := f.store.Approvals(pid)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana", "Bo"}, approvals.Screened)
	assert.Equal(t, []string{"Ana"}, approvals.ApprovedOffer)
	f.call.AssertExpectations(t)
}

func TestCalling_RunningWhileCallsInProgress(t *testing.T) {
	f := newFixture(t, testConfig())
	pid, _ := callingPipeline(t, f, 1)

	var ticks atomic.Int32
	f.call.On("StartCalls", mock.Anything, 0, mock.Anything).Return(calling.StatusStarted, nil)
	f.call.On("CheckStatus", mock.Anything, 0).Run(func(mock.Arguments) { ticks.Add(1) }).Return(calls(false, "Ana"), nil)

	ack := f.dispatch(t, pid, 1)
	require.NoError(t, f.wait(t, ack.TaskID))

	assert.Equal(t, model.StatusRunning, f.status(t, pid, 1))
	assert.True(t, f.d.HasJob("s1", pid))
	assert.Equal(t, 1, f.d.ActiveJobs())

	// Several ticks later the run is still going and still has one job.
	require.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, settle, 5*time.Millisecond)
	assert.Equal(t, model.StatusRunning, f.status(t, pid, 1))
	assert.Equal(t, 1, f.d.ActiveJobs())
}

func TestCalling_OverrideListSkipsBuffer(t *testing.T) {
	f := newFixture(t, testConfig())
	pid := f.pipeline(t, model.NewCalling())
	one := []model.CandidateRecord{{ID: 99, PersonName: "Direct Dial", TelephoneNumber: "+100"}}

	f.call.On("StartCalls", mock.Anything, 0, one).Return(calling.StatusStarted, nil)
	f.call.On("CheckStatus", mock.Anything, 0).Return(calls(true, "Direct Dial"), nil)

	ack, err := f.d.Dispatch(context.Background(), Request{SessionID: "s1", PipelineID: pid, ComponentIndex: 0, Candidates: one})
	require.NoError(t, err)
	require.NoError(t, f.wait(t, ack.TaskID))
	require.Eventually(t, func() bool { return f.status(t, pid, 0) == model.StatusCompleted }, settle, 5*time.Millisecond)
}

func TestCalling_StartFailureReleasesJob(t *testing.T) {
	f := newFixture(t, testConfig())
	pid, _ := callingPipeline(t, f, 1)

	f.call.On("StartCalls", mock.Anything, 0, mock.Anything).Return("", errors.New("twilio down"))

	ack := f.dispatch(t, pid, 1)
	err := f.wait(t, ack.TaskID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUpstreamUnavailable))
	assert.Equal(t, model.StatusFailed, f.status(t, pid, 1))
	assert.False(t, f.d.HasJob("s1", pid))
	f.call.AssertNotCalled(t, "CheckStatus", mock.Anything, mock.Anything)
}

func TestCalling_UnexpectedStartStatus(t *testing.T) {
	f := newFixture(t, testConfig())
	pid, _ := callingPipeline(t, f, 1)

	f.call.On("StartCalls", mock.Anything, 0, mock.Anything).Return("queued", nil)

	ack := f.dispatch(t, pid, 1)
	err := f.wait(t, ack.TaskID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUpstreamUnavailable))
	assert.False(t, f.d.HasJob("s1", pid))
}

func TestCalling_DuplicateJobRejected(t *testing.T) {
	f := newFixture(t, testConfig())
	pid := f.pipeline(t, model.NewMatching("go", 1), model.NewCalling(), model.NewCalling())
	f.seedFound(t, pid, 0, records(1, 0))

	f.call.On("StartCalls", mock.Anything, 0, mock.Anything).Return(calling.StatusStarted, nil)
	f.call.On("CheckStatus", mock.Anything, 0).Return(calls(false, "Candidate 0"), nil)

	ack := f.dispatch(t, pid, 1)
	require.NoError(t, f.wait(t, ack.TaskID))

	_, err := f.d.Dispatch(context.Background(), Request{SessionID: "s1", PipelineID: pid, ComponentIndex: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDuplicateJob))
	assert.Equal(t, model.StatusNotStarted, f.status(t, pid, 2))
	assert.Equal(t, 1, f.d.ActiveJobs())
}

func TestCalling_NonNumericPipelineID(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := f.d.Dispatch(context.Background(), Request{SessionID: "s1", PipelineID: "abc", ComponentIndex: 0})
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = pipelineNumber("abc")
	assert.True(t, errors.Is(err, model.ErrInvalidPrecondition))
}

func TestInterrupt_RunningCall(t *testing.T) {
	f := newFixture(t, testConfig())
	pid, _ := callingPipeline(t, f, 1)

	f.call.On("StartCalls", mock.Anything, 0, mock.Anything).Return(calling.StatusStarted, nil)
	f.call.On("CheckStatus", mock.Anything, 0).Return(calls(false, "Candidate 0"), nil)
	f.call.On("Cancel", mock.Anything, 0).Return(calling.StatusCancelled, nil).Once()

	ack := f.dispatch(t, pid, 1)
	require.NoError(t, f.wait(t, ack.TaskID))

	receipt, err := f.d.Interrupt(context.Background(), "s1", pid, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInterrupted, receipt.Current)
	flags := receipt.Current.Flags()
	assert.True(t, flags.Interrupted)
	assert.False(t, flags.Running)
	assert.False(t, flags.Completed)
	assert.False(t, f.d.HasJob("s1", pid))

	// No later tick may resurrect the run.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, model.StatusInterrupted, f.status(t, pid, 1))
	f.call.AssertExpectations(t)
}

func TestInterrupt_InFlightTickIsDiscarded(t *testing.T) {
	f := newFixture(t, testConfig())
	pid, _ := callingPipeline(t, f, 1)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.call.On("StartCalls", mock.Anything, 0, mock.Anything).Return(calling.StatusStarted, nil)
	// The status check ignores cancellation and answers late with a finished run.
	f.call.On("CheckStatus", mock.Anything, 0).Run(func(mock.Arguments) {
		once.Do(func() { close(inFlight) })
		<-release
	}).Return(calls(true, "Candidate 0"), nil)
	f.call.On("Cancel", mock.Anything, 0).Return(calling.StatusCancelled, nil)

	ack := f.dispatch(t, pid, 1)
	require.NoError(t, f.wait(t, ack.TaskID))

	select {
	case <-inFlight:
	case <-time.After(settle):
		t.Fatal("status check never started")
	}
	_, err := f.d.Interrupt(context.Background(), "s1", pid, 1)
	require.NoError(t, err)
	close(release)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, model.StatusInterrupted, f.status(t, pid, 1))
	approvals, err := f.store.Approvals(pid)
	require.NoError(t, err)
	assert.Empty(t, approvals.Screened)
}

func TestPollOnce_StaleRevisionDiscarded(t *testing.T) {
	f := newFixture(t, testConfig())
	pid, _ := callingPipeline(t, f, 1)

	_, err := f.store.Apply(context.Background(), model.Update{PipelineID: pid, ComponentIndex: 1, Status: model.StatusRunning})
	require.NoError(t, err)
	job, err := f.d.jobs.reserve(context.Background(), jobKey{session: "s1", pipeline: pid}, 1, 0)
	require.NoError(t, err)

	// The interrupt lands while the check is in flight but before the job is
	// deregistered; only the revision check can catch the late result.
	f.call.On("CheckStatus", mock.Anything, 0).Run(func(mock.Arguments) {
		_, err := f.store.Apply(context.Background(), model.Update{PipelineID: pid, ComponentIndex: 1, Status: model.StatusInterrupted})
		require.NoError(t, err)
	}).Return(calls(true, "Candidate 0"), nil)

	stop, err := f.d.pollOnce(f.store, job)
	require.NoError(t, err)
	assert.True(t, stop)
	assert.Equal(t, model.StatusInterrupted, f.status(t, pid, 1))
	assert.False(t, f.d.jobs.active(job))
}

func TestPollOnce_DeregisteredJobIsNoop(t *testing.T) {
	f := newFixture(t, testConfig())
	pid, _ := callingPipeline(t, f, 1)

	job, err := f.d.jobs.reserve(context.Background(), jobKey{session: "s1", pipeline: pid}, 1, 0)
	require.NoError(t, err)
	require.True(t, f.d.jobs.remove(job))

	stop, err := f.d.pollOnce(f.store, job)
	require.NoError(t, err)
	assert.True(t, stop)
	f.call.AssertNotCalled(t, "CheckStatus", mock.Anything, mock.Anything)
}

func TestInterrupt_Preconditions(t *testing.T) {
	f := newFixture(t, testConfig())
	pid := f.pipeline(t, model.NewExtraction(1), model.NewCalling())

	tests := []struct {
		name    string
		session string
		pid     string
		index   int
		wantErr error
	}{
		{name: "unknown_session", session: "zzz", pid: pid, index: 1, wantErr: model.ErrNotFound},
		{name: "unknown_pipeline", session: "s1", pid: "7", index: 1, wantErr: model.ErrNotFound},
		{name: "unknown_index", session: "s1", pid: pid, index: 5, wantErr: model.ErrNotFound},
		{name: "not_calling", session: "s1", pid: pid, index: 0, wantErr: model.ErrInvalidPrecondition},
		{name: "not_running", session: "s1", pid: pid, index: 1, wantErr: model.ErrInvalidPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.d.Interrupt(context.Background(), tt.session, tt.pid, tt.index)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
	f.call.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
	assert.Equal(t, model.StatusNotStarted, f.status(t, pid, 1))
}

func TestInterrupt_CancelFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, testConfig())
	pid, _ := callingPipeline(t, f, 1)

	f.call.On("StartCalls", mock.Anything, 0, mock.Anything).Return(calling.StatusStarted, nil)
	f.call.On("CheckStatus", mock.Anything, 0).Return(calls(false, "Candidate 0"), nil)
	f.call.On("Cancel", mock.Anything, 0).Return("", errors.New("calling service unreachable"))

	ack := f.dispatch(t, pid, 1)
	require.NoError(t, f.wait(t, ack.TaskID))

	_, err := f.d.Interrupt(context.Background(), "s1", pid, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUpstreamUnavailable))
	assert.Equal(t, model.StatusRunning, f.status(t, pid, 1))
	assert.True(t, f.d.HasJob("s1", pid))
}

func TestInterrupt_ThenRedispatch(t *testing.T) {
	f := newFixture(t, testConfig())
	pid, _ := callingPipeline(t, f, 1)

	f.call.On("StartCalls", mock.Anything, 0, mock.Anything).Return(calling.StatusStarted, nil)
	f.call.On("CheckStatus", mock.Anything, 0).Return(calls(false, "Candidate 0"), nil)
	f.call.On("Cancel", mock.Anything, 0).Return(calling.StatusCancelled, nil)

	ack := f.dispatch(t, pid, 1)
	require.NoError(t, f.wait(t, ack.TaskID))
	_, err := f.d.Interrupt(context.Background(), "s1", pid, 1)
	require.NoError(t, err)

	ack = f.dispatch(t, pid, 1)
	require.NoError(t, f.wait(t, ack.TaskID))
	assert.Equal(t, model.StatusRunning, f.status(t, pid, 1))
	assert.Equal(t, 1, f.d.ActiveJobs())
}

func TestPoller_RepeatedFailuresMarkFailed(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPollFailures = 2
	f := newFixture(t, cfg)
	pid, _ := callingPipeline(t, f, 1)

	f.call.On("StartCalls", mock.Anything, 0, mock.Anything).Return(calling.StatusStarted, nil)
	f.call.On("CheckStatus", mock.Anything, 0).Return(nil, errors.New("502 bad gateway"))

	ack := f.dispatch(t, pid, 1)
	require.NoError(t, f.wait(t, ack.TaskID))

	require.Eventually(t, func() bool { return !f.d.HasJob("s1", pid) }, settle, 5*time.Millisecond)
	assert.Equal(t, model.StatusFailed, f.status(t, pid, 1))
}

func TestEndSession_RemovesJobs(t *testing.T) {
	f := newFixture(t, testConfig())
	pid, _ := callingPipeline(t, f, 1)

	f.call.On("StartCalls", mock.Anything, 0, mock.Anything).Return(calling.StatusStarted, nil)
	f.call.On("CheckStatus", mock.Anything, 0).Return(calls(false, "Candidate 0"), nil)

	ack := f.dispatch(t, pid, 1)
	require.NoError(t, f.wait(t, ack.TaskID))
	require.Equal(t, 1, f.d.ActiveJobs())

	require.NoError(t, f.d.EndSession("s1"))
	assert.Zero(t, f.d.ActiveJobs())
	_, err := f.sessions.Get("s1")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.True(t, errors.Is(f.d.EndSession("s1"), model.ErrNotFound))
}

func TestRegistry(t *testing.T) {
	r := newRegistry()
	key := jobKey{session: "s1", pipeline: "0"}

	first, err := r.reserve(context.Background(), key, 2, 0)
	require.NoError(t, err)

	_, err = r.reserve(context.Background(), key, 2, 0)
	assert.True(t, errors.Is(err, model.ErrDuplicateJob))

	// Same pipeline id in another session is a different key.
	_, err = r.reserve(context.Background(), jobKey{session: "s2", pipeline: "0"}, 2, 0)
	require.NoError(t, err)

	assert.True(t, r.remove(first))
	assert.False(t, r.remove(first))
	assert.Error(t, first.ctx.Err())

	second, err := r.reserve(context.Background(), key, 2, 0)
	require.NoError(t, err)
	// A late removal of the old job leaves the new one alone.
	assert.False(t, r.remove(first))
	assert.True(t, r.active(second))

	assert.True(t, r.removeKey(key))
	assert.False(t, r.removeKey(key))
	assert.Equal(t, 1, r.removeSession("s2"))
	assert.Zero(t, r.len())
}

func TestRegistry_ConcurrentRemoveCollapses(t *testing.T) {
	for run := 0; run < 50; run++ {
		r := newRegistry()
		key := jobKey{session: "s1", pipeline: "3"}
		job, err := r.reserve(context.Background(), key, 0, 3)
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make(chan bool, 2)
		wg.Add(2)
		go func() { defer wg.Done(); results <- r.remove(job) }()
		go func() { defer wg.Done(); results <- r.removeKey(key) }()
		wg.Wait()
		close(results)

		removed := 0
		for ok := range results {
			if ok {
				removed++
			}
		}
		assert.Equal(t, 1, removed)
		assert.Zero(t, r.len())
	}
}

func TestInterrupt_RunFinishedDuringCancelKeepsCompleted(t *testing.T) {
	f := newFixture(t, testConfig())
	pid, _ := callingPipeline(t, f, 1)

	f.call.On("StartCalls", mock.Anything, 0, mock.Anything).Return(calling.StatusStarted, nil)
	f.call.On("CheckStatus", mock.Anything, 0).Return(calls(false, "Candidate 0"), nil)
	// The run finishes while the cancel request is in flight.
	f.call.On("Cancel", mock.Anything, 0).Run(func(mock.Arguments) {
		_, err := f.store.Apply(context.Background(), model.Update{PipelineID: pid, ComponentIndex: 1, Status: model.StatusCompleted})
		require.NoError(t, err)
	}).Return(calling.StatusCancelled, nil).Once()

	ack := f.dispatch(t, pid, 1)
	require.NoError(t, f.wait(t, ack.TaskID))
	require.Equal(t, model.StatusRunning, f.status(t, pid, 1))

	_, err := f.d.Interrupt(context.Background(), "s1", pid, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidPrecondition), "got %v", err)
	assert.Equal(t, model.StatusCompleted, f.status(t, pid, 1))
	assert.False(t, f.d.HasJob("s1", pid))
}
