package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/recruit-orchestrator/internal/model"
)

// TaskState is the lifecycle of a dispatched task, separate from the
// component status it drives.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// Task is the handle of one launched executor.
type Task struct {
	ID             string
	SessionID      string
	PipelineID     string
	ComponentIndex int
	ComponentType  model.ComponentType
	StartedAt      time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	err        error
	finishedAt time.Time
}

// Done is closed when the executor returns.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the executor error once the task is done.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.finishedAt = time.Now()
	t.mu.Unlock()
	close(t.done)
}

func (t *Task) finishedBefore(cutoff time.Time) bool {
	select {
	case <-t.done:
	default:
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishedAt.Before(cutoff)
}

// TaskInfo is a serialisable view of a task.
type TaskInfo struct {
	ID             string              `json:"task_id"`
	SessionID      string              `json:"session_id"`
	PipelineID     string              `json:"index_of_pipeline"`
	ComponentIndex int                 `json:"index_of_component"`
	ComponentType  model.ComponentType `json:"component_type"`
	State          TaskState           `json:"state"`
	Error          string              `json:"error,omitempty"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     *time.Time          `json:"finished_at,omitempty"`
}

// Info snapshots the task.
func (t *Task) Info() TaskInfo {
	info := TaskInfo{
		ID:             t.ID,
		SessionID:      t.SessionID,
		PipelineID:     t.PipelineID,
		ComponentIndex: t.ComponentIndex,
		ComponentType:  t.ComponentType,
		State:          TaskRunning,
		StartedAt:      t.StartedAt,
	}
	select {
	case <-t.done:
	default:
		return info
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	finished := t.finishedAt
	info.FinishedAt = &finished
	if t.err != nil {
		info.State = TaskFailed
		info.Error = t.err.Error()
	} else {
		info.State = TaskSucceeded
	}
	return info
}
