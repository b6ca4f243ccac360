// Package dispatch runs single-account sweeps on a bounded worker pool and
// guarantees that at most one sweep per account is pending or running.
package dispatch

import (
	"sync"
	"time"

	"github.com/p-blackswan/sweeper/internal/retention"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Job is what an Executor receives for one task.
type Job struct {
	TaskID    string
	RunID     string
	AccountID int64
	Origin    string
}

// Task is one queued sweep of one account.
type Task struct {
	mu          sync.RWMutex
	ID          string             `json:"id"`
	RunID       string             `json:"run_id"`
	AccountID   int64              `json:"account_id"`
	Origin      string             `json:"origin"`
	Status      TaskStatus         `json:"status"`
	Outcome     *retention.Outcome `json:"outcome,omitempty"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`

	done chan struct{}
}

// Snapshot returns a copy of the task that is safe to read without holding locks.
func (t *Task) Snapshot() Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Task{
		ID:          t.ID,
		RunID:       t.RunID,
		AccountID:   t.AccountID,
		Origin:      t.Origin,
		Status:      t.Status,
		Outcome:     t.Outcome,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}

func (t *Task) job() Job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Job{TaskID: t.ID, RunID: t.RunID, AccountID: t.AccountID, Origin: t.Origin}
}

func (t *Task) status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// finish records the terminal state. It is called exactly once per task.
func (t *Task) finish(status TaskStatus, outcome *retention.Outcome, errMsg string) {
	now := time.Now().UTC()
	t.mu.Lock()
	t.Status = status
	t.Outcome = outcome
	t.Error = errMsg
	t.CompletedAt = &now
	t.mu.Unlock()
	close(t.done)
}
