package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/sweeper/internal/retention"
)

var (
	// ErrInFlight is returned when the account already has a pending or
	// running sweep. The existing task is returned alongside it.
	ErrInFlight = errors.New("sweep already in flight for account")
	// ErrQueueFull is returned when the task queue has no room.
	ErrQueueFull = errors.New("task queue is full")
	// ErrStopped is returned when the engine is not running.
	ErrStopped = errors.New("dispatch engine is not running")
)

type contextKey string

// TaskIDContextKey is the context key for passing task ID to executors.
const TaskIDContextKey contextKey = "task_id"

// TaskIDFromContext extracts the task ID from context.
func TaskIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(TaskIDContextKey).(string); ok {
		return v
	}
	return ""
}

// Executor runs one sweep. It must not panic and always returns an Outcome.
type Executor interface {
	Execute(ctx context.Context, job Job) retention.Outcome
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job Job) retention.Outcome

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job Job) retention.Outcome { return f(ctx, job) }

// Config holds configuration for the engine.
type Config struct {
	Workers    int
	QueueSize  int
	Timeout    time.Duration
	MaxHistory int
}

// Engine manages the lifecycle of sweep tasks.
type Engine struct {
	tasks    sync.Map // id → *Task
	taskList []*Task  // ordered list for iteration
	listMu   sync.RWMutex

	inflight   map[int64]*Task
	inflightMu sync.Mutex

	queue      chan *Task
	workers    int
	timeout    time.Duration
	maxHistory int
	executor   Executor
	logger     zerolog.Logger
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    atomic.Bool
}

// NewEngine creates a new engine.
func NewEngine(cfg Config, executor Executor, logger zerolog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}

	return &Engine{
		inflight:   make(map[int64]*Task),
		queue:      make(chan *Task, cfg.QueueSize),
		workers:    cfg.Workers,
		timeout:    cfg.Timeout,
		maxHistory: cfg.MaxHistory,
		executor:   executor,
		logger:     logger.With().Str("component", "dispatch").Logger(),
	}
}

// Start launches worker goroutines.
func (e *Engine) Start(ctx context.Context) {
	if e.running.Swap(true) {
		return // already running
	}

	ctx, e.cancel = context.WithCancel(ctx)

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}

	e.logger.Info().Int("workers", e.workers).Msg("dispatch engine started")
}

// Stop cancels running sweeps, waits for workers and fails queued tasks.
func (e *Engine) Stop() {
	if !e.running.Swap(false) {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	for {
		select {
		case task := <-e.queue:
			e.complete(task, TaskFailed, nil, ErrStopped.Error())
		default:
			e.logger.Info().Msg("dispatch engine stopped")
			return
		}
	}
}

// Running reports whether the engine accepts tasks.
func (e *Engine) Running() bool { return e.running.Load() }

// Submit enqueues a sweep of one account. The task's run id is its own id.
func (e *Engine) Submit(accountID int64, origin string) (*Task, error) {
	return e.SubmitRun(accountID, origin, "")
}

// SubmitRun enqueues a sweep that belongs to a larger run, such as a fleet
// sweep. An empty runID makes the task its own run.
func (e *Engine) SubmitRun(accountID int64, origin, runID string) (*Task, error) {
	if !e.running.Load() {
		return nil, ErrStopped
	}

	e.inflightMu.Lock()
	if existing, ok := e.inflight[accountID]; ok {
		e.inflightMu.Unlock()
		snap := existing.Snapshot()
		return &snap, fmt.Errorf("account %d: %w", accountID, ErrInFlight)
	}

	id := uuid.New().String()
	if runID == "" {
		runID = id
	}
	task := &Task{
		ID:        id,
		RunID:     runID,
		AccountID: accountID,
		Origin:    origin,
		Status:    TaskPending,
		CreatedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	e.inflight[accountID] = task
	e.inflightMu.Unlock()

	e.tasks.Store(task.ID, task)
	e.listMu.Lock()
	e.taskList = append(e.taskList, task)
	e.trimHistoryLocked()
	e.listMu.Unlock()

	// Take snapshot before enqueueing (worker may modify task immediately)
	snap := task.Snapshot()

	select {
	case e.queue <- task:
		e.logger.Debug().
			Str("task_id", task.ID).
			Int64("account_id", accountID).
			Str("origin", origin).
			Msg("sweep enqueued")
	default:
		e.complete(task, TaskFailed, nil, ErrQueueFull.Error())
		snap = task.Snapshot()
		return &snap, ErrQueueFull
	}

	return &snap, nil
}

// Get retrieves a task by ID. Returns a snapshot (copy) safe for concurrent use.
func (e *Engine) Get(id string) (*Task, bool) {
	val, ok := e.tasks.Load(id)
	if !ok {
		return nil, false
	}
	snap := val.(*Task).Snapshot()
	return &snap, true
}

// Wait blocks until the task reaches a terminal state or ctx ends.
func (e *Engine) Wait(ctx context.Context, id string) (*Task, error) {
	val, ok := e.tasks.Load(id)
	if !ok {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	task := val.(*Task)

	select {
	case <-task.done:
		snap := task.Snapshot()
		return &snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListQuery filters List.
type ListQuery struct {
	Status    string `query:"status"`
	AccountID int64  `query:"account_id"`
	Limit     int    `query:"limit"`
	Offset    int    `query:"offset"`
}

// List returns matching tasks newest first, with the total match count.
func (e *Engine) List(q ListQuery) ([]*Task, int) {
	e.listMu.RLock()
	defer e.listMu.RUnlock()

	var filtered []*Task
	for i := len(e.taskList) - 1; i >= 0; i-- {
		t := e.taskList[i]
		t.mu.RLock()
		status, accountID := t.Status, t.AccountID
		t.mu.RUnlock()

		if q.Status != "" && string(status) != q.Status {
			continue
		}
		if q.AccountID != 0 && accountID != q.AccountID {
			continue
		}
		filtered = append(filtered, t)
	}

	total := len(filtered)
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := max(q.Offset, 0)
	if offset >= total {
		return nil, total
	}
	end := min(offset+limit, total)

	result := make([]*Task, 0, end-offset)
	for _, t := range filtered[offset:end] {
		snap := t.Snapshot()
		result = append(result, &snap)
	}
	return result, total
}

// InFlight returns the number of accounts with a pending or running sweep.
func (e *Engine) InFlight() int {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	return len(e.inflight)
}

// QueueDepth returns the number of queued tasks.
func (e *Engine) QueueDepth() int { return len(e.queue) }

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	log := e.logger.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("worker stopping")
			return
		case task := <-e.queue:
			if ctx.Err() != nil {
				e.complete(task, TaskFailed, nil, ErrStopped.Error())
				return
			}
			e.executeTask(ctx, task, log)
		}
	}
}

func (e *Engine) executeTask(ctx context.Context, task *Task, log zerolog.Logger) {
	now := time.Now().UTC()
	task.mu.Lock()
	task.Status = TaskRunning
	task.StartedAt = &now
	task.mu.Unlock()

	job := task.job()
	log.Debug().
		Str("task_id", job.TaskID).
		Int64("account_id", job.AccountID).
		Msg("executing sweep")

	taskCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	taskCtx = context.WithValue(taskCtx, TaskIDContextKey, job.TaskID)

	outcome := e.executor.Execute(taskCtx, job)

	status := TaskCompleted
	if outcome.Failed() {
		status = TaskFailed
	}
	e.complete(task, status, &outcome, outcome.Err)
}

// complete finalizes the task and releases the account's in-flight slot.
func (e *Engine) complete(task *Task, status TaskStatus, outcome *retention.Outcome, errMsg string) {
	e.inflightMu.Lock()
	if cur, ok := e.inflight[task.AccountID]; ok && cur == task {
		delete(e.inflight, task.AccountID)
	}
	e.inflightMu.Unlock()

	task.finish(status, outcome, errMsg)
}

// trimHistoryLocked drops the oldest finished tasks beyond maxHistory.
// Caller must hold listMu.
func (e *Engine) trimHistoryLocked() {
	excess := len(e.taskList) - e.maxHistory
	if excess <= 0 {
		return
	}

	kept := e.taskList[:0]
	for _, t := range e.taskList {
		if excess > 0 && t.status().Terminal() {
			e.tasks.Delete(t.ID)
			excess--
			continue
		}
		kept = append(kept, t)
	}
	clear(e.taskList[len(kept):])
	e.taskList = kept
}
