// Package fleet sweeps every active account: the per-account worker that the
// dispatch engine runs, and the coordinator that fans out a fleet run and
// publishes its summary.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/sweeper/internal/dispatch"
	serrors "github.com/p-blackswan/sweeper/internal/errors"
	"github.com/p-blackswan/sweeper/internal/metrics"
	"github.com/p-blackswan/sweeper/internal/models"
	"github.com/p-blackswan/sweeper/internal/retention"
)

// AccountRepository loads accounts to sweep.
type AccountRepository interface {
	ListActive(ctx context.Context, limit int) ([]models.Account, error)
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
}

// OutcomeRecorder persists sweep outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, runID string, o retention.Outcome) error
}

// NameResolver returns an account's current display name.
type NameResolver interface {
	DisplayName(ctx context.Context, account models.Account) string
}

// Worker sweeps one account per call. Nothing escapes Sweep: missing
// accounts, read failures and panics all become outcomes.
type Worker struct {
	repo     AccountRepository
	source   retention.TimelineSource
	sweeper  *retention.Sweeper
	names    NameResolver
	recorder OutcomeRecorder
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   zerolog.Logger
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithNames resolves display names before each sweep.
func WithNames(n NameResolver) WorkerOption {
	return func(w *Worker) { w.names = n }
}

// WithRecorder persists every outcome.
func WithRecorder(r OutcomeRecorder) WorkerOption {
	return func(w *Worker) { w.recorder = r }
}

// WithMetrics records sweep metrics.
func WithMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// NewWorker creates a Worker.
func NewWorker(repo AccountRepository, source retention.TimelineSource, sweeper *retention.Sweeper, logger zerolog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		repo:    repo,
		source:  source,
		sweeper: sweeper,
		now:     time.Now,
		logger:  logger.With().Str("component", "fleet_worker").Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Execute implements dispatch.Executor.
func (w *Worker) Execute(ctx context.Context, job dispatch.Job) retention.Outcome {
	return w.Sweep(ctx, job.AccountID, job.RunID)
}

// Sweep loads the account and runs one retention sweep over it.
func (w *Worker) Sweep(ctx context.Context, accountID int64, runID string) (out retention.Outcome) {
	started := w.now()
	log := w.logger.With().Int64("account_id", accountID).Str("run_id", runID)
	if taskID := dispatch.TaskIDFromContext(ctx); taskID != "" {
		log = log.Str("task_id", taskID)
	}
	logger := log.Logger()

	// progress survives a panic in the sweep, so committed deletions are
	// still reported.
	progress := retention.Outcome{AccountID: accountID, StartedAt: started}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Int("deleted", progress.PostsDeleted).
				Str("stack", string(debug.Stack())).
				Msg("sweep panicked")
			out = progress
			out.Reason = retention.ReasonError
			out.Err = fmt.Sprintf("panic: %v", r)
			out.FinishedAt = w.now()
		}
		w.finish(ctx, logger, runID, out)
	}()

	account, err := w.repo.GetAccount(ctx, accountID)
	if err != nil {
		out = retention.Outcome{AccountID: accountID, Err: err.Error(), StartedAt: started, FinishedAt: w.now()}
		if errors.Is(err, serrors.ErrNotFound) {
			logger.Warn().Msg("account not found, skipping")
			out.Reason = retention.ReasonSkipped
		} else {
			logger.Error().Err(err).Msg("failed to load account")
			out.Reason = retention.ReasonError
		}
		return out
	}

	if w.names != nil {
		account.ScreenName = w.names.DisplayName(ctx, *account)
	}
	w.sweeper.SweepInto(ctx, *account, w.source, &progress)
	return progress
}

func (w *Worker) finish(ctx context.Context, logger zerolog.Logger, runID string, out retention.Outcome) {
	if w.metrics != nil {
		w.metrics.RecordSweep(out)
	}
	if w.recorder == nil {
		return
	}
	// Record even when the sweep itself was cancelled.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.recorder.RecordOutcome(recCtx, runID, out); err != nil {
		logger.Warn().Err(err).Msg("failed to record outcome")
		if w.metrics != nil {
			w.metrics.RecordError("store", "record_outcome")
		}
	}
}
