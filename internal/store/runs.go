package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/p-blackswan/sweeper/internal/retention"
)

// SweepRun is one persisted sweep outcome.
type SweepRun struct {
	ID      int64             `json:"id"`
	RunID   string            `json:"run_id"`
	Outcome retention.Outcome `json:"outcome"`
}

// RecordOutcome appends a sweep outcome to the run history. runID is the
// fleet run id or the dispatch task id that produced it.
func (s *Store) RecordOutcome(ctx context.Context, runID string, o retention.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	started, finished := o.StartedAt, o.FinishedAt
	if finished.IsZero() {
		finished = s.now().UTC()
	}
	if started.IsZero() {
		started = finished
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO sweep_runs (
		run_id, account_id, posts_deleted, delete_failures, reason, error, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, o.AccountID, o.PostsDeleted, o.DeleteFailures, string(o.Reason),
		sql.NullString{String: o.Err, Valid: o.Err != ""},
		started.UnixMilli(), finished.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome for %d: %w", o.AccountID, err)
	}
	return nil
}

// ListRuns returns the most recent runs of an account, newest first.
func (s *Store) ListRuns(ctx context.Context, accountID int64, limit int) ([]SweepRun, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryRuns(ctx, `
	SELECT id, run_id, account_id, posts_deleted, delete_failures, reason, error, started_at, finished_at
	FROM sweep_runs WHERE account_id = ? ORDER BY finished_at DESC, id DESC LIMIT ?`,
		accountID, limit)
}

// ListRunsByRunID returns every outcome recorded under one run id.
func (s *Store) ListRunsByRunID(ctx context.Context, runID string) ([]SweepRun, error) {
	return s.queryRuns(ctx, `
	SELECT id, run_id, account_id, posts_deleted, delete_failures, reason, error, started_at, finished_at
	FROM sweep_runs WHERE run_id = ? ORDER BY id`,
		runID)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []SweepRun
	for rows.Next() {
		var (
			r                   SweepRun
			reason              string
			errMsg              sql.NullString
			startedAt, finished int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Outcome.AccountID, &r.Outcome.PostsDeleted,
			&r.Outcome.DeleteFailures, &reason, &errMsg, &startedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Outcome.Reason = retention.StopReason(reason)
		r.Outcome.Err = errMsg.String
		r.Outcome.StartedAt = fromMillis(sql.NullInt64{Int64: startedAt, Valid: true})
		r.Outcome.FinishedAt = fromMillis(sql.NullInt64{Int64: finished, Valid: true})
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
