package store

import (
	"context"
	"fmt"
	"time"
)

// RunRetention removes sweep history and audit entries older than horizon.
// It returns the number of rows removed.
func (s *Store) RunRetention(ctx context.Context, horizon time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-horizon).UnixMilli()

	res, err := s.db.ExecContext(ctx, "DELETE FROM sweep_runs WHERE finished_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sweep runs: %w", err)
	}
	runs, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, "DELETE FROM audit_log WHERE created_at < ?", cutoff)
	if err != nil {
		return runs, fmt.Errorf("failed to delete old audit logs: %w", err)
	}
	audits, _ := res.RowsAffected()

	if removed := runs + audits; removed > 0 {
		s.logger.Info().Int64("sweep_runs", runs).Int64("audit_log", audits).Msg("retention pruned history")
	}
	return runs + audits, nil
}

// DBSizeBytes reports the allocated size of the database.
func (s *Store) DBSizeBytes(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var size int64
	err := s.db.QueryRowContext(ctx,
		`SELECT p.page_count * s.page_size FROM pragma_page_count() p, pragma_page_size() s`,
	).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("failed to read database size: %w", err)
	}
	return size, nil
}
