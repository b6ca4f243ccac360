package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/sweeper/internal/fleet"
)

// FleetRunner runs one fleet sweep.
type FleetRunner interface {
	Run(ctx context.Context) fleet.Summary
}

// FleetJob sweeps the fleet. A run that overlaps a manually triggered one is
// not an error.
func FleetJob(runner FleetRunner) Job {
	return func(ctx context.Context) error {
		sum := runner.Run(ctx)
		switch {
		case sum.Err == fleet.ErrRunActive.Error():
			return nil
		case sum.Err != "":
			return errors.New(sum.Err)
		}
		return nil
	}
}

// Pruner removes history older than a horizon.
type Pruner interface {
	RunRetention(ctx context.Context, horizon time.Duration) (int64, error)
}

// Purger drops expired cache entries and reports how many went.
type Purger interface {
	Purge() int
}

// PruneJob trims sweep history and the audit log past horizon, then evicts
// display names whose TTL has run out. Fresh names stay cached.
func PruneJob(p Pruner, horizon time.Duration, names Purger, logger zerolog.Logger) Job {
	return func(ctx context.Context) error {
		deleted, err := p.RunRetention(ctx, horizon)
		if err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
		evicted := 0
		if names != nil {
			evicted = names.Purge()
		}
		logger.Info().Int64("deleted", deleted).Int("names_evicted", evicted).Dur("horizon", horizon).Msg("history pruned")
		return nil
	}
}
