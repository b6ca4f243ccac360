package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/sweeper/internal/fleet"
)

func noop(context.Context) error { return nil }

func TestAddJob_Validation(t *testing.T) {
	s := New(nil, 0, zerolog.Nop())

	assert.Error(t, s.AddJob("bad", "not a schedule", noop))
	require.NoError(t, s.AddJob("disabled", "", noop))
	require.NoError(t, s.AddJob("fleet", "0 * * * *", noop))
	assert.ErrorContains(t, s.AddJob("fleet", "5 * * * *", noop), "already scheduled")

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "fleet", jobs[0].Name)
}

func TestStartStop(t *testing.T) {
	s := New(time.UTC, 0, zerolog.Nop())
	assert.False(t, s.Running())

	s.Start(context.Background())
	assert.True(t, s.Running())
	s.Start(context.Background())

	s.Stop()
	assert.False(t, s.Running())
	s.Stop()
}

func TestJobsFire(t *testing.T) {
	var calls atomic.Int32
	s := New(time.UTC, time.Second, zerolog.Nop())
	require.NoError(t, s.AddJob("tick", "@every 1s", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		calls.Add(1)
		return errors.New("logged, not fatal")
	}))

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.False(t, s.Jobs()[0].NextRun.IsZero())
}

func TestStop_CancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	s := New(time.UTC, time.Minute, zerolog.Nop())
	require.NoError(t, s.AddJob("slow", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))
	s.Start(context.Background())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	s.Stop()
	assert.True(t, cancelled.Load())
}

type runnerFunc func(context.Context) fleet.Summary

func (f runnerFunc) Run(ctx context.Context) fleet.Summary { return f(ctx) }

func TestFleetJob(t *testing.T) {
	ok := runnerFunc(func(context.Context) fleet.Summary { return fleet.Summary{AccountsProcessed: 2} })
	assert.NoError(t, FleetJob(ok)(context.Background()))

	busy := runnerFunc(func(context.Context) fleet.Summary { return fleet.Summary{Err: fleet.ErrRunActive.Error()} })
	assert.NoError(t, FleetJob(busy)(context.Background()))

	broken := runnerFunc(func(context.Context) fleet.Summary { return fleet.Summary{Err: "database is locked"} })
	assert.EqualError(t, FleetJob(broken)(context.Background()), "database is locked")
}

type fakePruner struct {
	horizon time.Duration
	err     error
}

func (p *fakePruner) RunRetention(_ context.Context, horizon time.Duration) (int64, error) {
	p.horizon = horizon
	return 4, p.err
}

type fakePurger struct{ purged int }

func (p *fakePurger) Purge() int {
	p.purged++
	return 0
}

func TestPruneJob(t *testing.T) {
	p := &fakePruner{}
	names := &fakePurger{}
	job := PruneJob(p, 30*24*time.Hour, names, zerolog.Nop())

	require.NoError(t, job(context.Background()))
	assert.Equal(t, 30*24*time.Hour, p.horizon)
	assert.Equal(t, 1, names.purged)

	p.err = errors.New("disk I/O error")
	assert.ErrorContains(t, job(context.Background()), "disk I/O error")
	assert.Equal(t, 1, names.purged)
}
