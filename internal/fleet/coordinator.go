package fleet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/sweeper/internal/dispatch"
	"github.com/p-blackswan/sweeper/internal/metrics"
	"github.com/p-blackswan/sweeper/internal/notify"
	"github.com/p-blackswan/sweeper/internal/retention"
)

// OriginFleet marks tasks submitted by a fleet run.
const OriginFleet = "fleet"

// ErrRunActive is returned when a fleet run is already in progress.
var ErrRunActive = errors.New("fleet sweep already running")

// Dispatcher queues single-account sweeps.
type Dispatcher interface {
	SubmitRun(accountID int64, origin, runID string) (*dispatch.Task, error)
	Wait(ctx context.Context, id string) (*dispatch.Task, error)
}

// Summary is the result of one fleet run.
type Summary struct {
	RunID             string              `json:"run_id"`
	StartedAt         time.Time           `json:"started_at"`
	FinishedAt        time.Time           `json:"finished_at"`
	AccountsProcessed int                 `json:"accounts_processed"`
	PostsDeleted      int                 `json:"posts_deleted"`
	Outcomes          []retention.Outcome `json:"outcomes"`
	Err               string              `json:"error,omitempty"`
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// MaxAccounts caps the accounts swept per run. Zero means all.
	MaxAccounts int
	// PublishTimeout bounds the notifier call.
	PublishTimeout time.Duration
}

// Coordinator runs fleet sweeps.
type Coordinator struct {
	repo       AccountRepository
	dispatcher Dispatcher
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	cfg        CoordinatorConfig
	now        func() time.Time
	logger     zerolog.Logger

	active atomic.Bool
	mu     sync.RWMutex
	last   *Summary
}

// NewCoordinator creates a Coordinator. notifier and m may be nil.
func NewCoordinator(cfg CoordinatorConfig, repo AccountRepository, dispatcher Dispatcher, notifier notify.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Coordinator {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}
	return &Coordinator{
		repo:       repo,
		dispatcher: dispatcher,
		notifier:   notifier,
		metrics:    m,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.With().Str("component", "fleet").Logger(),
	}
}

// Running reports whether a fleet run is in progress.
func (c *Coordinator) Running() bool { return c.active.Load() }

// Latest returns the last finished fleet run.
func (c *Coordinator) Latest() (Summary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return Summary{}, false
	}
	return *c.last, true
}

// Run sweeps every active account and blocks until all sweeps finish.
func (c *Coordinator) Run(ctx context.Context) Summary {
	if !c.active.CompareAndSwap(false, true) {
		now := c.now().UTC()
		return Summary{StartedAt: now, FinishedAt: now, Err: ErrRunActive.Error()}
	}
	defer c.active.Store(false)
	return c.run(ctx, uuid.New().String())
}

// Trigger starts a fleet run in the background and returns its id.
func (c *Coordinator) Trigger(ctx context.Context) (string, error) {
	if !c.active.CompareAndSwap(false, true) {
		return "", ErrRunActive
	}
	runID := uuid.New().String()
	go func() {
		defer c.active.Store(false)
		c.run(context.WithoutCancel(ctx), runID)
	}()
	return runID, nil
}

func (c *Coordinator) run(ctx context.Context, runID string) Summary {
	log := c.logger.With().Str("run_id", runID).Logger()
	sum := Summary{RunID: runID, StartedAt: c.now().UTC()}

	accounts, err := c.repo.ListActive(ctx, c.cfg.MaxAccounts)
	if err != nil {
		sum.Err = err.Error()
		sum.FinishedAt = c.now().UTC()
		log.Error().Err(err).Msg("failed to list active accounts")
		c.complete(sum)
		return sum
	}
	if c.metrics != nil {
		c.metrics.SetActiveAccounts(len(accounts))
	}
	log.Info().Int("accounts", len(accounts)).Msg("fleet sweep started")

	type pending struct {
		accountID int64
		taskID    string
	}
	var queued []pending
	sum.Outcomes = make([]retention.Outcome, 0, len(accounts))

	for _, a := range accounts {
		task, err := c.dispatcher.SubmitRun(a.SocialAccountID, OriginFleet, runID)
		if err == nil {
			queued = append(queued, pending{accountID: a.SocialAccountID, taskID: task.ID})
			continue
		}

		now := c.now().UTC()
		o := retention.Outcome{AccountID: a.SocialAccountID, Err: err.Error(), StartedAt: now, FinishedAt: now}
		if errors.Is(err, dispatch.ErrInFlight) {
			o.Reason = retention.ReasonSkipped
			log.Info().Int64("account_id", a.SocialAccountID).Msg("sweep already in flight, skipping")
		} else {
			o.Reason = retention.ReasonError
			log.Warn().Err(err).Int64("account_id", a.SocialAccountID).Msg("failed to dispatch sweep")
		}
		sum.Outcomes = append(sum.Outcomes, o)
	}

	for _, p := range queued {
		task, err := c.dispatcher.Wait(ctx, p.taskID)
		now := c.now().UTC()
		switch {
		case err != nil:
			sum.Outcomes = append(sum.Outcomes, retention.Outcome{
				AccountID: p.accountID, Reason: retention.ReasonError, Err: err.Error(), StartedAt: now, FinishedAt: now,
			})
		case task.Outcome == nil:
			sum.Outcomes = append(sum.Outcomes, retention.Outcome{
				AccountID: p.accountID, Reason: retention.ReasonError, Err: task.Error, StartedAt: now, FinishedAt: now,
			})
		default:
			sum.Outcomes = append(sum.Outcomes, *task.Outcome)
		}
	}

	sum.AccountsProcessed = len(sum.Outcomes)
	for _, o := range sum.Outcomes {
		sum.PostsDeleted += o.PostsDeleted
	}
	sum.FinishedAt = c.now().UTC()

	log.Info().
		Int("accounts", sum.AccountsProcessed).
		Int("deleted", sum.PostsDeleted).
		Dur("duration", sum.FinishedAt.Sub(sum.StartedAt)).
		Msg("fleet sweep finished")

	c.publish(ctx, sum, log)
	c.complete(sum)
	return sum
}

func (c *Coordinator) publish(ctx context.Context, sum Summary, log zerolog.Logger) {
	if c.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PublishTimeout)
	defer cancel()

	line := notify.StatusLine(sum.AccountsProcessed, sum.PostsDeleted, sum.FinishedAt)
	if err := c.notifier.Publish(ctx, line); err != nil {
		log.Warn().Err(err).Msg("failed to publish fleet status")
		if c.metrics != nil {
			c.metrics.RecordError("notify", "publish")
		}
	}
}

func (c *Coordinator) complete(sum Summary) {
	if c.metrics != nil {
		c.metrics.RecordFleetRun(sum.Err != "", sum.FinishedAt)
	}
	c.mu.Lock()
	c.last = &sum
	c.mu.Unlock()
}
