package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/sweeper/internal/models"
)

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// Sweeper runs retention sweeps for single accounts.
//
// Sweeper holds no per-account state. Running two sweeps for the same account
// at once can delete past the cap; callers must serialize sweeps per account
// (see the dispatch package).
type Sweeper struct {
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(cfg Config, logger zerolog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With().Str("component", "sweeper").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep walks the account's timeline newest-first and deletes posts older
// than the retention window, stopping at the activation floor, at the
// deletion cap, or when the timeline runs out. Failures are reported in the
// Outcome, never returned.
func (s *Sweeper) Sweep(ctx context.Context, account models.Account, source TimelineSource) Outcome {
	var out Outcome
	s.SweepInto(ctx, account, source, &out)
	return out
}

// SweepInto is Sweep with the outcome kept in out as the sweep progresses.
// Counts in out are current after every post, even if the source panics.
func (s *Sweeper) SweepInto(ctx context.Context, account models.Account, source TimelineSource, out *Outcome) {
	*out = Outcome{AccountID: account.SocialAccountID, StartedAt: s.now()}
	log := s.logger.With().
		Int64("account_id", account.SocialAccountID).
		Str("screen_name", account.ScreenName).
		Logger()

	if err := CheckPreconditions(account); err != nil {
		log.Warn().Err(err).Msg("skipping sweep")
		out.Reason = ReasonSkipped
		out.Err = err.Error()
		out.FinishedAt = s.now()
		return
	}

	cutoff := Cutoff(out.StartedAt, account.RetentionHours)
	limit := s.cfg.deletionCap()
	attempts := 0
	out.Reason = ReasonExhausted

	log.Debug().
		Time("cutoff", cutoff).
		Time("activated_at", account.ActivatedAt).
		Int64("since_id", account.ActivatedStatusID).
		Int("cap", limit).
		Msg("sweep started")

walk:
	for post, err := range source.ListOwnPosts(ctx, account, account.ActivatedStatusID) {
		if err != nil {
			log.Error().Err(err).Int("deleted", out.PostsDeleted).Msg("timeline read failed")
			out.Reason = ReasonError
			out.Err = err.Error()
			break
		}
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Int("deleted", out.PostsDeleted).Msg("sweep cancelled")
			out.Reason = ReasonError
			out.Err = err.Error()
			break
		}
		// The source already bounds by since_id; this guards sources that don't.
		if account.ActivatedStatusID > 0 && post.ID <= account.ActivatedStatusID {
			out.Reason = ReasonFloor
			break
		}

		switch Decide(post, account, cutoff) {
		case Stop:
			out.Reason = ReasonFloor
			break walk
		case Keep:
			continue
		case Delete:
			attempts++
			if err := source.DeletePost(ctx, account, post.ID); err != nil {
				out.DeleteFailures++
				log.Warn().Err(err).Int64("post_id", post.ID).Msg("delete failed, continuing")
			} else {
				out.PostsDeleted++
				log.Info().
					Int64("post_id", post.ID).
					Time("created_at", post.CreatedAt).
					Str("text", post.Text).
					Msg("removed post")
			}
			if attempts >= limit {
				out.Reason = ReasonCap
				break walk
			}
		}
	}

	out.FinishedAt = s.now()
	log.Info().
		Str("reason", string(out.Reason)).
		Int("deleted", out.PostsDeleted).
		Int("delete_failures", out.DeleteFailures).
		Msg("sweep finished")
}
