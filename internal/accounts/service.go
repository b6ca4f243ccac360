// Package accounts manages linked accounts and their retention settings.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	serrors "github.com/p-blackswan/sweeper/internal/errors"
	"github.com/p-blackswan/sweeper/internal/models"
)

// Repository is the account persistence the service needs.
type Repository interface {
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	SaveAccount(ctx context.Context, a *models.Account) error
	ListAccounts(ctx context.Context, owner string) ([]models.Account, error)
	LogAudit(ctx context.Context, actor, action, resource, result, details string) error
}

// LatestPostFinder returns the id of an account's newest post.
type LatestPostFinder interface {
	LatestPostID(ctx context.Context, account models.Account) (int64, error)
}

// RetentionChange is a partial update of an account's retention policy. Nil
// fields are left unchanged.
type RetentionChange struct {
	Active *bool `json:"active,omitempty"`
	Hours  *int  `json:"retention_hours,omitempty"`
}

type actorKey struct{}

// WithActor tags ctx with the caller recorded in the audit log.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return "system"
}

// Service applies account lifecycle changes.
type Service struct {
	repo   Repository
	latest LatestPostFinder
	now    func() time.Time
	logger zerolog.Logger

	// serializes read-modify-write cycles on account rows
	mu sync.Mutex
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(repo Repository, latest LatestPostFinder, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		latest: latest,
		now:    time.Now,
		logger: logger.With().Str("component", "accounts").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Link creates an account or refreshes the credentials and screen name of an
// existing one. Owner and retention settings survive a relink.
func (s *Service) Link(ctx context.Context, owner string, socialID int64, screenName string, creds *models.Credentials) (*models.Account, error) {
	if socialID <= 0 {
		return nil, fmt.Errorf("social account id must be positive: %w", serrors.ErrInvalidInput)
	}
	if !creds.Present() {
		return nil, fmt.Errorf("access token is required: %w", serrors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.repo.GetAccount(ctx, socialID)
	action := "account.relink"
	switch {
	case err == nil:
	case errors.Is(err, serrors.ErrNotFound):
		action = "account.link"
		account = &models.Account{
			SocialAccountID: socialID,
			Owner:           owner,
			RetentionHours:  models.DefaultRetentionHours,
		}
	default:
		return nil, err
	}

	if screenName != "" {
		account.ScreenName = screenName
	}
	account.Credentials = creds

	if err := s.repo.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	s.audit(ctx, action, socialID, "")
	s.logger.Info().Int64("account_id", socialID).Str("owner", account.Owner).Str("action", action).Msg("account linked")
	return account, nil
}

// SetRetention applies a retention change. Enabling records the activation
// time and the newest post id as the floor; disabling clears both.
func (s *Service) SetRetention(ctx context.Context, socialID int64, change RetentionChange) (*models.Account, error) {
	if change.Hours != nil && *change.Hours <= 0 {
		return nil, fmt.Errorf("retention hours must be positive, got %d: %w", *change.Hours, serrors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.repo.GetAccount(ctx, socialID)
	if err != nil {
		return nil, err
	}

	log := s.logger.With().Int64("account_id", socialID).Logger()
	var details []string

	if change.Hours != nil && *change.Hours != account.RetentionHours {
		details = append(details, fmt.Sprintf("retention_hours %d -> %d", account.RetentionHours, *change.Hours))
		account.RetentionHours = *change.Hours
	}

	if change.Active != nil && *change.Active != account.Active {
		if *change.Active {
			account.Active = true
			account.ActivatedAt = s.now().UTC().Truncate(time.Millisecond)
			account.ActivatedStatusID = 0
			if s.latest != nil {
				id, err := s.latest.LatestPostID(ctx, *account)
				if err != nil {
					log.Warn().Err(err).Msg("could not read latest post, activating without id floor")
				} else {
					account.ActivatedStatusID = id
				}
			}
			details = append(details, fmt.Sprintf("enabled floor=%d", account.ActivatedStatusID))
		} else {
			account.Active = false
			account.ActivatedAt = time.Time{}
			account.ActivatedStatusID = 0
			details = append(details, "disabled")
		}
	}

	if len(details) == 0 {
		return account, nil
	}

	if err := s.repo.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	s.audit(ctx, "account.retention", socialID, strings.Join(details, "; "))
	log.Info().Strs("changes", details).Msg("retention updated")
	return account, nil
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, socialID int64) (*models.Account, error) {
	return s.repo.GetAccount(ctx, socialID)
}

// List returns the accounts of owner, or every account when owner is empty.
func (s *Service) List(ctx context.Context, owner string) ([]models.Account, error) {
	return s.repo.ListAccounts(ctx, owner)
}

func (s *Service) audit(ctx context.Context, action string, id int64, details string) {
	if err := s.repo.LogAudit(ctx, actorFrom(ctx), action, fmt.Sprintf("account:%d", id), "ok", details); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("failed to write audit log")
	}
}
