// Package names resolves current screen names for linked accounts.
package names

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/sweeper/internal/models"
	"github.com/p-blackswan/sweeper/internal/timeline"
	"github.com/p-blackswan/sweeper/lru"
)

// UserLookup fetches a public profile.
type UserLookup interface {
	LookupUser(ctx context.Context, userID int64) (timeline.User, error)
}

// ScreenNameStore persists a changed screen name.
type ScreenNameStore interface {
	UpdateScreenName(ctx context.Context, accountID int64, screenName string) error
}

// Resolver caches screen names and falls back to the stored one when the
// lookup fails. Names are for logging and notifications only.
type Resolver struct {
	lookup UserLookup
	store  ScreenNameStore
	cache  *lru.Cache[int64, string]
	logger zerolog.Logger
}

// NewResolver creates a Resolver. store may be nil.
func NewResolver(lookup UserLookup, store ScreenNameStore, size int, ttl time.Duration, logger zerolog.Logger) *Resolver {
	if size < 1 {
		size = 1
	}
	return &Resolver{
		lookup: lookup,
		store:  store,
		cache:  lru.New[int64, string](size, lru.WithTTL(ttl)),
		logger: logger.With().Str("component", "names").Logger(),
	}
}

// DisplayName returns the account's current screen name.
func (r *Resolver) DisplayName(ctx context.Context, account models.Account) string {
	id := account.SocialAccountID
	if name, ok := r.cache.Get(id); ok {
		return name
	}

	user, err := r.lookup.LookupUser(ctx, id)
	if err != nil || user.Username == "" {
		r.logger.Debug().Err(err).Int64("account_id", id).Msg("screen name lookup failed, using stored name")
		return account.ScreenName
	}

	r.cache.Put(id, user.Username)
	if r.store != nil && user.Username != account.ScreenName {
		if err := r.store.UpdateScreenName(ctx, id, user.Username); err != nil {
			r.logger.Warn().Err(err).Int64("account_id", id).Msg("failed to persist screen name")
		}
	}
	return user.Username
}

// Forget drops a cached name.
func (r *Resolver) Forget(accountID int64) {
	r.cache.Delete(accountID)
}

// Purge drops expired cache entries and returns how many were removed.
func (r *Resolver) Purge() int {
	return r.cache.Purge()
}
