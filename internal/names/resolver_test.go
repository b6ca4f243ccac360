package names

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/p-blackswan/sweeper/internal/models"
	"github.com/p-blackswan/sweeper/internal/timeline"
	"github.com/p-blackswan/sweeper/lru"
)

type fakeLookup struct {
	mu    sync.Mutex
	names map[int64]string
	err   error
	calls int
}

func (f *fakeLookup) LookupUser(_ context.Context, id int64) (timeline.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return timeline.User{}, f.err
	}
	return timeline.User{ID: id, Username: f.names[id]}, nil
}

type fakeStore struct {
	updates map[int64]string
}

func (f *fakeStore) UpdateScreenName(_ context.Context, id int64, name string) error {
	if f.updates == nil {
		f.updates = map[int64]string{}
	}
	f.updates[id] = name
	return nil
}

func TestDisplayName_CachesLookups(t *testing.T) {
	lookup := &fakeLookup{names: map[int64]string{1: "alice"}}
	r := NewResolver(lookup, nil, 10, time.Hour, zerolog.Nop())
	account := models.Account{SocialAccountID: 1, ScreenName: "alice"}

	assert.Equal(t, "alice", r.DisplayName(context.Background(), account))
	assert.Equal(t, "alice", r.DisplayName(context.Background(), account))
	assert.Equal(t, 1, lookup.calls)
}

func TestDisplayName_FallsBackToStoredName(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("boom")}
	r := NewResolver(lookup, nil, 10, time.Hour, zerolog.Nop())

	got := r.DisplayName(context.Background(), models.Account{SocialAccountID: 1, ScreenName: "old"})
	assert.Equal(t, "old", got)

	// failures are not cached
	r.DisplayName(context.Background(), models.Account{SocialAccountID: 1, ScreenName: "old"})
	assert.Equal(t, 2, lookup.calls)
}

func TestDisplayName_PersistsRenames(t *testing.T) {
	lookup := &fakeLookup{names: map[int64]string{1: "new", 2: "same"}}
	store := &fakeStore{}
	r := NewResolver(lookup, store, 10, time.Hour, zerolog.Nop())

	assert.Equal(t, "new", r.DisplayName(context.Background(), models.Account{SocialAccountID: 1, ScreenName: "old"}))
	assert.Equal(t, "same", r.DisplayName(context.Background(), models.Account{SocialAccountID: 2, ScreenName: "same"}))

	assert.Equal(t, map[int64]string{1: "new"}, store.updates)
}

func TestForget(t *testing.T) {
	lookup := &fakeLookup{names: map[int64]string{1: "alice"}}
	r := NewResolver(lookup, nil, 10, time.Hour, zerolog.Nop())
	account := models.Account{SocialAccountID: 1}

	r.DisplayName(context.Background(), account)
	r.Forget(1)
	r.DisplayName(context.Background(), account)
	assert.Equal(t, 2, lookup.calls)
}

func TestPurge_EvictsOnlyExpiredNames(t *testing.T) {
	lookup := &fakeLookup{names: map[int64]string{1: "alice", 2: "bob"}}
	r := NewResolver(lookup, nil, 10, time.Hour, zerolog.Nop())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.cache = lru.New[int64, string](10, lru.WithTTL(time.Hour), lru.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	r.DisplayName(ctx, models.Account{SocialAccountID: 1})
	clock = clock.Add(45 * time.Minute)
	r.DisplayName(ctx, models.Account{SocialAccountID: 2})
	clock = clock.Add(30 * time.Minute)

	assert.Equal(t, 1, r.Purge())

	// bob is still fresh and served from the cache.
	r.DisplayName(ctx, models.Account{SocialAccountID: 2})
	assert.Equal(t, 2, lookup.calls)
	r.DisplayName(ctx, models.Account{SocialAccountID: 1})
	assert.Equal(t, 3, lookup.calls)
}
