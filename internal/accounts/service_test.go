package accounts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/p-blackswan/sweeper/internal/errors"
	"github.com/p-blackswan/sweeper/internal/models"
	"github.com/p-blackswan/sweeper/internal/store"
)

type fakeLatest struct {
	id    int64
	err   error
	calls int
}

func (f *fakeLatest) LatestPostID(context.Context, models.Account) (int64, error) {
	f.calls++
	return f.id, f.err
}

var testNow = time.Date(2024, 4, 10, 8, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, latest LatestPostFinder) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "accounts.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewService(st, latest, zerolog.Nop(), WithClock(func() time.Time { return testNow })), st
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int { return &i }

func creds() *models.Credentials {
	return &models.Credentials{AccessToken: "tok", RefreshToken: "ref"}
}

func TestLink_NewAccountDefaults(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	a, err := svc.Link(ctx, "owner-1", 42, "jack", creds())
	require.NoError(t, err)
	assert.False(t, a.Active)
	assert.Equal(t, models.DefaultRetentionHours, a.RetentionHours)

	got, err := svc.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "jack", got.ScreenName)
	assert.Equal(t, "tok", got.Credentials.AccessToken)
}

func TestLink_RelinkKeepsPolicy(t *testing.T) {
	svc, _ := newTestService(t, &fakeLatest{id: 500})
	ctx := context.Background()

	_, err := svc.Link(ctx, "owner-1", 42, "jack", creds())
	require.NoError(t, err)
	_, err = svc.SetRetention(ctx, 42, RetentionChange{Active: boolPtr(true), Hours: intPtr(12)})
	require.NoError(t, err)

	_, err = svc.Link(ctx, "owner-2", 42, "jack2", &models.Credentials{AccessToken: "new"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.Owner, "relink keeps the original owner")
	assert.True(t, got.Active)
	assert.Equal(t, 12, got.RetentionHours)
	assert.Equal(t, int64(500), got.ActivatedStatusID)
	assert.Equal(t, "jack2", got.ScreenName)
	assert.Equal(t, "new", got.Credentials.AccessToken)
}

func TestLink_RejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Link(ctx, "o", 0, "x", creds())
	assert.ErrorIs(t, err, serrors.ErrInvalidInput)

	_, err = svc.Link(ctx, "o", 1, "x", nil)
	assert.ErrorIs(t, err, serrors.ErrInvalidInput)
}

func TestSetRetention_EnableCapturesCheckpoint(t *testing.T) {
	latest := &fakeLatest{id: 9001}
	svc, _ := newTestService(t, latest)
	ctx := context.Background()

	_, err := svc.Link(ctx, "o", 42, "jack", creds())
	require.NoError(t, err)

	a, err := svc.SetRetention(ctx, 42, RetentionChange{Active: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, a.Active)
	assert.True(t, a.ActivatedAt.Equal(testNow))
	assert.Equal(t, int64(9001), a.ActivatedStatusID)

	stored, err := svc.Get(ctx, 42)
	require.NoError(t, err)
	assert.True(t, stored.ActivatedAt.Equal(testNow))

	// enabling an already active account is a no-op
	_, err = svc.SetRetention(ctx, 42, RetentionChange{Active: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, 1, latest.calls)
}

func TestSetRetention_EnableWithoutLatestPost(t *testing.T) {
	svc, _ := newTestService(t, &fakeLatest{err: errors.New("api down")})
	ctx := context.Background()

	_, err := svc.Link(ctx, "o", 42, "jack", creds())
	require.NoError(t, err)

	a, err := svc.SetRetention(ctx, 42, RetentionChange{Active: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, a.Active)
	assert.False(t, a.ActivatedAt.IsZero())
	assert.Zero(t, a.ActivatedStatusID)
}

func TestSetRetention_DisableClearsCheckpoint(t *testing.T) {
	svc, _ := newTestService(t, &fakeLatest{id: 10})
	ctx := context.Background()

	_, err := svc.Link(ctx, "o", 42, "jack", creds())
	require.NoError(t, err)
	_, err = svc.SetRetention(ctx, 42, RetentionChange{Active: boolPtr(true)})
	require.NoError(t, err)

	a, err := svc.SetRetention(ctx, 42, RetentionChange{Active: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, a.Active)
	assert.True(t, a.ActivatedAt.IsZero())
	assert.Zero(t, a.ActivatedStatusID)

	stored, err := svc.Get(ctx, 42)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.True(t, stored.ActivatedAt.IsZero())
}

func TestSetRetention_Hours(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Link(ctx, "o", 42, "jack", creds())
	require.NoError(t, err)

	a, err := svc.SetRetention(ctx, 42, RetentionChange{Hours: intPtr(72)})
	require.NoError(t, err)
	assert.Equal(t, 72, a.RetentionHours)
	assert.False(t, a.Active)

	_, err = svc.SetRetention(ctx, 42, RetentionChange{Hours: intPtr(0)})
	assert.ErrorIs(t, err, serrors.ErrInvalidInput)
	_, err = svc.SetRetention(ctx, 42, RetentionChange{Hours: intPtr(-3)})
	assert.ErrorIs(t, err, serrors.ErrInvalidInput)
}

func TestSetRetention_MissingAccount(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.SetRetention(context.Background(), 1, RetentionChange{Active: boolPtr(true)})
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func TestAuditRecordsActor(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := WithActor(context.Background(), "api:ops")

	_, err := svc.Link(ctx, "o", 42, "jack", creds())
	require.NoError(t, err)
	_, err = svc.SetRetention(ctx, 42, RetentionChange{Hours: intPtr(24)})
	require.NoError(t, err)

	entries, err := st.ListAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "account.retention", entries[0].Action)
	assert.Equal(t, "api:ops", entries[0].Actor)
	assert.Equal(t, "account.link", entries[1].Action)
}

func TestList(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Link(ctx, "a", 1, "one", creds())
	require.NoError(t, err)
	_, err = svc.Link(ctx, "b", 2, "two", creds())
	require.NoError(t, err)

	mine, err := svc.List(ctx, "b")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, int64(2), mine[0].SocialAccountID)
}
