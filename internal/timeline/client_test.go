package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/p-blackswan/sweeper/internal/errors"
	"github.com/p-blackswan/sweeper/internal/models"
	"github.com/p-blackswan/sweeper/internal/retry"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:     srv.URL,
		BearerToken: "app-token",
		Retry:       retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, zerolog.Nop())
}

func testAccount() models.Account {
	return models.Account{
		SocialAccountID: 42,
		Active:          true,
		RetentionHours:  48,
		Credentials:     &models.Credentials{AccessToken: "user-token"},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func postJSON(id int64, created time.Time) map[string]any {
	return map[string]any{
		"id":         fmt.Sprint(id),
		"text":       fmt.Sprintf("post %d", id),
		"created_at": created.Format(time.RFC3339),
	}
}

func TestListOwnPosts_Paginates(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /2/users/42/tweets", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		assert.Equal(t, "100", r.URL.Query().Get("max_results"))
		assert.Equal(t, "created_at", r.URL.Query().Get("tweet.fields"))
		assert.Equal(t, "900", r.URL.Query().Get("since_id"))

		switch r.URL.Query().Get("pagination_token") {
		case "":
			writeJSON(w, 200, map[string]any{
				"data": []any{postJSON(1003, now), postJSON(1002, now.Add(-time.Hour))},
				"meta": map[string]any{"result_count": 2, "next_token": "p2"},
			})
		case "p2":
			writeJSON(w, 200, map[string]any{
				"data": []any{postJSON(1001, now.Add(-2*time.Hour))},
				"meta": map[string]any{"result_count": 1},
			})
		default:
			t.Errorf("unexpected token %q", r.URL.Query().Get("pagination_token"))
		}
	})
	c := newTestClient(t, mux)

	var ids []int64
	for post, err := range c.ListOwnPosts(context.Background(), testAccount(), 900) {
		require.NoError(t, err)
		ids = append(ids, post.ID)
	}

	assert.Equal(t, []int64{1003, 1002, 1001}, ids)
	assert.Equal(t, int32(2), calls.Load())
}

func TestListOwnPosts_StopsFetchingWhenConsumerStops(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /2/users/42/tweets", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, 200, map[string]any{
			"data": []any{postJSON(5, time.Now()), postJSON(4, time.Now())},
			"meta": map[string]any{"next_token": "more"},
		})
	})
	c := newTestClient(t, mux)

	for _, err := range c.ListOwnPosts(context.Background(), testAccount(), 0) {
		require.NoError(t, err)
		break
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestListOwnPosts_OmitsSinceIDWhenZero(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /2/users/42/tweets", func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("since_id"))
		writeJSON(w, 200, map[string]any{"meta": map[string]any{"result_count": 0}})
	})
	c := newTestClient(t, mux)

	n := 0
	for _, err := range c.ListOwnPosts(context.Background(), testAccount(), 0) {
		require.NoError(t, err)
		n++
	}
	assert.Zero(t, n)
}

func TestListOwnPosts_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /2/users/42/tweets", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, 503, map[string]any{"title": "Service Unavailable"})
			return
		}
		writeJSON(w, 200, map[string]any{"data": []any{postJSON(7, time.Now())}})
	})
	c := newTestClient(t, mux)

	var ids []int64
	for post, err := range c.ListOwnPosts(context.Background(), testAccount(), 0) {
		require.NoError(t, err)
		ids = append(ids, post.ID)
	}
	assert.Equal(t, []int64{7}, ids)
	assert.Equal(t, int32(2), calls.Load())
}

func TestListOwnPosts_AuthFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /2/users/42/tweets", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, 401, map[string]any{"title": "Unauthorized", "detail": "Unauthorized"})
	})
	c := newTestClient(t, mux)

	var got error
	for _, err := range c.ListOwnPosts(context.Background(), testAccount(), 0) {
		got = err
	}
	require.Error(t, got)
	assert.True(t, errors.Is(got, serrors.ErrAuthFailure))
	assert.Equal(t, 401, serrors.StatusCode(got))
	assert.Equal(t, int32(1), calls.Load())
}

func TestListOwnPosts_NoCredentials(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	account := testAccount()
	account.Credentials = nil

	var got error
	for _, err := range c.ListOwnPosts(context.Background(), account, 0) {
		got = err
	}
	assert.ErrorIs(t, got, serrors.ErrAuthFailure)
}

func TestDeletePost(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /2/tweets/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		switch r.PathValue("id") {
		case "1":
			writeJSON(w, 200, map[string]any{"data": map[string]any{"deleted": true}})
		case "2":
			writeJSON(w, 200, map[string]any{"data": map[string]any{"deleted": false}})
		default:
			writeJSON(w, 404, map[string]any{"errors": []any{map[string]any{"message": "gone"}}})
		}
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	require.NoError(t, c.DeletePost(ctx, testAccount(), 1))
	assert.Error(t, c.DeletePost(ctx, testAccount(), 2))

	err := c.DeletePost(ctx, testAccount(), 3)
	assert.ErrorIs(t, err, serrors.ErrNotFound)
	assert.Contains(t, err.Error(), "gone")
}

func TestLatestPostID(t *testing.T) {
	var empty atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /2/users/42/tweets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("max_results"))
		if empty.Load() {
			writeJSON(w, 200, map[string]any{"meta": map[string]any{"result_count": 0}})
			return
		}
		writeJSON(w, 200, map[string]any{"data": []any{postJSON(555, time.Now()), postJSON(554, time.Now())}})
	})
	c := newTestClient(t, mux)

	id, err := c.LatestPostID(context.Background(), testAccount())
	require.NoError(t, err)
	assert.Equal(t, int64(555), id)

	empty.Store(true)
	id, err = c.LatestPostID(context.Background(), testAccount())
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestLookupUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /2/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer app-token", r.Header.Get("Authorization"))
		if r.PathValue("id") != "42" {
			writeJSON(w, 404, map[string]any{"title": "Not Found Error"})
			return
		}
		writeJSON(w, 200, map[string]any{"data": map[string]any{"id": "42", "username": "jack", "name": "Jack"}})
	})
	c := newTestClient(t, mux)

	u, err := c.LookupUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, User{ID: 42, Username: "jack", Name: "Jack"}, u)

	_, err = c.LookupUser(context.Background(), 7)
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func TestLookupUser_RequiresBearer(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, zerolog.Nop())
	_, err := c.LookupUser(context.Background(), 42)
	assert.ErrorIs(t, err, serrors.ErrAuthFailure)
}

func TestCreatePost(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /2/tweets", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["text"])
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		writeJSON(w, 201, map[string]any{"data": map[string]any{"id": "99", "text": "hello"}})
	})
	c := newTestClient(t, mux)

	id, err := c.CreatePost(context.Background(), &models.Credentials{AccessToken: "user-token"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)

	_, err = c.CreatePost(context.Background(), nil, "hello")
	assert.ErrorIs(t, err, serrors.ErrAuthFailure)
}
