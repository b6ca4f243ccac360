package timeline

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	serrors "github.com/p-blackswan/sweeper/internal/errors"
)

// User is the public profile of an X account.
type User struct {
	ID       int64
	Username string
	Name     string
}

// LookupUser fetches a public profile with the app bearer token.
func (c *Client) LookupUser(ctx context.Context, userID int64) (User, error) {
	if c.bearer == "" {
		return User{}, fmt.Errorf("looking up user %d: no bearer token: %w", userID, serrors.ErrAuthFailure)
	}

	var resp struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"data"`
	}
	hc := &http.Client{
		Timeout:   c.http.Timeout,
		Transport: bearerTransport{token: c.bearer, base: c.http.Transport},
	}
	if err := c.do(ctx, hc, http.MethodGet, fmt.Sprintf("/2/users/%d", userID), nil, &resp); err != nil {
		return User{}, fmt.Errorf("looking up user %d: %w", userID, err)
	}
	if resp.Data.Username == "" {
		return User{}, fmt.Errorf("looking up user %d: %w", userID, serrors.ErrNotFound)
	}

	id, err := strconv.ParseInt(resp.Data.ID, 10, 64)
	if err != nil {
		return User{}, fmt.Errorf("invalid user id %q: %w", resp.Data.ID, err)
	}
	return User{ID: id, Username: resp.Data.Username, Name: resp.Data.Name}, nil
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}
