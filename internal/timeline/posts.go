package timeline

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"time"

	serrors "github.com/p-blackswan/sweeper/internal/errors"
	"github.com/p-blackswan/sweeper/internal/models"
	"github.com/p-blackswan/sweeper/internal/retry"
)

const pageSize = 100

type apiPost struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (p apiPost) toPost() (models.Post, error) {
	id, err := strconv.ParseInt(p.ID, 10, 64)
	if err != nil {
		return models.Post{}, fmt.Errorf("invalid post id %q: %w", p.ID, err)
	}
	return models.Post{ID: id, CreatedAt: p.CreatedAt, Text: p.Text}, nil
}

type timelinePage struct {
	Data []apiPost `json:"data"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

// ListOwnPosts yields the account's posts newest-first, page by page, only
// fetching the next page once the previous one has been consumed.
func (c *Client) ListOwnPosts(ctx context.Context, account models.Account, sinceID int64) iter.Seq2[models.Post, error] {
	return func(yield func(models.Post, error) bool) {
		if !account.HasCredentials() {
			yield(models.Post{}, fmt.Errorf("listing posts for %d: %w", account.SocialAccountID, serrors.ErrAuthFailure))
			return
		}

		hc := c.userClient(account.SocialAccountID, account.Credentials)
		next := ""
		for {
			page, err := c.fetchPage(ctx, hc, account.SocialAccountID, sinceID, next, pageSize)
			if err != nil {
				yield(models.Post{}, err)
				return
			}
			for _, raw := range page.Data {
				post, err := raw.toPost()
				if err != nil {
					yield(models.Post{}, err)
					return
				}
				if !yield(post, nil) {
					return
				}
			}
			if page.Meta.NextToken == "" || len(page.Data) == 0 {
				return
			}
			next = page.Meta.NextToken
		}
	}
}

func (c *Client) fetchPage(ctx context.Context, hc *http.Client, userID, sinceID int64, token string, size int) (*timelinePage, error) {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(size))
	q.Set("tweet.fields", "created_at")
	if sinceID > 0 {
		q.Set("since_id", strconv.FormatInt(sinceID, 10))
	}
	if token != "" {
		q.Set("pagination_token", token)
	}
	path := fmt.Sprintf("/2/users/%d/tweets?%s", userID, q.Encode())

	var page timelinePage
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		page = timelinePage{}
		return c.do(ctx, hc, http.MethodGet, path, nil, &page)
	})
	if err != nil {
		return nil, fmt.Errorf("listing posts for %d: %w", userID, err)
	}
	return &page, nil
}

// DeletePost removes one post. It is not retried.
func (c *Client) DeletePost(ctx context.Context, account models.Account, postID int64) error {
	if !account.HasCredentials() {
		return fmt.Errorf("deleting post %d: %w", postID, serrors.ErrAuthFailure)
	}

	var resp struct {
		Data struct {
			Deleted bool `json:"deleted"`
		} `json:"data"`
	}
	hc := c.userClient(account.SocialAccountID, account.Credentials)
	if err := c.do(ctx, hc, http.MethodDelete, fmt.Sprintf("/2/tweets/%d", postID), nil, &resp); err != nil {
		return fmt.Errorf("deleting post %d: %w", postID, err)
	}
	if !resp.Data.Deleted {
		return fmt.Errorf("deleting post %d: not confirmed by API", postID)
	}
	return nil
}

// LatestPostID returns the id of the account's newest post, or 0 when the
// timeline is empty.
func (c *Client) LatestPostID(ctx context.Context, account models.Account) (int64, error) {
	if !account.HasCredentials() {
		return 0, fmt.Errorf("latest post for %d: %w", account.SocialAccountID, serrors.ErrAuthFailure)
	}
	hc := c.userClient(account.SocialAccountID, account.Credentials)
	// max_results below 5 is rejected by the API.
	page, err := c.fetchPage(ctx, hc, account.SocialAccountID, 0, "", 5)
	if err != nil {
		return 0, err
	}
	if len(page.Data) == 0 {
		return 0, nil
	}
	post, err := page.Data[0].toPost()
	if err != nil {
		return 0, err
	}
	return post.ID, nil
}

// CreatePost publishes text as the monitor account and returns the new id.
func (c *Client) CreatePost(ctx context.Context, creds *models.Credentials, text string) (int64, error) {
	if !creds.Present() {
		return 0, fmt.Errorf("creating post: %w", serrors.ErrAuthFailure)
	}

	var resp struct {
		Data apiPost `json:"data"`
	}
	hc := c.userClient(monitorKey, creds)
	if err := c.do(ctx, hc, http.MethodPost, "/2/tweets", map[string]string{"text": text}, &resp); err != nil {
		return 0, fmt.Errorf("creating post: %w", err)
	}
	post, err := resp.Data.toPost()
	if err != nil {
		return 0, err
	}
	return post.ID, nil
}
