// Package timeline is the X API v2 client used to read, delete and publish
// posts on behalf of linked accounts.
package timeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	serrors "github.com/p-blackswan/sweeper/internal/errors"
	"github.com/p-blackswan/sweeper/internal/models"
	"github.com/p-blackswan/sweeper/internal/retry"
)

// DefaultBaseURL is the public X API host.
const DefaultBaseURL = "https://api.twitter.com"

const (
	serviceName  = "x"
	maxErrorBody = 4096
)

// Config configures a Client.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// BearerToken is the app-only token used for public lookups.
	BearerToken string
	// HTTPClient is the transport for all calls; user tokens are layered on top.
	HTTPClient *http.Client
	Retry      retry.Config
	// Tokens receives refreshed account tokens. Nil keeps them in memory only.
	Tokens TokenSaver
}

// Client talks to the X API v2.
type Client struct {
	baseURL string
	oauth   *oauth2.Config
	bearer  string
	http    *http.Client
	retry   retry.Config
	tokens  TokenSaver
	now     func() time.Time
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[int64]*session
}

// NewClient creates a Client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	rc := cfg.Retry
	if rc.MaxAttempts == 0 {
		rc = retry.DefaultConfig()
	}

	c := &Client{
		baseURL: base,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://twitter.com/i/oauth2/authorize",
				TokenURL:  base + "/2/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		bearer:   cfg.BearerToken,
		http:     hc,
		tokens:   cfg.Tokens,
		now:      time.Now,
		logger:   logger.With().Str("component", "x_client").Logger(),
		sessions: make(map[int64]*session),
	}
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying X API call")
	}
	c.retry = rc
	return c
}

// userClient returns an HTTP client authorized as the owner of creds. key is
// the account id, or monitorKey for the monitor account. Every client for the
// same key shares one token session.
func (c *Client) userClient(key int64, creds *models.Credentials) *http.Client {
	return &http.Client{
		Timeout: c.http.Timeout,
		Transport: &oauth2.Transport{
			Source: c.session(key, creds),
			Base:   c.http.Transport,
		},
	}
}

// problem is the error document returned by the X API.
type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (p problem) message() string {
	switch {
	case p.Detail != "":
		return p.Detail
	case p.Title != "":
		return p.Title
	case len(p.Errors) > 0:
		return p.Errors[0].Message
	}
	return ""
}

// do sends one request and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, serrors.ErrAuthFailure) {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, serrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var p problem
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(raw, &p) == nil && p.message() != "" {
			msg = p.message()
		}
		return serrors.NewAPIError(serviceName, resp.StatusCode, fmt.Sprintf("%s %s: %s", method, path, msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}
