package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	serrors "github.com/p-blackswan/sweeper/internal/errors"
	"github.com/p-blackswan/sweeper/internal/models"
)

// TokenSaver persists a refreshed token pair for a linked account.
type TokenSaver interface {
	SaveCredentials(ctx context.Context, accountID int64, creds models.Credentials) error
}

// monitorKey identifies the monitor account's session. X user ids are positive.
const monitorKey int64 = 0

const saveTimeout = 5 * time.Second

// session is the token source shared by every call made for one owner.
// X refresh tokens are single use, so all calls must go through the same
// source once a refresh has happened.
type session struct {
	client    *Client
	accountID int64
	base      oauth2.TokenSource

	mu      sync.Mutex
	seed    string
	current string
}

// matches reports whether creds belong to this session: either the pair it
// was created from or the latest refreshed one.
func (s *session) matches(creds *models.Credentials) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return creds.AccessToken == s.seed || creds.AccessToken == s.current
}

// Token implements oauth2.TokenSource.
func (s *session) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, tokenError(err)
	}

	s.mu.Lock()
	refreshed := tok.AccessToken != s.current
	s.current = tok.AccessToken
	s.mu.Unlock()

	if refreshed {
		s.client.saveToken(s.accountID, tok)
	}
	return tok, nil
}

// tokenError marks a rejected refresh as an auth failure so it is not retried.
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return fmt.Errorf("refreshing token: %w: %v", serrors.ErrAuthFailure, err)
	}
	return fmt.Errorf("refreshing token: %w: %v", serrors.ErrUnavailable, err)
}

// session returns the shared token session for key, replacing it when the
// caller holds credentials it has never seen (a relink).
func (c *Client) session(key int64, creds *models.Credentials) *session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[key]; ok && s.matches(creds) {
		return s
	}

	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       creds.Expiry,
	}
	// Without a known expiry the token would never be refreshed.
	if tok.Expiry.IsZero() && tok.RefreshToken != "" {
		tok.Expiry = c.now()
	}

	// Refreshes outlive the request that triggered them.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
	s := &session{
		client:    c,
		accountID: key,
		base:      c.oauth.TokenSource(ctx, tok),
		seed:      creds.AccessToken,
		current:   creds.AccessToken,
	}
	c.sessions[key] = s
	return s
}

func (c *Client) saveToken(accountID int64, tok *oauth2.Token) {
	log := c.logger.With().Int64("account_id", accountID).Time("expiry", tok.Expiry).Logger()
	if accountID == monitorKey || c.tokens == nil {
		log.Debug().Msg("access token refreshed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	err := c.tokens.SaveCredentials(ctx, accountID, models.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to persist refreshed token")
		return
	}
	log.Info().Msg("access token refreshed")
}
