// Package models holds the records shared between the sweep engine and the
// layers around it.
package models

import "time"

// DefaultRetentionHours is the retention window given to freshly linked accounts.
const DefaultRetentionHours = 48

// Credentials is the OAuth2 user-context token pair for one linked account.
type Credentials struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Expiry       time.Time `json:"-"`
}

// Present reports whether the credentials can authorize API calls.
func (c *Credentials) Present() bool {
	return c != nil && c.AccessToken != ""
}

// Account is one linked social account and its retention policy.
type Account struct {
	SocialAccountID int64     `json:"social_account_id"`
	Owner           string    `json:"owner"`
	ScreenName      string    `json:"screen_name,omitempty"`
	Active          bool      `json:"active"`
	RetentionHours  int       `json:"retention_hours"`
	ActivatedAt     time.Time `json:"activated_at,omitzero"`
	// ActivatedStatusID is the newest post id at activation time. Zero means
	// the timeline is read without a lower bound.
	ActivatedStatusID int64        `json:"activated_status_id,omitempty"`
	Credentials       *Credentials `json:"-"`
	CreatedAt         time.Time    `json:"created_at"`
}

// HasCredentials reports whether the account carries usable credentials.
func (a *Account) HasCredentials() bool {
	return a.Credentials.Present()
}

// Post is a single status on an account's own timeline.
type Post struct {
	ID        int64
	CreatedAt time.Time
	Text      string
}
