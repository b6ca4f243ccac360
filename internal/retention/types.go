// Package retention implements the per-account retention sweep: the keep /
// delete / stop decision for a single post and the executor that walks an
// account's timeline applying it.
package retention

import (
	"context"
	"iter"
	"time"

	"github.com/p-blackswan/sweeper/internal/models"
)

// DefaultDeletionCap bounds the deletions attempted by one sweep.
const DefaultDeletionCap = 25

// Decision is the verdict for one post.
type Decision int

const (
	// Keep leaves the post in place and continues with the next, older post.
	Keep Decision = iota
	// Delete removes the post.
	Delete
	// Stop ends the sweep; the post and everything older predate the policy.
	Stop
)

func (d Decision) String() string {
	switch d {
	case Keep:
		return "keep"
	case Delete:
		return "delete"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// StopReason tells why a sweep ended.
type StopReason string

const (
	ReasonExhausted StopReason = "exhausted-timeline"
	ReasonFloor     StopReason = "hit-activation-floor"
	ReasonCap       StopReason = "hit-deletion-cap"
	ReasonError     StopReason = "error"
	// ReasonSkipped marks a sweep that never started because the account
	// failed a precondition. It is not an error.
	ReasonSkipped StopReason = "skipped"
)

// Outcome is the result of one sweep over one account.
type Outcome struct {
	AccountID      int64      `json:"account_id"`
	PostsDeleted   int        `json:"posts_deleted"`
	DeleteFailures int        `json:"delete_failures"`
	Reason         StopReason `json:"stopped_reason"`
	Err            string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     time.Time  `json:"finished_at"`
}

// Failed reports whether the sweep ended in an error.
func (o Outcome) Failed() bool { return o.Reason == ReasonError }

// TimelineSource reads and deletes posts on an account's own timeline.
type TimelineSource interface {
	// ListOwnPosts yields the account's posts newest-first, restricted to ids
	// greater than sinceID when sinceID is positive. Each call starts a fresh
	// traversal. A non-nil error ends the sequence.
	ListOwnPosts(ctx context.Context, account models.Account, sinceID int64) iter.Seq2[models.Post, error]
	// DeletePost removes one post.
	DeletePost(ctx context.Context, account models.Account, postID int64) error
}

// Config controls the executor.
type Config struct {
	DeletionCap int
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{DeletionCap: DefaultDeletionCap}
}

func (c Config) deletionCap() int {
	if c.DeletionCap <= 0 {
		return DefaultDeletionCap
	}
	return c.DeletionCap
}
