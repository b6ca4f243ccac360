// Package notify publishes fleet sweep summaries to operator channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Notifier publishes one status line.
type Notifier interface {
	Publish(ctx context.Context, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, text string) error

// Publish calls f.
func (f NotifierFunc) Publish(ctx context.Context, text string) error { return f(ctx, text) }

// StatusLine formats the fleet summary published after every fleet sweep.
func StatusLine(totalAccounts, deleted int, at time.Time) string {
	return fmt.Sprintf("Total Accounts: %d - Deleted: %d - %s", totalAccounts, deleted, at.UTC().Format(time.RFC3339))
}

// Log writes status lines to the logger.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a log-only notifier.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notify").Logger()}
}

// Publish logs text.
func (l *Log) Publish(_ context.Context, text string) error {
	l.logger.Info().Str("status", text).Msg("fleet status")
	return nil
}

// Multi fans a status line out to every notifier.
type Multi []Notifier

// Publish sends text to every notifier and joins their errors. One failing
// notifier does not stop the others.
func (m Multi) Publish(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
