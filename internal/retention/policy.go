package retention

import (
	"fmt"
	"time"

	serrors "github.com/p-blackswan/sweeper/internal/errors"
	"github.com/p-blackswan/sweeper/internal/models"
)

// Cutoff returns the instant before which posts fall outside the retention window.
func Cutoff(now time.Time, retentionHours int) time.Time {
	return now.Add(-time.Duration(retentionHours) * time.Hour)
}

// Decide classifies a post met during a newest-to-oldest walk.
// account.ActivatedAt must be set; cutoff comes from Cutoff.
func Decide(post models.Post, account models.Account, cutoff time.Time) Decision {
	if post.CreatedAt.Before(account.ActivatedAt) {
		return Stop
	}
	if post.CreatedAt.Before(cutoff) {
		return Delete
	}
	return Keep
}

// CheckPreconditions returns an error wrapping serrors.ErrPrecondition when
// the account must not be swept.
func CheckPreconditions(account models.Account) error {
	switch {
	case !account.Active:
		return fmt.Errorf("account inactive: %w", serrors.ErrPrecondition)
	case !account.HasCredentials():
		return fmt.Errorf("account has no credentials: %w", serrors.ErrPrecondition)
	case account.RetentionHours <= 0:
		return fmt.Errorf("invalid retention hours %d: %w", account.RetentionHours, serrors.ErrPrecondition)
	case account.ActivatedAt.IsZero():
		return fmt.Errorf("activation time not set: %w", serrors.ErrPrecondition)
	}
	return nil
}
