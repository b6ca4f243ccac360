package notify

import (
	"context"
	"fmt"

	"github.com/p-blackswan/sweeper/internal/models"
)

// PostCreator publishes a post as the owner of creds.
type PostCreator interface {
	CreatePost(ctx context.Context, creds *models.Credentials, text string) (int64, error)
}

// XStatus posts status lines from the monitor account.
type XStatus struct {
	client PostCreator
	creds  *models.Credentials
}

// NewXStatus creates a notifier that posts as the monitor account.
func NewXStatus(client PostCreator, creds *models.Credentials) *XStatus {
	return &XStatus{client: client, creds: creds}
}

// Publish posts text.
func (x *XStatus) Publish(ctx context.Context, text string) error {
	if _, err := x.client.CreatePost(ctx, x.creds, text); err != nil {
		return fmt.Errorf("monitor status post: %w", err)
	}
	return nil
}
