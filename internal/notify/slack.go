package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackAPI is the minimal Slack API surface needed by the notifier.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts status lines to a channel.
type Slack struct {
	api     SlackAPI
	channel string
}

// NewSlack creates a Slack notifier from a bot token.
func NewSlack(token, channel string) *Slack {
	return NewSlackWithAPI(slack.New(token), channel)
}

// NewSlackWithAPI creates a Slack notifier over an existing client.
func NewSlackWithAPI(api SlackAPI, channel string) *Slack {
	return &Slack{api: api, channel: channel}
}

// Publish posts text to the configured channel. The plain text doubles as
// the notification fallback for clients that don't render blocks.
func (s *Slack) Publish(ctx context.Context, text string) error {
	_, _, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(StatusBlocks(text)...),
	)
	if err != nil {
		return fmt.Errorf("slack post to %s: %w", s.channel, err)
	}
	return nil
}

// StatusBlocks renders a fleet status line as Slack Block Kit blocks.
func StatusBlocks(text string) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", "*Retention sweep finished*", false, false),
			nil, nil,
		),
		slack.NewContextBlock("fleet_status",
			slack.NewTextBlockObject("plain_text", text, false, false),
		),
	}
}
