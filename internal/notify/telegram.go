package notify

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
)

// TelegramAPI is the part of telego.Bot the notifier uses.
type TelegramAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Telegram sends status lines to a chat.
type Telegram struct {
	bot    TelegramAPI
	chatID int64
}

// NewTelegram creates a Telegram notifier from a bot token.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return NewTelegramWithAPI(bot, chatID), nil
}

// NewTelegramWithAPI creates a Telegram notifier over an existing bot.
func NewTelegramWithAPI(bot TelegramAPI, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

// Publish sends text to the configured chat.
func (t *Telegram) Publish(ctx context.Context, text string) error {
	_, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: t.chatID},
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram send to %d: %w", t.chatID, err)
	}
	return nil
}
