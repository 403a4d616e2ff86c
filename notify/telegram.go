package notify

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
)

// Telegram delivers events to a Telegram chat.
type Telegram struct {
	bot    *telego.Bot
	chatID int64
}

// NewTelegram builds a Telegram channel from a bot token and chat id.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	_, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: t.chatID},
		Text:   Format(ev),
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
