package reminder

import (
	"context"

	"github.com/staffdesk/medbook/internal/domain"
	"github.com/staffdesk/medbook/internal/telegram"
)

// Sender is the outbound half of the Telegram client.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) error
}

// TelegramNotifier delivers reminders as plain Telegram messages.
type TelegramNotifier struct {
	sender Sender
}

// NewTelegramNotifier wraps sender.
func NewTelegramNotifier(sender Sender) *TelegramNotifier {
	return &TelegramNotifier{sender: sender}
}

// Notify sends text to chatID. A chat that blocked the bot yields a CodeForbidden error.
func (n *TelegramNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	err := n.sender.SendMessage(ctx, chatID, text, nil)
	if telegram.IsForbidden(err) {
		return domain.ErrRecipientBlocked(chatID, err)
	}
	return err
}
