package bot

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/escrow"
	"github.com/alanyoungcy/escrowbot/internal/platform/telegram"
)

// Sender delivers a chat message. notify.Gateway satisfies it.
type Sender interface {
	Send(ctx context.Context, p telegram.SendMessageParams) (telegram.Message, error)
}

// ChatNotifier renders core notices as Telegram messages. A party's user
// id is also the id of their private chat with the bot.
type ChatNotifier struct {
	out Sender
}

var _ escrow.Notifier = (*ChatNotifier)(nil)

// NewChatNotifier creates a ChatNotifier.
func NewChatNotifier(out Sender) *ChatNotifier {
	return &ChatNotifier{out: out}
}

// Notify renders n for to and sends it.
func (c *ChatNotifier) Notify(ctx context.Context, to domain.PartyID, n escrow.Notice) error {
	r := renderNotice(n, to)
	_, err := c.out.Send(ctx, telegram.SendMessageParams{
		ChatID:                int64(to),
		Text:                  r.text,
		ParseMode:             telegram.ParseModeHTML,
		DisableWebPagePreview: true,
		ReplyMarkup:           r.markup,
	})
	if err != nil {
		return fmt.Errorf("bot: notify %s of %s: %w", to, n.Kind, err)
	}
	return nil
}
