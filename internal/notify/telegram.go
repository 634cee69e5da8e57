package notify

import (
	"context"
	"fmt"
	"html"

	"github.com/alanyoungcy/escrowbot/internal/platform/telegram"
)

// TelegramSender posts operator alerts to a Telegram chat through the same
// gateway the bot uses for parties, so alerts share its pacing and retries.
type TelegramSender struct {
	gateway *Gateway
	chatID  int64
}

// NewTelegramSender creates a TelegramSender for the given operator chat.
func NewTelegramSender(gateway *Gateway, chatID int64) *TelegramSender {
	return &TelegramSender{gateway: gateway, chatID: chatID}
}

// Send posts the alert with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	text := fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(title), html.EscapeString(message))

	_, err := t.gateway.Send(ctx, telegram.SendMessageParams{
		ChatID:                t.chatID,
		Text:                  text,
		ParseMode:             telegram.ParseModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
