package notify

import (
	"context"
	"fmt"
	"net/http"
)

// telegramAPI is the Bot API base; tests point it at an httptest server.
var telegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// Send posts to sendMessage with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, t.client, t.Name(),
		fmt.Sprintf("%s/bot%s/sendMessage", telegramAPI, t.token),
		map[string]string{
			"chat_id":    t.chatID,
			"text":       fmt.Sprintf("*%s*\n%s", title, message),
			"parse_mode": "Markdown",
		})
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
