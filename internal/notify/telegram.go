package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const telegramURL = "https://api.telegram.org"

// Notifier delivers human-readable trade notifications.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Send(context.Context, string) error { return nil }

// Telegram posts messages to a chat through the Bot API.
type Telegram struct {
	client *resty.Client
	token  string
	chatID string
}

var (
	_ Notifier = (*Telegram)(nil)
	_ Notifier = Nop{}
)

// New returns a Telegram notifier, or Nop when the token or chat id is missing.
func New(botToken, chatID string) Notifier {
	if botToken == "" || chatID == "" {
		return Nop{}
	}
	return newTelegram(telegramURL, botToken, chatID)
}

func newTelegram(baseURL, botToken, chatID string) *Telegram {
	return &Telegram{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		token:  botToken,
		chatID: chatID,
	}
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetPathParam("token", t.token).
		SetBody(map[string]string{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "HTML",
		}).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram API error: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// OpenMessage formats a newly opened position.
func OpenMessage(symbol, side string, qty int, entry, stop, take float64, orderID string) string {
	return fmt.Sprintf("<b>%s %s</b>\nQty: <code>%d</code>\nEntry: <code>%.2f</code>\nStop: <code>%.2f</code>\nTake: <code>%.2f</code>\nOrder: <code>%s</code>",
		side, symbol, qty, entry, stop, take, orderID)
}

// CloseMessage formats a closed position with its profit or loss.
func CloseMessage(symbol, reason string, qty int, exit, pnl float64) string {
	return fmt.Sprintf("<b>CLOSE %s</b> (%s)\nQty: <code>%d</code>\nExit: <code>%.2f</code>\nPnL: <code>%.2f</code>",
		symbol, reason, qty, exit, pnl)
}

// ErrorMessage formats a cycle error.
func ErrorMessage(title string, err error) string {
	return fmt.Sprintf("<b>%s</b>\n%v", title, err)
}
