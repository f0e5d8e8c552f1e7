// Package telemetry implements the out-of-band alerting contract (§4.B):
// a best-effort Notifier that never sits on the request path.
package telemetry

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"copytrader/internal/ports"
)

// Config holds construction parameters for TelegramNotifier.
type Config struct {
	BotToken string
	ChatID   int64
	Logger   ports.Logger
}

// TelegramNotifier delivers alerts to a single Telegram chat. Delivery
// failures are logged and swallowed: nothing here ever blocks or fails a
// trading call (§4.A: "the breaker never blocks").
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger ports.Logger
}

// New constructs a TelegramNotifier and verifies the bot token with a
// GetMe call, failing loudly at startup rather than silently at the
// first alert.
func New(cfg Config) (*TelegramNotifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for telemetry notifier")
	}
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram bot token and chat id are required")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	cfg.Logger.Info(context.Background(), "telemetry notifier initialized", map[string]interface{}{"account": bot.Self.UserName})

	return &TelegramNotifier{bot: bot, chatID: cfg.ChatID, logger: cfg.Logger}, nil
}

// Notify sends subject/body as one Telegram message, prefixed by
// severity, on its own goroutine so the caller never waits for delivery.
// It never returns an error: a failed send is logged at Warn and dropped,
// matching §4.B's best-effort delivery contract.
func (n *TelegramNotifier) Notify(ctx context.Context, severity ports.Severity, subject, body string) {
	text := fmt.Sprintf("[%s] %s\n%s", severityLabel(severity), subject, body)
	msg := tgbotapi.NewMessage(n.chatID, text)

	go func() {
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Warn(ctx, "telemetry delivery failed", map[string]interface{}{
				"severity": string(severity), "subject": subject, "error": err.Error(),
			})
		}
	}()
}

func severityLabel(s ports.Severity) string {
	switch s {
	case ports.SeverityCritical:
		return "CRITICAL"
	case ports.SeverityWarning:
		return "WARNING"
	default:
		return "INFO"
	}
}

// NullNotifier discards every alert. It backs tests and any deployment
// that runs without Telegram configured.
type NullNotifier struct{}

func (NullNotifier) Notify(ctx context.Context, severity ports.Severity, subject, body string) {}
