package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"wb-price-watcher/internal/metrics"
)

// BotAPI is the slice of the Telegram bot API the sender needs.
// *tgbotapi.BotAPI satisfies it.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender implements Sender via the Telegram Bot API. Transient
// send failures are retried a bounded number of times within the call;
// a still-failing send is surfaced so the caller defers the state commit
// to the next tick.
type TelegramSender struct {
	api      BotAPI
	log      *slog.Logger
	attempts uint
}

// TelegramOption configures a TelegramSender.
type TelegramOption func(*TelegramSender)

// WithTelegramLogger sets a custom logger.
func WithTelegramLogger(l *slog.Logger) TelegramOption {
	return func(s *TelegramSender) {
		s.log = l
	}
}

// WithSendAttempts overrides how many times one send is attempted.
func WithSendAttempts(n uint) TelegramOption {
	return func(s *TelegramSender) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// NewTelegramSender creates a sender on top of a connected bot API.
func NewTelegramSender(api BotAPI, opts ...TelegramOption) *TelegramSender {
	s := &TelegramSender{
		api:      api,
		log:      slog.Default(),
		attempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers one text message to a chat, with link previews disabled.
func (s *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true

	err := retry.Do(
		func() error {
			_, sendErr := s.api.Send(msg)
			return sendErr
		},
		retry.Attempts(s.attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.log.Info("retrying telegram send", "chat_id", chatID, "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		metrics.NotificationFailuresTotal.Inc()
		return fmt.Errorf("sending telegram message to %d: %w", chatID, err)
	}

	metrics.NotificationsSentTotal.Inc()
	return nil
}

// compile-time interface check.
var _ Sender = (*TelegramSender)(nil)
