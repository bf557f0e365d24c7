package notify

import (
	"context"
	"log/slog"
)

// NoopSender implements Sender by logging discarded messages. It is used
// when no Telegram token is configured (local development, dry runs).
//
// Discarding counts as a successful send, so pending changes are still
// committed; a dry run otherwise re-reports the same delta forever.
type NoopSender struct {
	log *slog.Logger
}

// NewNoopSender creates a sender that discards messages with a log line.
func NewNoopSender(log *slog.Logger) *NoopSender {
	return &NoopSender{log: log}
}

// Send logs and discards one message.
func (n *NoopSender) Send(_ context.Context, chatID int64, text string) error {
	n.log.Debug("notification discarded (no delivery backend configured)",
		"chat_id", chatID,
		"length", len(text),
	)
	return nil
}

// compile-time interface check.
var _ Sender = (*NoopSender)(nil)
