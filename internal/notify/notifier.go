// Package notify defines the delivery interface and implementations for
// price-change notifications.
package notify

import "context"

// Sender delivers one rendered notification to a recipient chat. A nil
// error means the message was accepted by the transport; only then may the
// caller commit the notification's state.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}
