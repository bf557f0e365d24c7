package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"wb-price-watcher/internal/metrics"
	domain "wb-price-watcher/pkg/types"
)

// Dispatch executes one notification pass. Each subscriber with at least
// one pending change receives exactly one message; subscribers without
// changes receive nothing. State is committed (pending flags cleared,
// baselines advanced) only after the send succeeded, atomically per
// subscriber, so a failed send retries the same content next tick.
func (e *Engine) Dispatch(ctx context.Context) (*domain.DispatchReport, error) {
	report := &domain.DispatchReport{}

	subs, err := e.store.ListSubscribers(ctx)
	if err != nil {
		return report, fmt.Errorf("listing subscribers: %w", err)
	}

	metrics.Subscribers.Set(float64(len(subs)))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		workers  = make(chan struct{}, e.dispatchConcurrency)
		storeErr error
	)

	for _, sub := range subs {
		wg.Add(1)
		workers <- struct{}{}

		go func(chatID int64) {
			defer wg.Done()
			defer func() { <-workers }()

			sent, committed, err := e.dispatchOne(ctx, chatID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, errDispatchStore):
				// Store-layer failure, not a delivery one; fatal for
				// the tick rather than a send statistic.
				if storeErr == nil {
					storeErr = err
				}
			case err != nil:
				report.SendFailures++
			case sent:
				report.MessagesSent++
				report.ItemsCommitted += committed
			}
		}(sub.ChatID)
	}

	wg.Wait()

	if storeErr != nil {
		return report, fmt.Errorf("dispatching notifications: %w", storeErr)
	}
	return report, nil
}

// errDispatchStore marks a dispatch failure caused by the store rather
// than by message delivery.
var errDispatchStore = errors.New("dispatch store failure")

// dispatchOne composes, sends and commits one subscriber's message.
// Delivery failures affect only this subscriber; store read failures are
// wrapped in errDispatchStore and fail the whole tick.
func (e *Engine) dispatchOne(ctx context.Context, chatID int64) (sent bool, committed int, err error) {
	items, err := e.store.ListItems(ctx, chatID)
	if err != nil {
		e.log.Error("listing items for dispatch failed", "chat_id", chatID, "error", err)
		return false, 0, fmt.Errorf("%w: listing items for %d: %w", errDispatchStore, chatID, err)
	}

	var pending []domain.TrackedItem
	for _, it := range items {
		if it.PendingChange {
			pending = append(pending, it)
		}
	}

	// Silence is correct behavior for a subscriber with nothing to say.
	if e.notifyMode == NotifyOnChangeOnly && len(pending) == 0 {
		return false, 0, nil
	}
	if len(items) == 0 {
		return false, 0, nil
	}

	var text string
	if e.notifyMode == NotifyAlways {
		text = composeMessage(items)
	} else {
		text = composeMessage(pending)
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.dispatchTimeout)
	defer cancel()

	if err := e.sender.Send(sendCtx, chatID, text); err != nil {
		// Deferred, not lost: pending flags stay set and the same content
		// is retried next tick.
		e.log.Error("notification send failed, deferring commit",
			"chat_id", chatID,
			"pending_items", len(pending),
			"error", err,
		)
		return false, 0, err
	}

	if len(pending) > 0 {
		keys := make([]domain.ItemKey, len(pending))
		for i := range pending {
			keys[i] = pending[i].Key()
		}
		if err := e.store.CommitNotification(ctx, chatID, keys); err != nil {
			// The message is already out; a failed commit means the same
			// change is re-reported next tick. Tolerable under
			// at-least-once delivery, so log loudly and move on.
			e.log.Error("notification commit failed after successful send",
				"chat_id", chatID,
				"error", err,
			)
			return true, 0, nil
		}
		committed = len(keys)
	}

	return true, committed, nil
}

// composeMessage renders one consolidated message from a subscriber's
// items. Changed items carry the signed delta against the notified
// baseline; unchanged items (always mode only) just state the price.
func composeMessage(items []domain.TrackedItem) string {
	blocks := make([]string, 0, len(items))
	for i := range items {
		blocks = append(blocks, composeItem(&items[i]))
	}
	return strings.Join(blocks, "\n\n")
}

func composeItem(item *domain.TrackedItem) string {
	var b strings.Builder

	b.WriteString("Item: " + item.Name)
	if item.VariantSelector != "" {
		b.WriteString(" (size " + item.VariantSelector + ")")
	}
	b.WriteString("\n")

	if item.PendingChange {
		delta := item.Delta()
		abs := delta
		if abs < 0 {
			abs = -abs
		}
		b.WriteString("New price: " + domain.FormatPrice(item.CurrentPrice) + " rub.\n")
		if delta == 0 {
			// The price moved and came back before this message went out.
			b.WriteString("Price returned to the last notified price\n")
		} else {
			b.WriteString(fmt.Sprintf("Price %s by %s (%.2f%%)\n",
				item.Direction(),
				domain.FormatPrice(abs),
				absFloat(item.DeltaPercent()),
			))
		}
	} else {
		b.WriteString("Current price: " + domain.FormatPrice(item.CurrentPrice) + " rub.\n")
	}

	b.WriteString("Link: " + domain.ProductURL(item.ProductID))
	return b.String()
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
