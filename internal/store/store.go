// Package store defines the datastore abstraction for the price watcher.
// All business logic depends on the Store interface, never on concrete
// implementations. This enables testing without a running database.
package store

import (
	"context"
	"errors"

	domain "wb-price-watcher/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines all data access operations for the price watcher. Writes
// are keyed by (chat_id, product_id, variant_selector) and safe under
// concurrent invocation from different subscriber contexts.
type Store interface {
	// Subscribers
	EnsureSubscriber(ctx context.Context, chatID int64) error
	ListSubscribers(ctx context.Context) ([]domain.Subscriber, error)

	// Tracked items
	ListItems(ctx context.Context, chatID int64) ([]domain.TrackedItem, error)
	ListDistinctProductIDs(ctx context.Context) ([]int64, error)
	ListItemsByProduct(ctx context.Context, productID int64) ([]domain.TrackedItem, error)
	UpsertItem(ctx context.Context, item *domain.TrackedItem) error
	RemoveItem(ctx context.Context, chatID, productID int64, selector string) error
	RemoveProduct(ctx context.Context, chatID, productID int64) error
	ClearItems(ctx context.Context, chatID int64) error

	// UpdateObservation persists a reconciliation touch: name, current
	// price, pending flag and last_updated. The notified baseline is
	// never written here.
	UpdateObservation(ctx context.Context, item *domain.TrackedItem) error

	// CommitNotification atomically clears pending_change and advances
	// previous_notified_price to current_price for all given keys of one
	// subscriber. All-or-nothing per subscriber.
	CommitNotification(ctx context.Context, chatID int64, keys []domain.ItemKey) error

	// Tick bookkeeping
	InsertTickRun(ctx context.Context) (id string, err error)
	CompleteTickRun(ctx context.Context, id, status, errText string, cycle *domain.CycleReport, dispatch *domain.DispatchReport) error
	ListTickRuns(ctx context.Context, limit int) ([]domain.TickRun, error)

	// Migrations
	Migrate(ctx context.Context) error

	// Health
	Ping(ctx context.Context) error
}
