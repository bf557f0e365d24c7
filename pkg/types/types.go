// Package domain defines the core business types for the price watcher.
package domain

import (
	"fmt"
	"time"
)

// Subscriber is a chat that follows one or more products.
type Subscriber struct {
	ChatID    int64     `json:"chat_id"    db:"chat_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ItemKey identifies one tracked item within a subscriber's set. The same
// product may be tracked under different variant selectors, but never twice
// under the same one.
type ItemKey struct {
	ProductID       int64
	VariantSelector string
}

// TrackedItem is one (subscriber, product, variant) monitoring record.
//
// CurrentPrice is the last price observed from the source. PreviousNotifiedPrice
// is the baseline as of the last successfully delivered notification; it only
// advances together with clearing PendingChange, never on a bare refresh.
type TrackedItem struct {
	ChatID          int64  `json:"chat_id"          db:"chat_id"`
	ProductID       int64  `json:"product_id"       db:"product_id"`
	VariantSelector string `json:"variant_selector" db:"variant_selector"`
	Name            string `json:"name"             db:"name"`

	// Prices in minor currency units (kopecks).
	CurrentPrice          int64 `json:"current_price"           db:"current_price"`
	PreviousNotifiedPrice int64 `json:"previous_notified_price" db:"previous_notified_price"`

	PendingChange bool      `json:"pending_change" db:"pending_change"`
	LastUpdated   time.Time `json:"last_updated"   db:"last_updated"`
}

// Key returns the item's identity within its subscriber's set.
func (t *TrackedItem) Key() ItemKey {
	return ItemKey{ProductID: t.ProductID, VariantSelector: t.VariantSelector}
}

// Delta returns the signed price movement against the notified baseline.
func (t *TrackedItem) Delta() int64 {
	return t.CurrentPrice - t.PreviousNotifiedPrice
}

// DeltaPercent returns the percentage movement against the notified baseline.
// A baseline of zero yields 0; a price moving from zero is reported as an
// absolute change only.
func (t *TrackedItem) DeltaPercent() float64 {
	if t.PreviousNotifiedPrice == 0 {
		return 0
	}
	return float64(t.Delta()) / float64(t.PreviousNotifiedPrice) * 100
}

// Direction returns the human wording of the price movement.
func (t *TrackedItem) Direction() string {
	switch d := t.Delta(); {
	case d > 0:
		return "increased"
	case d < 0:
		return "decreased"
	default:
		return "unchanged"
	}
}

// Variant is one purchasable option (size) of a catalog product.
type Variant struct {
	Label string `json:"label"`
	Price int64  `json:"price"` // minor units
}

// Product is the catalog data returned by the price source for one id.
type Product struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Variants []Variant `json:"variants"`
}

// FormatPrice renders a minor-unit amount with two decimals ("1234" -> "12.34").
func FormatPrice(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// ProductURL returns the canonical catalog page for a product id.
func ProductURL(productID int64) string {
	return fmt.Sprintf("https://www.wildberries.ru/catalog/%d/detail.aspx", productID)
}

// CycleReport summarizes one reconciliation pass.
type CycleReport struct {
	ProductsFetched int `json:"products_fetched"`
	ItemsRefreshed  int `json:"items_refreshed"`
	ItemsChanged    int `json:"items_changed"`
	ItemsSkipped    int `json:"items_skipped"` // variant no longer available
	FetchFailures   int `json:"fetch_failures"`
}

// DispatchReport summarizes one notification pass.
type DispatchReport struct {
	MessagesSent   int `json:"messages_sent"`
	SendFailures   int `json:"send_failures"`
	ItemsCommitted int `json:"items_committed"`
}

// TickRun records a single execution of a scheduled tick
// (reconciliation + dispatch).
type TickRun struct {
	ID             string     `json:"id"                     db:"id"`
	StartedAt      time.Time  `json:"started_at"             db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Status         string     `json:"status"                 db:"status"`
	ErrorText      string     `json:"error_text,omitempty"   db:"error_text"`
	ItemsRefreshed int        `json:"items_refreshed"        db:"items_refreshed"`
	ItemsChanged   int        `json:"items_changed"          db:"items_changed"`
	MessagesSent   int        `json:"messages_sent"          db:"messages_sent"`
}
