package engine

import (
	"time"

	domain "wb-price-watcher/pkg/types"
)

// applyObservation advances one tracked item with a freshly resolved price.
// It returns true when the price moved against the last observed value.
//
// The comparison is against CurrentPrice, not the notified baseline, so a
// price may fluctuate several times between notifications and still be
// flagged as changed since the last one. A pending change is sticky: a
// later touch that re-confirms the same price keeps the flag set until a
// notification commit clears it. Name and LastUpdated are refreshed on
// every touch.
func applyObservation(item *domain.TrackedItem, name string, newPrice int64, now time.Time) bool {
	changed := newPrice != item.CurrentPrice
	if changed {
		item.PendingChange = true
		item.CurrentPrice = newPrice
	}

	item.Name = name
	item.LastUpdated = now
	return changed
}
