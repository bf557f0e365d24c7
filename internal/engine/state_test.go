package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	domain "wb-price-watcher/pkg/types"
)

func TestApplyObservation(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		item        domain.TrackedItem
		newPrice    int64
		wantChanged bool
		wantPending bool
		wantCurrent int64
	}{
		{
			name: "same price is not a change",
			item: domain.TrackedItem{
				CurrentPrice:          1000,
				PreviousNotifiedPrice: 1000,
			},
			newPrice:    1000,
			wantChanged: false,
			wantPending: false,
			wantCurrent: 1000,
		},
		{
			name: "price drop flags pending",
			item: domain.TrackedItem{
				CurrentPrice:          1000,
				PreviousNotifiedPrice: 1000,
			},
			newPrice:    900,
			wantChanged: true,
			wantPending: true,
			wantCurrent: 900,
		},
		{
			name: "price rise flags pending",
			item: domain.TrackedItem{
				CurrentPrice:          1000,
				PreviousNotifiedPrice: 1000,
			},
			newPrice:    1200,
			wantChanged: true,
			wantPending: true,
			wantCurrent: 1200,
		},
		{
			name: "pending stays set when price is re-confirmed",
			item: domain.TrackedItem{
				CurrentPrice:          900,
				PreviousNotifiedPrice: 1000,
				PendingChange:         true,
			},
			newPrice:    900,
			wantChanged: false,
			wantPending: true,
			wantCurrent: 900,
		},
		{
			name: "pending stays set when price reverts to the baseline",
			item: domain.TrackedItem{
				CurrentPrice:          900,
				PreviousNotifiedPrice: 1000,
				PendingChange:         true,
			},
			newPrice:    1000,
			wantChanged: true,
			wantPending: true,
			wantCurrent: 1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := tt.item
			changed := applyObservation(&item, "fresh name", tt.newPrice, now)

			assert.Equal(t, tt.wantChanged, changed)
			assert.Equal(t, tt.wantPending, item.PendingChange)
			assert.Equal(t, tt.wantCurrent, item.CurrentPrice)

			// Baseline only moves on notification commit.
			assert.Equal(t, tt.item.PreviousNotifiedPrice, item.PreviousNotifiedPrice)

			// Name and timestamp refresh on every touch.
			assert.Equal(t, "fresh name", item.Name)
			assert.Equal(t, now, item.LastUpdated)
		})
	}
}
