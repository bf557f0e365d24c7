package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackedItemDelta(t *testing.T) {
	tests := []struct {
		name        string
		current     int64
		previous    int64
		wantDelta   int64
		wantPercent float64
		wantDir     string
	}{
		{
			name:        "price drop",
			current:     900,
			previous:    1000,
			wantDelta:   -100,
			wantPercent: -10.0,
			wantDir:     "decreased",
		},
		{
			name:        "price rise",
			current:     1100,
			previous:    1000,
			wantDelta:   100,
			wantPercent: 10.0,
			wantDir:     "increased",
		},
		{
			name:        "no movement",
			current:     1000,
			previous:    1000,
			wantDelta:   0,
			wantPercent: 0,
			wantDir:     "unchanged",
		},
		{
			name:        "zero baseline yields zero percent",
			current:     500,
			previous:    0,
			wantDelta:   500,
			wantPercent: 0,
			wantDir:     "increased",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := TrackedItem{
				CurrentPrice:          tt.current,
				PreviousNotifiedPrice: tt.previous,
			}
			assert.Equal(t, tt.wantDelta, item.Delta())
			assert.InDelta(t, tt.wantPercent, item.DeltaPercent(), 0.0001)
			assert.Equal(t, tt.wantDir, item.Direction())
		})
	}
}

func TestTrackedItemKey(t *testing.T) {
	item := TrackedItem{ChatID: 7, ProductID: 12345678, VariantSelector: "M"}
	assert.Equal(t, ItemKey{ProductID: 12345678, VariantSelector: "M"}, item.Key())
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		minor int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{100, "1.00"},
		{1234, "12.34"},
		{299900, "2999.00"},
		{-100, "-1.00"},
		{-5, "-0.05"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPrice(tt.minor))
	}
}

func TestProductURL(t *testing.T) {
	assert.Equal(t,
		"https://www.wildberries.ru/catalog/12345678/detail.aspx",
		ProductURL(12345678),
	)
}
