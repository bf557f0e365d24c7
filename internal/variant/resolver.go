// Package variant resolves a tracked item's variant selector against the
// freshly fetched catalog variants of its product. Resolution is pure: it is
// used both at follow time and on every reconciliation touch.
package variant

import (
	"errors"
	"strings"

	domain "wb-price-watcher/pkg/types"
)

// ErrNotAvailable means no variant satisfied the selector: either the
// product currently has no purchasable variants, or the selected one
// (e.g. a size that went out of stock) is gone. Callers recover locally:
// the item is left untouched for this cycle.
var ErrNotAvailable = errors.New("variant not available")

// Resolve maps a selector to a price. An empty selector means "the first
// available variant"; a non-empty selector must match a label exactly.
func Resolve(selector string, variants []domain.Variant) (int64, error) {
	if selector == "" {
		if len(variants) == 0 {
			return 0, ErrNotAvailable
		}
		return variants[0].Price, nil
	}

	for _, v := range variants {
		if v.Label == selector {
			return v.Price, nil
		}
	}
	return 0, ErrNotAvailable
}

// ResolveByReply matches a user's free-text keyboard reply against the
// available variants. The variant label must be a prefix of the reply,
// case-sensitive, first match wins. Used only in the follow-time
// interactive flow.
func ResolveByReply(reply string, variants []domain.Variant) (*domain.Variant, error) {
	for i := range variants {
		if strings.HasPrefix(reply, variants[i].Label) {
			return &variants[i], nil
		}
	}
	return nil, ErrNotAvailable
}
