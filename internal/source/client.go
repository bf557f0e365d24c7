// Package source provides the catalog price source client abstracted behind
// an interface for testability.
package source

import (
	"context"
	"errors"

	domain "wb-price-watcher/pkg/types"
)

// ErrSourceUnavailable is returned when the price source could not be
// reached or returned an unusable response. The affected batch is skipped
// for the current cycle; tracked items keep their stale data.
var ErrSourceUnavailable = errors.New("price source unavailable")

// Client fetches current catalog data for a batch of product ids.
//
// FetchBatch returns a possibly-partial map: ids missing from the result
// were not found upstream, which is not an error. A transport or parse
// failure of the whole response wraps ErrSourceUnavailable.
type Client interface {
	FetchBatch(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	MaxBatchSize() int
}
