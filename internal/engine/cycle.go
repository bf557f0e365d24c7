package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wb-price-watcher/internal/metrics"
	"wb-price-watcher/internal/variant"
	domain "wb-price-watcher/pkg/types"
)

// RunCycle executes one reconciliation pass: collect the distinct product
// ids tracked by any subscriber, fetch their catalog data in batches, and
// fan each product's fresh price out to every tracked item referencing it.
//
// An empty tracked set returns immediately without touching the source.
// A failed batch is logged and skipped; its items keep stale data until
// the next cycle. Only a store failure aborts the cycle.
func (e *Engine) RunCycle(ctx context.Context) (*domain.CycleReport, error) {
	report := &domain.CycleReport{}

	ids, err := e.store.ListDistinctProductIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("listing tracked product ids: %w", err)
	}
	if len(ids) == 0 {
		e.log.Debug("no tracked products, cycle is a no-op")
		return report, nil
	}

	batches := partition(ids, e.source.MaxBatchSize())
	e.log.Info("reconciliation starting",
		"products", len(ids),
		"batches", len(batches),
	)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		workers  = make(chan struct{}, e.batchConcurrency)
		storeErr error
	)

	for _, batch := range batches {
		wg.Add(1)
		workers <- struct{}{}

		go func(batch []int64) {
			defer wg.Done()
			defer func() { <-workers }()

			fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
			defer cancel()

			products, err := e.source.FetchBatch(fetchCtx, batch)
			if err != nil {
				metrics.FetchFailuresTotal.Inc()
				e.log.Error("batch fetch failed, skipping batch",
					"batch_size", len(batch),
					"error", err,
				)
				mu.Lock()
				report.FetchFailures++
				mu.Unlock()
				return
			}

			for _, p := range products {
				if err := e.applyProduct(ctx, p, &mu, report); err != nil {
					mu.Lock()
					if storeErr == nil {
						storeErr = err
					}
					mu.Unlock()
					return
				}
			}

			mu.Lock()
			report.ProductsFetched += len(products)
			mu.Unlock()
		}(batch)
	}

	wg.Wait()

	if storeErr != nil {
		return report, fmt.Errorf("applying fetched products: %w", storeErr)
	}
	return report, nil
}

// applyProduct fans one product's fresh catalog data out to every tracked
// item referencing it, across all subscribers and variant selectors.
func (e *Engine) applyProduct(
	ctx context.Context,
	p domain.Product,
	mu *sync.Mutex,
	report *domain.CycleReport,
) error {
	items, err := e.store.ListItemsByProduct(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("listing items for product %d: %w", p.ID, err)
	}

	now := time.Now()

	for i := range items {
		item := &items[i]

		selector := item.VariantSelector
		if !e.variantTracking {
			selector = ""
		}

		price, err := variant.Resolve(selector, p.Variants)
		if err != nil {
			if errors.Is(err, variant.ErrNotAvailable) {
				// Variant gone (e.g. size out of stock): leave the item
				// untouched for this cycle, no flag changes.
				e.log.Debug("variant not available, skipping item",
					"chat_id", item.ChatID,
					"product_id", item.ProductID,
					"selector", item.VariantSelector,
				)
				mu.Lock()
				report.ItemsSkipped++
				mu.Unlock()
				continue
			}
			return fmt.Errorf("resolving variant for %d/%q: %w", p.ID, selector, err)
		}

		changed := applyObservation(item, p.Name, price, now)

		if err := e.store.UpdateObservation(ctx, item); err != nil {
			return fmt.Errorf("persisting observation %d/%d: %w", item.ChatID, item.ProductID, err)
		}

		metrics.ItemsRefreshedTotal.Inc()
		mu.Lock()
		report.ItemsRefreshed++
		if changed {
			report.ItemsChanged++
		}
		mu.Unlock()

		if changed {
			metrics.ItemsChangedTotal.Inc()
			e.log.Info("price change detected",
				"chat_id", item.ChatID,
				"product_id", item.ProductID,
				"selector", item.VariantSelector,
				"price", domain.FormatPrice(item.CurrentPrice),
			)
		}
	}

	return nil
}

// partition splits ids into chunks of at most size elements.
func partition(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = 1
	}

	var batches [][]int64
	for len(ids) > size {
		batches = append(batches, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		batches = append(batches, ids)
	}
	return batches
}
