package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wb-price-watcher/internal/store"
	"wb-price-watcher/pkg/logger"
	domain "wb-price-watcher/pkg/types"
)

// fakeSource serves canned catalog data and records every batch it was
// asked for. Batches containing a fail id error out wholesale.
type fakeSource struct {
	mu       sync.Mutex
	products map[int64]domain.Product
	maxBatch int
	batches  [][]int64
	failIDs  map[int64]bool
}

func newFakeSource(products ...domain.Product) *fakeSource {
	f := &fakeSource{
		products: make(map[int64]domain.Product),
		maxBatch: 100,
		failIDs:  make(map[int64]bool),
	}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeSource) MaxBatchSize() int { return f.maxBatch }

func (f *fakeSource) FetchBatch(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches = append(f.batches, ids)

	out := make(map[int64]domain.Product)
	for _, id := range ids {
		if f.failIDs[id] {
			return nil, errors.New("source unavailable")
		}
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeSource) setPrice(productID int64, label string, price int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.products[productID]
	for i := range p.Variants {
		if p.Variants[i].Label == label {
			p.Variants[i].Price = price
		}
	}
	f.products[productID] = p
}

// fakeSender records sent messages per chat and can fail selected chats.
type fakeSender struct {
	mu      sync.Mutex
	sent    map[int64][]string
	failFor map[int64]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		sent:    make(map[int64][]string),
		failFor: make(map[int64]bool),
	}
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFor[chatID] {
		return errors.New("telegram unreachable")
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

func (f *fakeSender) messages(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[chatID]...)
}

func (f *fakeSender) setFail(chatID int64, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFor[chatID] = fail
}

func seedItem(t *testing.T, s store.Store, chatID, productID int64, selector string, price int64) {
	t.Helper()
	require.NoError(t, s.UpsertItem(context.Background(), &domain.TrackedItem{
		ChatID:                chatID,
		ProductID:             productID,
		VariantSelector:       selector,
		Name:                  "Seeded item",
		CurrentPrice:          price,
		PreviousNotifiedPrice: price,
	}))
}

func newTestEngine(s store.Store, src *fakeSource, snd *fakeSender, opts ...Option) *Engine {
	base := []Option{WithLogger(logger.Nop())}
	return New(s, src, snd, append(base, opts...)...)
}

func product(id int64, name string, variants ...domain.Variant) domain.Product {
	return domain.Product{ID: id, Name: name, Variants: variants}
}

func TestTickEmptyTrackedSetSkipsSource(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := newFakeSource()
	snd := newFakeSender()

	eng := newTestEngine(st, src, snd)
	require.NoError(t, eng.Tick(ctx))

	assert.Zero(t, src.callCount())

	runs, err := st.ListTickRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "ok", runs[0].Status)
}

func TestTickPriceDropNotifiesAndCommits(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := newFakeSource(product(100, "Cool jacket", domain.Variant{Label: "", Price: 900}))
	snd := newFakeSender()

	seedItem(t, st, 1, 100, "", 1000)

	eng := newTestEngine(st, src, snd)
	require.NoError(t, eng.Tick(ctx))

	msgs := snd.messages(1)
	require.Len(t, msgs, 1)
	assert.Equal(t,
		"Item: Cool jacket\n"+
			"New price: 9.00 rub.\n"+
			"Price decreased by 1.00 (10.00%)\n"+
			"Link: https://www.wildberries.ru/catalog/100/detail.aspx",
		msgs[0],
	)

	items, err := st.ListItems(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].PendingChange)
	assert.Equal(t, int64(900), items[0].CurrentPrice)
	assert.Equal(t, int64(900), items[0].PreviousNotifiedPrice)

	runs, err := st.ListTickRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].ItemsRefreshed)
	assert.Equal(t, 1, runs[0].ItemsChanged)
	assert.Equal(t, 1, runs[0].MessagesSent)
}

func TestTickPriceRiseWording(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := newFakeSource(product(100, "Boots", domain.Variant{Label: "", Price: 1250}))
	snd := newFakeSender()

	seedItem(t, st, 1, 100, "", 1000)

	eng := newTestEngine(st, src, snd)
	require.NoError(t, eng.Tick(ctx))

	msgs := snd.messages(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Price increased by 2.50 (25.00%)")
}

func TestTickIsIdempotentOnUnchangedState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := newFakeSource(product(100, "Cool jacket", domain.Variant{Label: "", Price: 900}))
	snd := newFakeSender()

	seedItem(t, st, 1, 100, "", 1000)

	eng := newTestEngine(st, src, snd)
	require.NoError(t, eng.Tick(ctx))
	require.NoError(t, eng.Tick(ctx))

	// The change was delivered once; the second pass found nothing new.
	assert.Len(t, snd.messages(1), 1)
}

func TestTickSendFailureKeepsChangePending(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := newFakeSource(product(100, "Cool jacket", domain.Variant{Label: "", Price: 900}))
	snd := newFakeSender()
	snd.setFail(1, true)

	seedItem(t, st, 1, 100, "", 1000)

	eng := newTestEngine(st, src, snd)
	require.NoError(t, eng.Tick(ctx))

	items, err := st.ListItems(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].PendingChange)
	assert.Equal(t, int64(1000), items[0].PreviousNotifiedPrice)

	// Delivery recovers: the next tick re-sends the same change.
	snd.setFail(1, false)
	require.NoError(t, eng.Tick(ctx))

	msgs := snd.messages(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Price decreased by 1.00 (10.00%)")

	items, err = st.ListItems(ctx, 1)
	require.NoError(t, err)
	assert.False(t, items[0].PendingChange)
}

func TestTickBatchFailureIsolation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := newFakeSource(
		product(100, "Cool jacket", domain.Variant{Label: "", Price: 900}),
		product(200, "Boots", domain.Variant{Label: "", Price: 2000}),
	)
	src.maxBatch = 1
	src.failIDs[200] = true

	snd := newFakeSender()

	seedItem(t, st, 1, 100, "", 1000)
	seedItem(t, st, 1, 200, "", 2000)

	eng := newTestEngine(st, src, snd)
	require.NoError(t, eng.Tick(ctx))

	// The healthy batch still went through end to end.
	msgs := snd.messages(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Cool jacket")
	assert.NotContains(t, msgs[0], "Boots")

	runs, err := st.ListTickRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "ok", runs[0].Status)
	assert.Equal(t, 1, runs[0].ItemsRefreshed)
}

func TestCycleVariantGoneLeavesItemUntouched(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := newFakeSource(product(100, "Cool jacket",
		domain.Variant{Label: "S", Price: 800},
		domain.Variant{Label: "M", Price: 900},
	))
	snd := newFakeSender()

	seedItem(t, st, 1, 100, "L", 1000)

	eng := newTestEngine(st, src, snd)

	report, err := eng.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ItemsSkipped)
	assert.Zero(t, report.ItemsRefreshed)

	items, err := st.ListItems(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1000), items[0].CurrentPrice)
	assert.False(t, items[0].PendingChange)
}

func TestCycleVariantsTrackedIndependently(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := newFakeSource(product(100, "Cool jacket",
		domain.Variant{Label: "S", Price: 700},
		domain.Variant{Label: "M", Price: 900},
	))
	snd := newFakeSender()

	seedItem(t, st, 1, 100, "S", 800)
	seedItem(t, st, 1, 100, "M", 900)

	eng := newTestEngine(st, src, snd)
	require.NoError(t, eng.Tick(ctx))

	msgs := snd.messages(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "(size S)")
	assert.NotContains(t, msgs[0], "(size M)")
}

func TestCycleVariantTrackingDisabledUsesFirstVariant(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := newFakeSource(product(100, "Cool jacket",
		domain.Variant{Label: "S", Price: 700},
		domain.Variant{Label: "M", Price: 900},
	))
	snd := newFakeSender()

	seedItem(t, st, 1, 100, "M", 900)

	eng := newTestEngine(st, src, snd, WithVariantTracking(false))

	report, err := eng.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ItemsChanged)

	items, err := st.ListItems(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(700), items[0].CurrentPrice)
}

func TestDispatchConsolidatesPerSubscriber(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := newFakeSource(
		product(100, "Cool jacket", domain.Variant{Label: "", Price: 900}),
		product(200, "Boots", domain.Variant{Label: "", Price: 1800}),
	)
	snd := newFakeSender()

	seedItem(t, st, 1, 100, "", 1000)
	seedItem(t, st, 1, 200, "", 2000)
	seedItem(t, st, 2, 100, "", 900) // unchanged for this subscriber

	eng := newTestEngine(st, src, snd)
	require.NoError(t, eng.Tick(ctx))

	// Subscriber 1: exactly one message carrying both changes.
	msgs := snd.messages(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Cool jacket")
	assert.Contains(t, msgs[0], "Boots")
	assert.Equal(t, 1, strings.Count(msgs[0], "\n\n"))

	// Subscriber 2: nothing changed, silence.
	assert.Empty(t, snd.messages(2))
}

func TestDispatchAlwaysModeIncludesUnchangedItems(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := newFakeSource(
		product(100, "Cool jacket", domain.Variant{Label: "", Price: 900}),
		product(200, "Boots", domain.Variant{Label: "", Price: 2000}),
	)
	snd := newFakeSender()

	seedItem(t, st, 1, 100, "", 1000)
	seedItem(t, st, 1, 200, "", 2000)

	eng := newTestEngine(st, src, snd, WithNotifyMode(NotifyAlways))
	require.NoError(t, eng.Tick(ctx))

	msgs := snd.messages(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Price decreased by 1.00 (10.00%)")
	assert.Contains(t, msgs[0], "Current price: 20.00 rub.")
}

func TestDispatchAlwaysModeMessagesUnchangedSubscriber(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := newFakeSource(product(100, "Cool jacket", domain.Variant{Label: "", Price: 1000}))
	snd := newFakeSender()

	seedItem(t, st, 1, 100, "", 1000)

	eng := newTestEngine(st, src, snd, WithNotifyMode(NotifyAlways))
	require.NoError(t, eng.Tick(ctx))

	msgs := snd.messages(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Current price: 10.00 rub.")
}

func TestComposeItemZeroBaseline(t *testing.T) {
	item := domain.TrackedItem{
		ProductID:             100,
		Name:                  "Freebie",
		CurrentPrice:          500,
		PreviousNotifiedPrice: 0,
		PendingChange:         true,
	}

	text := composeItem(&item)
	assert.Contains(t, text, "Price increased by 5.00 (0.00%)")
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name string
		ids  []int64
		size int
		want [][]int64
	}{
		{name: "empty", ids: nil, size: 3, want: nil},
		{name: "single chunk", ids: []int64{1, 2}, size: 3, want: [][]int64{{1, 2}}},
		{name: "exact multiple", ids: []int64{1, 2, 3, 4}, size: 2, want: [][]int64{{1, 2}, {3, 4}}},
		{name: "remainder", ids: []int64{1, 2, 3}, size: 2, want: [][]int64{{1, 2}, {3}}},
		{name: "size guard", ids: []int64{1, 2}, size: 0, want: [][]int64{{1}, {2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, partition(tt.ids, tt.size))
		})
	}
}

// hangingStore blocks product id listing until the caller's context
// expires, like a database that stopped answering.
type hangingStore struct {
	store.Store
}

func (h *hangingStore) ListDistinctProductIDs(ctx context.Context) ([]int64, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTickDeadlineBoundsHungStoreCall(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedItem(t, mem, 1, 100, "", 1000)

	src := newFakeSource()
	snd := newFakeSender()

	eng := newTestEngine(&hangingStore{Store: mem}, src, snd,
		WithTickTimeout(50*time.Millisecond))

	start := time.Now()
	err := eng.Tick(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The tick released its lock; the next one runs instead of skipping.
	assert.True(t, eng.tickMu.TryLock())
	eng.tickMu.Unlock()

	// The aborted tick is still recorded, on a fresh context.
	runs, err := mem.ListTickRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
}

// failingListStore fails per-subscriber item reads during dispatch.
type failingListStore struct {
	store.Store
}

func (f *failingListStore) ListItems(context.Context, int64) ([]domain.TrackedItem, error) {
	return nil, errors.New("connection reset")
}

func TestDispatchStoreFailureFailsTickNotSendStats(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedItem(t, mem, 1, 100, "", 1000)

	src := newFakeSource(product(100, "Cool jacket", domain.Variant{Label: "", Price: 900}))
	snd := newFakeSender()

	eng := newTestEngine(&failingListStore{Store: mem}, src, snd)

	err := eng.Tick(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notification dispatch")

	report, dispatchErr := eng.Dispatch(ctx)
	require.Error(t, dispatchErr)
	assert.Zero(t, report.SendFailures)
	assert.Zero(t, report.MessagesSent)
}

func TestDispatchRevertedPriceUsesNeutralWording(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := newFakeSource(product(100, "Cool jacket", domain.Variant{Label: "", Price: 900}))
	snd := newFakeSender()
	snd.setFail(1, true)

	seedItem(t, st, 1, 100, "", 1000)

	eng := newTestEngine(st, src, snd)

	// The drop is detected but delivery fails, so the change stays pending.
	require.NoError(t, eng.Tick(ctx))

	// The price climbs back to the notified baseline before the next tick.
	src.setPrice(100, "", 1000)
	snd.setFail(1, false)
	require.NoError(t, eng.Tick(ctx))

	msgs := snd.messages(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "New price: 10.00 rub.")
	assert.Contains(t, msgs[0], "Price returned to the last notified price")
	assert.NotContains(t, msgs[0], "by 0.00")

	items, err := st.ListItems(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].PendingChange)
	assert.Equal(t, int64(1000), items[0].PreviousNotifiedPrice)
}

func TestTickManySubscribersManyProducts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	var products []domain.Product
	for id := int64(1); id <= 10; id++ {
		products = append(products, product(id, fmt.Sprintf("Item %d", id),
			domain.Variant{Label: "", Price: id * 90}))
	}
	src := newFakeSource(products...)
	src.maxBatch = 3
	snd := newFakeSender()

	for chat := int64(1); chat <= 5; chat++ {
		for id := int64(1); id <= 10; id++ {
			seedItem(t, st, chat, id, "", id*100)
		}
	}

	eng := newTestEngine(st, src, snd, WithBatchConcurrency(2), WithDispatchConcurrency(3))
	require.NoError(t, eng.Tick(ctx))

	// 10 products in batches of 3.
	assert.Equal(t, 4, src.callCount())

	for chat := int64(1); chat <= 5; chat++ {
		msgs := snd.messages(chat)
		require.Len(t, msgs, 1, "chat %d", chat)
		assert.Equal(t, 10, strings.Count(msgs[0], "Item: "))
	}

	runs, err := st.ListTickRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 50, runs[0].ItemsRefreshed)
	assert.Equal(t, 50, runs[0].ItemsChanged)
	assert.Equal(t, 5, runs[0].MessagesSent)
}
