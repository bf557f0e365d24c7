//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"wb-price-watcher/internal/store"
	domain "wb-price-watcher/pkg/types"
)

func setupPostgres(t *testing.T) *store.PostgresStore {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("pricewatch_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := store.NewPostgresStore(ctx, connStr)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
	})

	require.NoError(t, s.Migrate(ctx))

	return s
}

func testItem(chatID, productID int64, selector string, price int64) *domain.TrackedItem {
	return &domain.TrackedItem{
		ChatID:                chatID,
		ProductID:             productID,
		VariantSelector:       selector,
		Name:                  "Test jacket",
		CurrentPrice:          price,
		PreviousNotifiedPrice: price,
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	s := setupPostgres(t)
	require.NoError(t, s.Ping(context.Background()))
}

func TestPostgresStore_Subscribers(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureSubscriber(ctx, 100))
	require.NoError(t, s.EnsureSubscriber(ctx, 100))
	require.NoError(t, s.EnsureSubscriber(ctx, 50))

	subs, err := s.ListSubscribers(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, int64(50), subs[0].ChatID)
	assert.False(t, subs[0].CreatedAt.IsZero())
}

func TestPostgresStore_ItemLifecycle(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureSubscriber(ctx, 1))
	require.NoError(t, s.UpsertItem(ctx, testItem(1, 100, "S", 5000)))
	require.NoError(t, s.UpsertItem(ctx, testItem(1, 100, "M", 5100)))
	require.NoError(t, s.UpsertItem(ctx, testItem(1, 200, "", 9000)))

	t.Run("list items", func(t *testing.T) {
		items, err := s.ListItems(ctx, 1)
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.False(t, items[0].LastUpdated.IsZero())
	})

	t.Run("distinct product ids", func(t *testing.T) {
		ids, err := s.ListDistinctProductIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{100, 200}, ids)
	})

	t.Run("items by product", func(t *testing.T) {
		items, err := s.ListItemsByProduct(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("upsert same key replaces", func(t *testing.T) {
		it := testItem(1, 100, "S", 4500)
		require.NoError(t, s.UpsertItem(ctx, it))

		items, err := s.ListItems(ctx, 1)
		require.NoError(t, err)
		require.Len(t, items, 3)
	})

	t.Run("remove one variant", func(t *testing.T) {
		require.NoError(t, s.RemoveItem(ctx, 1, 100, "S"))
		items, err := s.ListItemsByProduct(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("remove whole product", func(t *testing.T) {
		require.NoError(t, s.RemoveProduct(ctx, 1, 100))
		items, err := s.ListItemsByProduct(ctx, 100)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, s.ClearItems(ctx, 1))
		items, err := s.ListItems(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}

func TestPostgresStore_ObservationAndCommit(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureSubscriber(ctx, 1))
	require.NoError(t, s.UpsertItem(ctx, testItem(1, 100, "", 1000)))
	require.NoError(t, s.UpsertItem(ctx, testItem(1, 200, "", 2000)))

	items, err := s.ListItems(ctx, 1)
	require.NoError(t, err)
	for _, it := range items {
		it.CurrentPrice -= 100
		it.PendingChange = true
		require.NoError(t, s.UpdateObservation(ctx, &it))
	}

	items, err = s.ListItems(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 2)
	// UpdateObservation must not advance the notified baseline.
	assert.Equal(t, int64(900), items[0].CurrentPrice)
	assert.Equal(t, int64(1000), items[0].PreviousNotifiedPrice)
	assert.True(t, items[0].PendingChange)

	require.NoError(t, s.CommitNotification(ctx, 1, []domain.ItemKey{
		{ProductID: 100, VariantSelector: ""},
		{ProductID: 200, VariantSelector: ""},
	}))

	items, err = s.ListItems(ctx, 1)
	require.NoError(t, err)
	for _, it := range items {
		assert.False(t, it.PendingChange)
		assert.Equal(t, it.CurrentPrice, it.PreviousNotifiedPrice)
	}
}

func TestPostgresStore_CascadeOnSubscriberRemoval(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureSubscriber(ctx, 1))
	require.NoError(t, s.UpsertItem(ctx, testItem(1, 100, "", 1000)))
	require.NoError(t, s.ClearItems(ctx, 1))

	ids, err := s.ListDistinctProductIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPostgresStore_TickRuns(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	id, err := s.InsertTickRun(ctx)
	require.NoError(t, err)

	err = s.CompleteTickRun(ctx, id, "ok", "",
		&domain.CycleReport{ItemsRefreshed: 3, ItemsChanged: 1},
		&domain.DispatchReport{MessagesSent: 1},
	)
	require.NoError(t, err)

	runs, err := s.ListTickRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "ok", runs[0].Status)
	assert.Equal(t, 3, runs[0].ItemsRefreshed)
	assert.NotNil(t, runs[0].CompletedAt)
}
