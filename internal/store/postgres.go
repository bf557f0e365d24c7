package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "wb-price-watcher/pkg/types"
)

const defaultPoolSize = 10

// PostgresStore implements Store using pgxpool (connection-pooled PostgreSQL).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore with connection pooling.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	cfg.MaxConns = defaultPoolSize

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close gracefully shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies pending SQL schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return RunMigrations(ctx, s.pool)
}

// EnsureSubscriber inserts a subscriber row if it does not exist yet.
func (s *PostgresStore) EnsureSubscriber(ctx context.Context, chatID int64) error {
	if _, err := s.pool.Exec(ctx, queryEnsureSubscriber, chatID); err != nil {
		return fmt.Errorf("ensuring subscriber %d: %w", chatID, err)
	}
	return nil
}

// ListSubscribers returns all known subscribers.
func (s *PostgresStore) ListSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := s.pool.Query(ctx, queryListSubscribers)
	if err != nil {
		return nil, fmt.Errorf("querying subscribers: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		var sub domain.Subscriber
		if err := rows.Scan(&sub.ChatID, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscribers: %w", err)
	}
	return subs, nil
}

// ListItems returns all tracked items of one subscriber.
func (s *PostgresStore) ListItems(ctx context.Context, chatID int64) ([]domain.TrackedItem, error) {
	return s.queryItems(ctx, queryListItems, chatID)
}

// ListDistinctProductIDs returns the distinct product ids tracked by any
// subscriber.
func (s *PostgresStore) ListDistinctProductIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, queryListDistinctProductIDs)
	if err != nil {
		return nil, fmt.Errorf("querying distinct product ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning product id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating product ids: %w", err)
	}
	return ids, nil
}

// ListItemsByProduct returns every tracked item referencing a product id,
// across all subscribers and variant selectors.
func (s *PostgresStore) ListItemsByProduct(
	ctx context.Context,
	productID int64,
) ([]domain.TrackedItem, error) {
	return s.queryItems(ctx, queryListItemsByProduct, productID)
}

// UpsertItem inserts or replaces a tracked item by its full key.
func (s *PostgresStore) UpsertItem(ctx context.Context, item *domain.TrackedItem) error {
	args := pgx.NamedArgs{
		"chat_id":                 item.ChatID,
		"product_id":              item.ProductID,
		"variant_selector":        item.VariantSelector,
		"name":                    item.Name,
		"current_price":           item.CurrentPrice,
		"previous_notified_price": item.PreviousNotifiedPrice,
		"pending_change":          item.PendingChange,
	}
	if _, err := s.pool.Exec(ctx, queryUpsertItem, args); err != nil {
		return fmt.Errorf("upserting item %d/%d: %w", item.ChatID, item.ProductID, err)
	}
	return nil
}

// RemoveItem deletes one tracked item by its full key.
func (s *PostgresStore) RemoveItem(
	ctx context.Context,
	chatID, productID int64,
	selector string,
) error {
	if _, err := s.pool.Exec(ctx, queryRemoveItem, chatID, productID, selector); err != nil {
		return fmt.Errorf("removing item %d/%d/%q: %w", chatID, productID, selector, err)
	}
	return nil
}

// RemoveProduct deletes all of a subscriber's tracked items for a product,
// regardless of variant selector.
func (s *PostgresStore) RemoveProduct(ctx context.Context, chatID, productID int64) error {
	if _, err := s.pool.Exec(ctx, queryRemoveProduct, chatID, productID); err != nil {
		return fmt.Errorf("removing product %d/%d: %w", chatID, productID, err)
	}
	return nil
}

// ClearItems deletes all tracked items of one subscriber.
func (s *PostgresStore) ClearItems(ctx context.Context, chatID int64) error {
	if _, err := s.pool.Exec(ctx, queryClearItems, chatID); err != nil {
		return fmt.Errorf("clearing items for %d: %w", chatID, err)
	}
	return nil
}

// UpdateObservation persists a reconciliation touch for one item.
func (s *PostgresStore) UpdateObservation(ctx context.Context, item *domain.TrackedItem) error {
	args := pgx.NamedArgs{
		"chat_id":          item.ChatID,
		"product_id":       item.ProductID,
		"variant_selector": item.VariantSelector,
		"name":             item.Name,
		"current_price":    item.CurrentPrice,
		"pending_change":   item.PendingChange,
	}
	// A zero-row update means the item was unfollowed between the read and
	// this write; that is not an error.
	if _, err := s.pool.Exec(ctx, queryUpdateObservation, args); err != nil {
		return fmt.Errorf("updating observation %d/%d: %w", item.ChatID, item.ProductID, err)
	}
	return nil
}

// CommitNotification clears pending_change and advances the notified
// baseline for all given keys in one transaction.
func (s *PostgresStore) CommitNotification(
	ctx context.Context,
	chatID int64,
	keys []domain.ItemKey,
) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning commit transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, k := range keys {
		if _, err := tx.Exec(ctx, queryCommitItem, chatID, k.ProductID, k.VariantSelector); err != nil {
			return fmt.Errorf("committing item %d/%d: %w", chatID, k.ProductID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing notification for %d: %w", chatID, err)
	}
	return nil
}

// InsertTickRun records the start of a tick and returns its id.
func (s *PostgresStore) InsertTickRun(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if _, err := s.pool.Exec(ctx, queryInsertTickRun, id); err != nil {
		return "", fmt.Errorf("inserting tick run: %w", err)
	}
	return id, nil
}

// CompleteTickRun finalizes a tick run with its status and counts.
func (s *PostgresStore) CompleteTickRun(
	ctx context.Context,
	id, status, errText string,
	cycle *domain.CycleReport,
	dispatch *domain.DispatchReport,
) error {
	var refreshed, changed, sent int
	if cycle != nil {
		refreshed = cycle.ItemsRefreshed
		changed = cycle.ItemsChanged
	}
	if dispatch != nil {
		sent = dispatch.MessagesSent
	}

	if _, err := s.pool.Exec(ctx, queryCompleteTickRun,
		id, status, errText, refreshed, changed, sent,
	); err != nil {
		return fmt.Errorf("completing tick run %s: %w", id, err)
	}
	return nil
}

// ListTickRuns returns the most recent tick runs, newest first.
func (s *PostgresStore) ListTickRuns(ctx context.Context, limit int) ([]domain.TickRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, queryListTickRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("querying tick runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.TickRun
	for rows.Next() {
		var r domain.TickRun
		if err := rows.Scan(
			&r.ID, &r.StartedAt, &r.CompletedAt, &r.Status, &r.ErrorText,
			&r.ItemsRefreshed, &r.ItemsChanged, &r.MessagesSent,
		); err != nil {
			return nil, fmt.Errorf("scanning tick run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tick runs: %w", err)
	}
	return runs, nil
}

func (s *PostgresStore) queryItems(
	ctx context.Context,
	sql string,
	arg any,
) ([]domain.TrackedItem, error) {
	rows, err := s.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []domain.TrackedItem
	for rows.Next() {
		var it domain.TrackedItem
		if err := rows.Scan(
			&it.ChatID, &it.ProductID, &it.VariantSelector, &it.Name,
			&it.CurrentPrice, &it.PreviousNotifiedPrice, &it.PendingChange, &it.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return items, nil
}
