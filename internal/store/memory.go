package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "wb-price-watcher/pkg/types"
)

// MemoryStore implements Store in process memory. It backs unit tests and
// the `database.driver: memory` local-development mode; state does not
// survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	subs  map[int64]time.Time
	items map[int64]map[domain.ItemKey]domain.TrackedItem
	runs  []domain.TickRun
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:  make(map[int64]time.Time),
		items: make(map[int64]map[domain.ItemKey]domain.TrackedItem),
	}
}

// EnsureSubscriber registers a chat id if it is not known yet.
func (s *MemoryStore) EnsureSubscriber(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[chatID]; !ok {
		s.subs[chatID] = time.Now()
		s.items[chatID] = make(map[domain.ItemKey]domain.TrackedItem)
	}
	return nil
}

// ListSubscribers returns all subscribers ordered by chat id.
func (s *MemoryStore) ListSubscribers(_ context.Context) ([]domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make([]domain.Subscriber, 0, len(s.subs))
	for id, created := range s.subs {
		subs = append(subs, domain.Subscriber{ChatID: id, CreatedAt: created})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ChatID < subs[j].ChatID })
	return subs, nil
}

// ListItems returns one subscriber's tracked items.
func (s *MemoryStore) ListItems(_ context.Context, chatID int64) ([]domain.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []domain.TrackedItem
	for _, it := range s.items[chatID] {
		items = append(items, it)
	}
	sortItems(items)
	return items, nil
}

// ListDistinctProductIDs returns every product id tracked by anyone.
func (s *MemoryStore) ListDistinctProductIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int64]struct{})
	for _, byKey := range s.items {
		for k := range byKey {
			seen[k.ProductID] = struct{}{}
		}
	}

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListItemsByProduct returns every tracked item referencing a product id.
func (s *MemoryStore) ListItemsByProduct(
	_ context.Context,
	productID int64,
) ([]domain.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []domain.TrackedItem
	for _, byKey := range s.items {
		for k, it := range byKey {
			if k.ProductID == productID {
				items = append(items, it)
			}
		}
	}
	sortItems(items)
	return items, nil
}

// UpsertItem inserts or replaces a tracked item.
func (s *MemoryStore) UpsertItem(_ context.Context, item *domain.TrackedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[item.ChatID]; !ok {
		s.subs[item.ChatID] = time.Now()
		s.items[item.ChatID] = make(map[domain.ItemKey]domain.TrackedItem)
	}

	stored := *item
	stored.LastUpdated = time.Now()
	s.items[item.ChatID][item.Key()] = stored
	return nil
}

// RemoveItem deletes one tracked item by its full key.
func (s *MemoryStore) RemoveItem(_ context.Context, chatID, productID int64, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[chatID], domain.ItemKey{ProductID: productID, VariantSelector: selector})
	return nil
}

// RemoveProduct deletes all of a subscriber's items for one product.
func (s *MemoryStore) RemoveProduct(_ context.Context, chatID, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.items[chatID] {
		if k.ProductID == productID {
			delete(s.items[chatID], k)
		}
	}
	return nil
}

// ClearItems deletes all tracked items of one subscriber.
func (s *MemoryStore) ClearItems(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[chatID]; ok {
		s.items[chatID] = make(map[domain.ItemKey]domain.TrackedItem)
	}
	return nil
}

// UpdateObservation persists a reconciliation touch. Updating an item that
// was unfollowed in the meantime is a no-op.
func (s *MemoryStore) UpdateObservation(_ context.Context, item *domain.TrackedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.items[item.ChatID]
	if !ok {
		return nil
	}
	stored, ok := byKey[item.Key()]
	if !ok {
		return nil
	}

	stored.Name = item.Name
	stored.CurrentPrice = item.CurrentPrice
	stored.PendingChange = item.PendingChange
	stored.LastUpdated = time.Now()
	byKey[item.Key()] = stored
	return nil
}

// CommitNotification clears pending flags and advances baselines for all
// given keys of one subscriber under a single lock acquisition.
func (s *MemoryStore) CommitNotification(
	_ context.Context,
	chatID int64,
	keys []domain.ItemKey,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.items[chatID]
	if !ok {
		return nil
	}

	for _, k := range keys {
		if stored, ok := byKey[k]; ok {
			stored.PendingChange = false
			stored.PreviousNotifiedPrice = stored.CurrentPrice
			byKey[k] = stored
		}
	}
	return nil
}

// InsertTickRun records the start of a tick.
func (s *MemoryStore) InsertTickRun(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := domain.TickRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Status:    "running",
	}
	s.runs = append(s.runs, run)
	return run.ID, nil
}

// CompleteTickRun finalizes a previously inserted tick run.
func (s *MemoryStore) CompleteTickRun(
	_ context.Context,
	id, status, errText string,
	cycle *domain.CycleReport,
	dispatch *domain.DispatchReport,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.runs {
		if s.runs[i].ID != id {
			continue
		}
		now := time.Now()
		s.runs[i].CompletedAt = &now
		s.runs[i].Status = status
		s.runs[i].ErrorText = errText
		if cycle != nil {
			s.runs[i].ItemsRefreshed = cycle.ItemsRefreshed
			s.runs[i].ItemsChanged = cycle.ItemsChanged
		}
		if dispatch != nil {
			s.runs[i].MessagesSent = dispatch.MessagesSent
		}
		return nil
	}
	return ErrNotFound
}

// ListTickRuns returns the most recent tick runs, newest first.
func (s *MemoryStore) ListTickRuns(_ context.Context, limit int) ([]domain.TickRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.runs) {
		limit = len(s.runs)
	}

	runs := make([]domain.TickRun, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(runs) < limit; i-- {
		runs = append(runs, s.runs[i])
	}
	return runs, nil
}

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

func sortItems(items []domain.TrackedItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].ChatID != items[j].ChatID {
			return items[i].ChatID < items[j].ChatID
		}
		if items[i].ProductID != items[j].ProductID {
			return items[i].ProductID < items[j].ProductID
		}
		return items[i].VariantSelector < items[j].VariantSelector
	})
}

// compile-time interface checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
