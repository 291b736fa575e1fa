package quarantine

import (
	"context"
	"sort"
	"sync"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

// Store persists quarantine items and the decision log. Items are never deleted.
type Store interface {
	Insert(ctx context.Context, item models.QuarantineItem) error
	// Get returns nil when the item does not exist.
	Get(ctx context.Context, id string) (*models.QuarantineItem, error)
	Update(ctx context.Context, item models.QuarantineItem) error
	List(ctx context.Context, filter models.QuarantineFilter) ([]models.QuarantineItem, error)
	CountPending(ctx context.Context) (int, error)
	AppendDecision(ctx context.Context, decision models.Decision) error
	Decisions(ctx context.Context, itemID string) ([]models.Decision, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[string]models.QuarantineItem
	decisions []models.Decision
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]models.QuarantineItem)}
}

func (s *MemoryStore) Insert(_ context.Context, item models.QuarantineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.QuarantineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *MemoryStore) Update(_ context.Context, item models.QuarantineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter models.QuarantineFilter) ([]models.QuarantineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.QuarantineItem
	for _, item := range s.items {
		if filter.Matches(item) {
			out = append(out, item)
		}
	}
	sortItems(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountPending(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, item := range s.items {
		if item.Status == models.QuarantineStatusPending {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AppendDecision(_ context.Context, decision models.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, decision)
	return nil
}

func (s *MemoryStore) Decisions(_ context.Context, itemID string) ([]models.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Decision
	for _, d := range s.decisions {
		if d.ItemID == itemID {
			out = append(out, d)
		}
	}
	return out, nil
}

// sortItems orders by creation time, then id.
func sortItems(items []models.QuarantineItem) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
