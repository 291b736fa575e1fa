// Package references records the foreign key values written into the target
// so post-load checks can verify they still resolve.
package references

import (
	"context"
	"sort"
	"sync"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

// Store persists written references. References are append only.
type Store interface {
	Record(ctx context.Context, refs []models.WrittenReference) error
	ListByBatch(ctx context.Context, batchID string) ([]models.WrittenReference, error)
	// ListByTarget returns every reference of the run pointing at one of targetTypes.
	ListByTarget(ctx context.Context, runID string, targetTypes []string) ([]models.WrittenReference, error)
}

type MemoryStore struct {
	mu   sync.RWMutex
	refs []models.WrittenReference
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(_ context.Context, refs []models.WrittenReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, refs...)
	return nil
}

func (s *MemoryStore) ListByBatch(_ context.Context, batchID string) ([]models.WrittenReference, error) {
	return s.filter(func(r models.WrittenReference) bool { return r.BatchID == batchID }), nil
}

func (s *MemoryStore) ListByTarget(_ context.Context, runID string, targetTypes []string) ([]models.WrittenReference, error) {
	want := make(map[string]struct{}, len(targetTypes))
	for _, t := range targetTypes {
		want[t] = struct{}{}
	}
	return s.filter(func(r models.WrittenReference) bool {
		_, ok := want[r.TargetType]
		return r.RunID == runID && ok
	}), nil
}

func (s *MemoryStore) filter(keep func(models.WrittenReference) bool) []models.WrittenReference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.WrittenReference
	for _, r := range s.refs {
		if keep(r) {
			out = append(out, r)
		}
	}
	Sort(out)
	return out
}

// Sort orders references by source entity, field and target.
func Sort(refs []models.WrittenReference) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.FromEntityType != b.FromEntityType {
			return a.FromEntityType < b.FromEntityType
		}
		if a.FromID != b.FromID {
			return a.FromID < b.FromID
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.TargetID < b.TargetID
	})
}
