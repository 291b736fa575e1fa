package runner

import (
	"context"
	"sort"
	"sync"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

// Store persists runs and their batches.
type Store interface {
	// CreateRun inserts the run and all of its batches.
	CreateRun(ctx context.Context, run models.BatchRun) error
	// UpdateRun persists the run columns. Batches are written with UpdateBatch.
	UpdateRun(ctx context.Context, run models.BatchRun) error
	UpdateBatch(ctx context.Context, batch models.Batch) error
	// GetRun returns nil when the run does not exist.
	GetRun(ctx context.Context, id string) (*models.BatchRun, error)
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]models.BatchRun, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]models.BatchRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]models.BatchRun)}
}

func (s *MemoryStore) CreateRun(_ context.Context, run models.BatchRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, run models.BatchRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[run.ID]
	if !ok {
		return errRunNotFound(run.ID)
	}
	batches := stored.Batches
	stored = cloneRun(run)
	stored.Batches = batches
	s.runs[run.ID] = stored
	return nil
}

func (s *MemoryStore) UpdateBatch(_ context.Context, batch models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[batch.RunID]
	if !ok {
		return errRunNotFound(batch.RunID)
	}
	for i := range run.Batches {
		if run.Batches[i].ID == batch.ID {
			run.Batches[i] = cloneBatch(batch)
			return nil
		}
	}
	return errBatchNotFound(batch.RunID, batch.Position)
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*models.BatchRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	run = cloneRun(run)
	return &run, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]models.BatchRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.BatchRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRun(run models.BatchRun) models.BatchRun {
	batches := make([]models.Batch, len(run.Batches))
	for i, b := range run.Batches {
		batches[i] = cloneBatch(b)
	}
	run.Batches = batches
	return run
}

func cloneBatch(b models.Batch) models.Batch {
	counts := make(map[string]models.Counts, len(b.Counts))
	for k, v := range b.Counts {
		counts[k] = v
	}
	b.Counts = counts
	b.EntityTypes = append([]string(nil), b.EntityTypes...)
	b.Findings = append([]models.Finding(nil), b.Findings...)
	return b
}
