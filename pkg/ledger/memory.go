package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/fingerprint"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

// Memory is an in-process Ledger. Superseded entries are kept in history.
type Memory struct {
	mu      sync.RWMutex
	active  map[models.RecordRef]models.LedgerEntry
	history []models.LedgerEntry
}

func NewMemory() *Memory {
	return &Memory{active: make(map[models.RecordRef]models.LedgerEntry)}
}

func (m *Memory) Lookup(_ context.Context, sourceSystem, sourcePK string) (*models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.active[models.RecordRef{SourceSystem: sourceSystem, SourcePK: sourcePK}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) Upsert(_ context.Context, entry models.LedgerEntry) error {
	if entry.SourceSystem == "" || entry.SourcePK == "" || entry.CanonicalID == "" {
		return errs.Config("ledger entry needs a source system, source pk and canonical id")
	}

	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := entry.Ref()
	if existing, ok := m.active[ref]; ok {
		entry.CreatedAt = existing.CreatedAt
	} else {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.SupersededAt = nil
	m.active[ref] = entry
	return nil
}

func (m *Memory) Changed(ctx context.Context, sourceSystem, sourcePK, hash string) (bool, error) {
	e, err := m.Lookup(ctx, sourceSystem, sourcePK)
	if err != nil || e == nil {
		return true, err
	}
	return fingerprint.HasChanged(e.ContentHash, hash), nil
}

func (m *Memory) Supersede(_ context.Context, filter SupersedeFilter) (int, error) {
	if filter.RunID == "" && filter.BatchID == "" {
		return 0, errs.Config("supersede needs a run or batch")
	}
	at := filter.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for ref, e := range m.active {
		if !filter.matches(e) {
			continue
		}
		e.SupersededAt = &at
		m.history = append(m.history, e)
		delete(m.active, ref)
		count++
	}
	return count, nil
}

func (m *Memory) ListByBatch(_ context.Context, batchID string) ([]models.LedgerEntry, error) {
	return m.list(func(e models.LedgerEntry) bool { return e.BatchID == batchID }), nil
}

func (m *Memory) ListByRun(_ context.Context, runID string) ([]models.LedgerEntry, error) {
	return m.list(func(e models.LedgerEntry) bool { return e.RunID == runID }), nil
}

// History returns superseded entries, oldest first.
func (m *Memory) History() []models.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.LedgerEntry(nil), m.history...)
}

func (m *Memory) list(keep func(models.LedgerEntry) bool) []models.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.LedgerEntry
	for _, e := range m.active {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceSystem != out[j].SourceSystem {
			return out[i].SourceSystem < out[j].SourceSystem
		}
		return out[i].SourcePK < out[j].SourcePK
	})
	return out
}
