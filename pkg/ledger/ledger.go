// Package ledger maps source record identities to canonical entity ids.
package ledger

import (
	"context"
	"time"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

// Ledger is the durable (source system, source pk) -> canonical id map.
// Implementations keep at most one active entry per key and never delete.
type Ledger interface {
	// Lookup returns the active entry for the key, or nil when there is none.
	Lookup(ctx context.Context, sourceSystem, sourcePK string) (*models.LedgerEntry, error)
	// Upsert creates or replaces the active entry for the entry's key.
	Upsert(ctx context.Context, entry models.LedgerEntry) error
	// Changed reports whether hash differs from the active entry's hash.
	// Keys without an active entry are changed.
	Changed(ctx context.Context, sourceSystem, sourcePK, hash string) (bool, error)
	// Supersede marks the active entries selected by filter and returns how many.
	Supersede(ctx context.Context, filter SupersedeFilter) (int, error)
	ListByBatch(ctx context.Context, batchID string) ([]models.LedgerEntry, error)
	ListByRun(ctx context.Context, runID string) ([]models.LedgerEntry, error)
}

// SupersedeFilter selects entries last written by a run, optionally narrowed to one batch.
type SupersedeFilter struct {
	RunID   string
	BatchID string
	At      time.Time
}

func (f SupersedeFilter) matches(e models.LedgerEntry) bool {
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.BatchID != "" && e.BatchID != f.BatchID {
		return false
	}
	return true
}
