package models

import "time"

// LedgerEntry maps a source record to its canonical entity. At most one active
// (non-superseded) entry exists per (source system, source pk); many entries
// may share a canonical id.
type LedgerEntry struct {
	SourceSystem string     `json:"source_system" db:"source_system"`
	SourcePK     string     `json:"source_pk" db:"source_pk"`
	EntityType   string     `json:"entity_type" db:"entity_type"`
	CanonicalID  string     `json:"canonical_id" db:"canonical_id"`
	ContentHash  string     `json:"content_hash" db:"content_hash"`
	RunID        string     `json:"run_id" db:"run_id"`
	BatchID      string     `json:"batch_id" db:"batch_id"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	SupersededAt *time.Time `json:"superseded_at,omitempty" db:"superseded_at"`
}

func (e LedgerEntry) Ref() RecordRef {
	return RecordRef{SourceSystem: e.SourceSystem, SourcePK: e.SourcePK}
}

func (e LedgerEntry) Active() bool {
	return e.SupersededAt == nil
}
