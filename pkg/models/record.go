package models

import (
	"fmt"
	"time"
)

// SourceRecord is one column-mapped input row. It is immutable once read.
type SourceRecord struct {
	SourceSystem string         `json:"source_system"`
	SourcePK     string         `json:"source_pk"`
	EntityType   string         `json:"entity_type"`
	Fields       map[string]any `json:"fields"`
	ContentHash  string         `json:"content_hash,omitempty"`
}

// Ref identifies the record across runs.
func (r SourceRecord) Ref() RecordRef {
	return RecordRef{SourceSystem: r.SourceSystem, SourcePK: r.SourcePK}
}

// RecordRef is the (source system, source primary key) identity.
type RecordRef struct {
	SourceSystem string `json:"source_system" db:"source_system"`
	SourcePK     string `json:"source_pk" db:"source_pk"`
}

func (r RecordRef) String() string {
	return fmt.Sprintf("%s/%s", r.SourceSystem, r.SourcePK)
}

// CanonicalEntity is the authoritative record owned by the target system.
type CanonicalEntity struct {
	EntityType string         `json:"entity_type"`
	ID         string         `json:"id"`
	Fields     map[string]any `json:"fields"`
	BatchID    string         `json:"batch_id,omitempty"`
}

// Outcome is the terminal state of one record within a batch.
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeMatched     Outcome = "matched"
	OutcomeQuarantined Outcome = "quarantined"
	OutcomeHardFailed  Outcome = "hard_failed"
)

// RecordOutcome is reported for every record a batch processes.
type RecordOutcome struct {
	Record       RecordRef `json:"record"`
	EntityType   string    `json:"entity_type"`
	Outcome      Outcome   `json:"outcome"`
	CanonicalID  string    `json:"canonical_id,omitempty"`
	QuarantineID string    `json:"quarantine_id,omitempty"`
	Updated      bool      `json:"updated,omitempty"`
	Attempts     int       `json:"attempts,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// WrittenReference is a foreign key value the engine wrote into the target,
// recorded so post-load orphan detection can re-check it.
type WrittenReference struct {
	RunID          string    `json:"run_id" db:"run_id"`
	BatchID        string    `json:"batch_id" db:"batch_id"`
	FromEntityType string    `json:"from_entity_type" db:"from_entity_type"`
	FromID         string    `json:"from_id" db:"from_id"`
	Field          string    `json:"field" db:"field"`
	TargetType     string    `json:"target_type" db:"target_type"`
	TargetID       string    `json:"target_id" db:"target_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
