package models

import "time"

type QuarantineStatus string

const (
	QuarantineStatusPending  QuarantineStatus = "pending"
	QuarantineStatusResolved QuarantineStatus = "resolved"
	QuarantineStatusSkipped  QuarantineStatus = "skipped"
)

// ResolveAction is a reviewer's decision on a quarantined record.
type ResolveAction string

const (
	ActionMatch  ResolveAction = "match"
	ActionCreate ResolveAction = "create"
	ActionSkip   ResolveAction = "skip"
)

func (a ResolveAction) Valid() bool {
	switch a {
	case ActionMatch, ActionCreate, ActionSkip:
		return true
	}
	return false
}

// QuarantineItem holds a record the engine could not resolve automatically.
// Items are never deleted.
type QuarantineItem struct {
	ID          string           `json:"id"`
	RunID       string           `json:"run_id"`
	BatchID     string           `json:"batch_id"`
	EntityType  string           `json:"entity_type"`
	Record      SourceRecord     `json:"record"`
	Reason      QuarantineReason `json:"reason"`
	Rule        string           `json:"rule,omitempty"`
	Detail      string           `json:"detail,omitempty"`
	Candidates  []MatchCandidate `json:"candidates"`
	TopScore    float64          `json:"top_score"`
	Status      QuarantineStatus `json:"status"`
	Action      ResolveAction    `json:"action,omitempty"`
	CanonicalID string           `json:"canonical_id,omitempty"`
	ResolvedBy  string           `json:"resolved_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
	AppliedAt   *time.Time       `json:"applied_at,omitempty"`
}

// Replayable reports whether resume-from-quarantine should re-attempt the item.
func (q QuarantineItem) Replayable() bool {
	switch q.Status {
	case QuarantineStatusPending:
		return true
	case QuarantineStatusResolved:
		return q.AppliedAt == nil
	}
	return false
}

// Decision is an immutable audit row appended for every resolution.
type Decision struct {
	ID          string           `json:"id"`
	ItemID      string           `json:"item_id"`
	Record      SourceRecord     `json:"record"`
	Candidates  []MatchCandidate `json:"candidates"`
	Action      ResolveAction    `json:"action"`
	CanonicalID string           `json:"canonical_id,omitempty"`
	ResolvedBy  string           `json:"resolved_by"`
	CreatedAt   time.Time        `json:"created_at"`
}

// QuarantineFilter narrows List. Zero values match everything.
type QuarantineFilter struct {
	RunID      string           `json:"run_id" query:"run_id"`
	BatchID    string           `json:"batch_id" query:"batch_id"`
	EntityType string           `json:"entity_type" query:"entity_type"`
	Status     QuarantineStatus `json:"status" query:"status"`
	MinScore   float64          `json:"min_score" query:"min_score"`
	Limit      int              `json:"limit" query:"limit"`
}

func (f QuarantineFilter) Matches(item QuarantineItem) bool {
	if f.RunID != "" && item.RunID != f.RunID {
		return false
	}
	if f.BatchID != "" && item.BatchID != f.BatchID {
		return false
	}
	if f.EntityType != "" && item.EntityType != f.EntityType {
		return false
	}
	if f.Status != "" && item.Status != f.Status {
		return false
	}
	return item.TopScore >= f.MinScore
}
