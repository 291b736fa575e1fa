package models

// MatchedBy records which pass produced a candidate.
type MatchedBy string

const (
	MatchedByDeterministic MatchedBy = "deterministic"
	MatchedByProbabilistic MatchedBy = "probabilistic"
)

// MatchCandidate is an existing canonical entity scored against an input record.
type MatchCandidate struct {
	CanonicalID string             `json:"canonical_id"`
	EntityType  string             `json:"entity_type"`
	Score       float64            `json:"score"`
	MatchedBy   MatchedBy          `json:"matched_by"`
	Strategy    string             `json:"strategy,omitempty"`
	FieldScores map[string]float64 `json:"field_scores,omitempty"`
}

type ResolutionKind string

const (
	ResolutionAutoMatch  ResolutionKind = "auto_match"
	ResolutionAutoCreate ResolutionKind = "auto_create"
	ResolutionQuarantine ResolutionKind = "quarantine"
)

// QuarantineReason says why a record needs human review.
type QuarantineReason string

const (
	ReasonMultiMatch      QuarantineReason = "multi_match"
	ReasonLowConfidence   QuarantineReason = "low_confidence"
	ReasonAmbiguousAnchor QuarantineReason = "ambiguous_anchor"
	// ReasonValidationFailed tags a pre-load rule failure; Rule names the rule.
	ReasonValidationFailed QuarantineReason = "validation_failed"
	// ReasonWriteFailed tags a permanent or retry-exhausted adapter failure.
	ReasonWriteFailed QuarantineReason = "write_failed"
)

// Resolution is the MatchEngine's decision for one record.
type Resolution struct {
	Kind        ResolutionKind   `json:"kind"`
	CanonicalID string           `json:"canonical_id,omitempty"`
	Score       float64          `json:"score"`
	MatchedBy   MatchedBy        `json:"matched_by,omitempty"`
	Reason      QuarantineReason `json:"reason,omitempty"`
	Candidates  []MatchCandidate `json:"candidates,omitempty"`
}
