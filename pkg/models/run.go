package models

import "time"

type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusPartial   BatchStatus = "partial"
	BatchStatusFailed    BatchStatus = "failed"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusPartial, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Counts tallies record outcomes. Skipped is informational: skipped items stay
// counted as quarantined in the batch that produced them.
type Counts struct {
	Total       int `json:"total"`
	Created     int `json:"created"`
	Matched     int `json:"matched"`
	Quarantined int `json:"quarantined"`
	HardFailed  int `json:"hard_failed"`
	Skipped     int `json:"skipped,omitempty"`
}

// Conserved reports whether every row has exactly one terminal outcome.
func (c Counts) Conserved() bool {
	return c.Created+c.Matched+c.Quarantined+c.HardFailed == c.Total
}

func (c *Counts) Record(o Outcome) {
	switch o {
	case OutcomeCreated:
		c.Created++
	case OutcomeMatched:
		c.Matched++
	case OutcomeQuarantined:
		c.Quarantined++
	case OutcomeHardFailed:
		c.HardFailed++
	}
}

func (c *Counts) Add(o Counts) {
	c.Total += o.Total
	c.Created += o.Created
	c.Matched += o.Matched
	c.Quarantined += o.Quarantined
	c.HardFailed += o.HardFailed
	c.Skipped += o.Skipped
}

// Severity ranks post-load findings; only critical findings fail a batch by default.
type Severity string

const (
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Finding is the result of a failed post-load check.
type Finding struct {
	Check      string   `json:"check"`
	Severity   Severity `json:"severity"`
	EntityType string   `json:"entity_type"`
	Message    string   `json:"message"`
	Expected   int      `json:"expected,omitempty"`
	Actual     int      `json:"actual,omitempty"`
}

// Batch is one level of the dependency plan: entity types with no unresolved
// dependency on each other, loaded together.
type Batch struct {
	ID          string            `json:"id"`
	RunID       string            `json:"run_id"`
	Position    int               `json:"position"`
	EntityTypes []string          `json:"entity_types"`
	Status      BatchStatus       `json:"status"`
	Counts      map[string]Counts `json:"counts"`
	Findings    []Finding         `json:"findings,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
	RolledBack  bool              `json:"rolled_back"`
}

// Totals sums the per-type counts.
func (b Batch) Totals() Counts {
	var total Counts
	for _, c := range b.Counts {
		total.Add(c)
	}
	return total
}

// BatchRun is a whole migration execution.
type BatchRun struct {
	ID           string     `json:"id"`
	Status       RunStatus  `json:"status"`
	Resume       bool       `json:"resume"`
	ParentRunID  string     `json:"parent_run_id,omitempty"`
	Batches      []Batch    `json:"batches"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RunStatusView is the polled status surface.
type RunStatusView struct {
	RunID          string               `json:"run_id"`
	Status         RunStatus            `json:"status"`
	CurrentBatch   *int                 `json:"current_batch,omitempty"`
	BatchStatuses  []BatchStatusSummary `json:"batch_statuses"`
	CountsPerBatch []map[string]Counts  `json:"counts_per_batch"`
	RolledBack     bool                 `json:"rolled_back"`
	Error          string               `json:"error,omitempty"`
}

type BatchStatusSummary struct {
	Position    int         `json:"position"`
	BatchID     string      `json:"batch_id"`
	EntityTypes []string    `json:"entity_types"`
	Status      BatchStatus `json:"status"`
	Findings    []Finding   `json:"findings,omitempty"`
}

// View builds the status surface for the run.
func (r BatchRun) View() RunStatusView {
	view := RunStatusView{
		RunID:          r.ID,
		Status:         r.Status,
		BatchStatuses:  make([]BatchStatusSummary, 0, len(r.Batches)),
		CountsPerBatch: make([]map[string]Counts, 0, len(r.Batches)),
		RolledBack:     r.RolledBackAt != nil,
		Error:          r.Error,
	}
	for i, b := range r.Batches {
		view.BatchStatuses = append(view.BatchStatuses, BatchStatusSummary{
			Position:    b.Position,
			BatchID:     b.ID,
			EntityTypes: b.EntityTypes,
			Status:      b.Status,
			Findings:    b.Findings,
		})
		view.CountsPerBatch = append(view.CountsPerBatch, b.Counts)
		if b.Status == BatchStatusRunning {
			pos := i
			view.CurrentBatch = &pos
		}
	}
	return view
}
