// Package adapter is the write boundary to the target system. Implementations
// classify failures with errs.Transient and errs.Constraint so the executor
// knows what to retry.
package adapter

import (
	"context"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

// Adapter writes canonical entities into the target system.
type Adapter interface {
	// Create inserts a new entity and returns its target id.
	Create(ctx context.Context, entityType string, fields map[string]any) (string, error)
	Update(ctx context.Context, entityType, id string, fields map[string]any) error
	Exists(ctx context.Context, entityType, id string) (bool, error)
	// Fetch lists the entities of a type already in the target. It seeds the
	// canonical index at the start of a run.
	Fetch(ctx context.Context, entityType string) ([]models.CanonicalEntity, error)
}

// Op names an adapter operation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpExists Op = "exists"
	OpFetch  Op = "fetch"
)
