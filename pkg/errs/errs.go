// Package errs defines the migration error taxonomy. Every failure the engine
// routes (quarantine, retry, halt, abort) is one of these types.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindMatchAmbiguity  Kind = "match_ambiguity"
	KindWriteTransient  Kind = "write_transient"
	KindWriteConstraint Kind = "write_constraint"
	KindOrphanIntegrity Kind = "orphan_integrity"
	KindConfig          Kind = "config"
	KindUnknown         Kind = "unknown"
)

// ValidationError is a missing or invalid field or a failed pre-load rule.
type ValidationError struct {
	Rule    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed (%s): %s", e.Rule, e.Message)
	}
	return fmt.Sprintf("validation failed (%s) on %s: %s", e.Rule, e.Field, e.Message)
}

// MatchAmbiguity is a collision or low-confidence match that needs review.
type MatchAmbiguity struct {
	Reason     string
	Candidates int
	TopScore   float64
}

func (e *MatchAmbiguity) Error() string {
	return fmt.Sprintf("ambiguous match (%s): %d candidates, top score %.4f", e.Reason, e.Candidates, e.TopScore)
}

// WriteTransientError is a network, timeout or lock failure from the target system.
type WriteTransientError struct {
	Op  string
	Err error
}

func (e *WriteTransientError) Error() string {
	return fmt.Sprintf("transient write failure during %s: %v", e.Op, e.Err)
}

func (e *WriteTransientError) Unwrap() error { return e.Err }

// WriteConstraintError is a permanent rejection by the target system.
type WriteConstraintError struct {
	Op  string
	Err error
}

func (e *WriteConstraintError) Error() string {
	return fmt.Sprintf("write rejected during %s: %v", e.Op, e.Err)
}

func (e *WriteConstraintError) Unwrap() error { return e.Err }

// DanglingRef is a written foreign key whose target no longer resolves.
type DanglingRef struct {
	FromEntityType string `json:"from_entity_type"`
	FromID         string `json:"from_id"`
	Field          string `json:"field"`
	TargetType     string `json:"target_type"`
	TargetID       string `json:"target_id"`
}

// OrphanIntegrityError is the only error that halts a whole run.
type OrphanIntegrityError struct {
	EntityTypes []string
	Dangling    []DanglingRef
}

func (e *OrphanIntegrityError) Error() string {
	return fmt.Sprintf("orphan detection found %d dangling references into %s", len(e.Dangling), strings.Join(e.EntityTypes, ","))
}

// ConfigError aborts a run before any batch starts.
type ConfigError struct {
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Err)
	}
	return "configuration error: " + e.Message
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CyclicDependencyError reports the entity types left unordered by the planner.
type CyclicDependencyError struct {
	Types []string
}

func (e *CyclicDependencyError) Error() string {
	types := append([]string(nil), e.Types...)
	sort.Strings(types)
	return fmt.Sprintf("cyclic dependency between entity types: %s", strings.Join(types, ", "))
}

// Unwrap lets callers treat a cycle as any other ConfigError.
func (e *CyclicDependencyError) Unwrap() error {
	return &ConfigError{Message: "dependency graph is not acyclic"}
}

func Transient(op string, err error) error {
	return &WriteTransientError{Op: op, Err: err}
}

func Constraint(op string, err error) error {
	return &WriteConstraintError{Op: op, Err: err}
}

func Config(format string, args ...any) error {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether a write may be retried. Deadline expiry counts
// as transient, never as success.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *WriteTransientError
	if errors.As(err, &transient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func IsPermanent(err error) bool {
	var constraint *WriteConstraintError
	return errors.As(err, &constraint)
}

// KindOf classifies err into the taxonomy.
func KindOf(err error) Kind {
	var (
		validation *ValidationError
		ambiguity  *MatchAmbiguity
		constraint *WriteConstraintError
		orphan     *OrphanIntegrityError
		config     *ConfigError
		cycle      *CyclicDependencyError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &ambiguity):
		return KindMatchAmbiguity
	case errors.As(err, &constraint):
		return KindWriteConstraint
	case IsTransient(err):
		return KindWriteTransient
	case errors.As(err, &orphan):
		return KindOrphanIntegrity
	case errors.As(err, &cycle), errors.As(err, &config):
		return KindConfig
	default:
		return KindUnknown
	}
}

// ToHTTP converts a taxonomy error into an httperror for the API surface.
// Errors that already carry a status code pass through unchanged.
func ToHTTP(err error) error {
	if err == nil || httperror.IsHTTPError(err) {
		return err
	}

	status := http.StatusInternalServerError
	switch KindOf(err) {
	case KindValidation, KindConfig:
		status = http.StatusBadRequest
	case KindMatchAmbiguity, KindWriteConstraint, KindOrphanIntegrity:
		status = http.StatusConflict
	case KindWriteTransient:
		status = http.StatusServiceUnavailable
	}
	return httperror.NewHTTPError(status, err.Error())
}
