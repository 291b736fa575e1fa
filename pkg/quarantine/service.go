// Package quarantine holds records the engine could not resolve automatically
// until a reviewer decides. Decisions are recorded, never applied in place:
// a resume run replays resolved items through the pipeline.
package quarantine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/bgross0/data-migrator-sub001/pkg/events"
	"github.com/bgross0/data-migrator-sub001/pkg/ledger"
	"github.com/bgross0/data-migrator-sub001/pkg/metrics"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

// ResolveRequest is a reviewer's decision on one item.
type ResolveRequest struct {
	Action      models.ResolveAction `json:"action" validate:"required,oneof=match create skip"`
	CanonicalID string               `json:"canonical_id,omitempty"`
	ResolvedBy  string               `json:"resolved_by,omitempty"`
}

// BulkResolveRequest applies one action to every pending item selected by
// Filter whose top candidate scores at least MinScore.
type BulkResolveRequest struct {
	Filter     models.QuarantineFilter `json:"filter"`
	MinScore   float64                 `json:"min_score" validate:"gte=0,lte=1"`
	Action     models.ResolveAction    `json:"action" validate:"required,oneof=match create skip"`
	ResolvedBy string                  `json:"resolved_by,omitempty"`
}

type BulkResult struct {
	Resolved []string `json:"resolved"`
	// Ineligible lists items the action could not apply to: match without a
	// candidate, or create on a lookup-only type.
	Ineligible []string `json:"ineligible,omitempty"`
}

type Service struct {
	mu      sync.Mutex
	store   Store
	specs   models.SpecSet
	ledger  ledger.Ledger
	emitter *events.Emitter
	logger  ectologger.Logger
}

// NewService builds the review service. specs gates which actions an item's
// entity type accepts; a type missing from specs accepts every action.
func NewService(store Store, specs models.SpecSet, l ledger.Ledger, emitter *events.Emitter, logger ectologger.Logger) *Service {
	return &Service{
		store:   store,
		specs:   specs,
		ledger:  l,
		emitter: emitter,
		logger:  logger,
	}
}

// Enqueue appends an item in the pending state and returns its id.
func (s *Service) Enqueue(ctx context.Context, item models.QuarantineItem) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Service.Enqueue")
	defer span.End()

	if item.EntityType == "" || item.Reason == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "quarantine item needs an entity type and reason")
	}

	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.Status = models.QuarantineStatusPending
	item.Action = ""
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.TopScore == 0 && len(item.Candidates) > 0 {
		item.TopScore = item.Candidates[0].Score
	}
	if item.Candidates == nil {
		item.Candidates = []models.MatchCandidate{}
	}

	if err := s.store.Insert(ctx, item); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source":      item.Record.Ref().String(),
			"entity_type": item.EntityType,
		}).Error("Failed to enqueue quarantine item")
		return "", err
	}
	metrics.QuarantineDepth.Inc()

	if err := s.emitter.EmitQuarantineEnqueued(ctx, item); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Quarantine item stored but event was not emitted")
	}
	return item.ID, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.QuarantineItem, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Service.Get")
	defer span.End()

	item, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("quarantine item %s not found", id))
	}
	return item, nil
}

func (s *Service) List(ctx context.Context, filter models.QuarantineFilter) ([]models.QuarantineItem, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Service.List")
	defer span.End()

	return s.store.List(ctx, filter)
}

func (s *Service) Decisions(ctx context.Context, itemID string) ([]models.Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Service.Decisions")
	defer span.End()

	if _, err := s.Get(ctx, itemID); err != nil {
		return nil, err
	}
	return s.store.Decisions(ctx, itemID)
}

// Resolve records a decision on a pending item.
//
//	match:  ledgers the record to the chosen canonical id with an empty hash,
//	        so the replay writes the record as an update
//	create: the replay forces a new canonical entity
//	skip:   the record stays unresolved for the run
func (s *Service) Resolve(ctx context.Context, id string, req ResolveRequest) (*models.QuarantineItem, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Service.Resolve")
	defer span.End()

	if !req.Action.Valid() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.QuarantineStatusPending {
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("quarantine item %s is already %s", id, item.Status))
	}
	if !s.allows(item.EntityType, req.Action) {
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("%s is %s: quarantine item %s cannot be resolved by create", item.EntityType, models.PolicyLookupOnly, id))
	}

	canonicalID := ""
	if req.Action == models.ActionMatch {
		canonicalID = req.CanonicalID
		if canonicalID == "" && len(item.Candidates) > 0 {
			canonicalID = item.Candidates[0].CanonicalID
		}
		if canonicalID == "" {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, "match needs a canonical id")
		}

		err := s.ledger.Upsert(ctx, models.LedgerEntry{
			SourceSystem: item.Record.SourceSystem,
			SourcePK:     item.Record.SourcePK,
			EntityType:   item.EntityType,
			CanonicalID:  canonicalID,
			RunID:        item.RunID,
			BatchID:      item.BatchID,
		})
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": id}).Error("Failed to ledger quarantine match")
			return nil, err
		}
	}

	now := time.Now().UTC()
	item.Action = req.Action
	item.CanonicalID = canonicalID
	item.ResolvedBy = req.ResolvedBy
	item.ResolvedAt = &now
	item.UpdatedAt = now
	item.Status = models.QuarantineStatusResolved
	if req.Action == models.ActionSkip {
		item.Status = models.QuarantineStatusSkipped
	}

	if err := s.store.Update(ctx, *item); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": id}).Error("Failed to update quarantine item")
		return nil, err
	}
	metrics.QuarantineDepth.Dec()
	metrics.QuarantineDecisionsTotal.WithLabelValues(item.EntityType, string(req.Action)).Inc()

	decision := models.Decision{
		ID:          uuid.New().String(),
		ItemID:      item.ID,
		Record:      item.Record,
		Candidates:  item.Candidates,
		Action:      req.Action,
		CanonicalID: canonicalID,
		ResolvedBy:  req.ResolvedBy,
		CreatedAt:   now,
	}
	if err := s.store.AppendDecision(ctx, decision); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": id}).Error("Failed to append quarantine decision")
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"item_id":      id,
		"action":       req.Action,
		"canonical_id": canonicalID,
		"resolved_by":  req.ResolvedBy,
	}).Info("Resolved quarantine item")

	if err := s.emitter.EmitQuarantineResolved(ctx, *item, decision); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Quarantine decision stored but event was not emitted")
	}
	return item, nil
}

// allows reports whether action may resolve an item of entityType. Lookup-only
// types never get a canonical entity created for them.
func (s *Service) allows(entityType string, action models.ResolveAction) bool {
	if action != models.ActionCreate {
		return true
	}
	spec, ok := s.specs[entityType]
	return !ok || spec.Policy != models.PolicyLookupOnly
}

// BulkResolve applies one action to every eligible pending item. Items are
// resolved one at a time; the first failure stops the run and is returned
// with the partial result.
func (s *Service) BulkResolve(ctx context.Context, req BulkResolveRequest) (*BulkResult, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Service.BulkResolve")
	defer span.End()

	if !req.Action.Valid() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
	}

	filter := req.Filter
	filter.Status = models.QuarantineStatusPending
	filter.MinScore = max(filter.MinScore, req.MinScore)

	items, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := &BulkResult{Resolved: []string{}}
	for _, item := range items {
		if (req.Action == models.ActionMatch && len(item.Candidates) == 0) || !s.allows(item.EntityType, req.Action) {
			result.Ineligible = append(result.Ineligible, item.ID)
			continue
		}
		if _, err := s.Resolve(ctx, item.ID, ResolveRequest{Action: req.Action, ResolvedBy: req.ResolvedBy}); err != nil {
			return result, err
		}
		result.Resolved = append(result.Resolved, item.ID)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"action":     req.Action,
		"min_score":  filter.MinScore,
		"resolved":   len(result.Resolved),
		"ineligible": len(result.Ineligible),
	}).Info("Bulk resolved quarantine items")
	return result, nil
}

// Replayable returns the items of runID a resume run should re-attempt:
// pending items and resolved items not yet applied.
func (s *Service) Replayable(ctx context.Context, runID string) ([]models.QuarantineItem, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Service.Replayable")
	defer span.End()

	items, err := s.store.List(ctx, models.QuarantineFilter{RunID: runID})
	if err != nil {
		return nil, err
	}
	out := make([]models.QuarantineItem, 0, len(items))
	for _, item := range items {
		if item.Replayable() {
			out = append(out, item)
		}
	}
	return out, nil
}

// Skipped returns the items of runID a reviewer chose to leave unresolved.
func (s *Service) Skipped(ctx context.Context, runID string) ([]models.QuarantineItem, error) {
	return s.store.List(ctx, models.QuarantineFilter{RunID: runID, Status: models.QuarantineStatusSkipped})
}

// MarkApplied stamps an item as consumed by a replay.
func (s *Service) MarkApplied(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Service.MarkApplied")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	wasPending := item.Status == models.QuarantineStatusPending
	item.AppliedAt = &now
	item.UpdatedAt = now
	if wasPending {
		// Replayed without a decision: the fresh outcome supersedes this item.
		item.Status = models.QuarantineStatusResolved
	}
	if err := s.store.Update(ctx, *item); err != nil {
		return err
	}
	if wasPending {
		metrics.QuarantineDepth.Dec()
	}
	return nil
}

// SyncDepth sets the pending-items gauge from the store.
func (s *Service) SyncDepth(ctx context.Context) error {
	n, err := s.store.CountPending(ctx)
	if err != nil {
		return err
	}
	metrics.QuarantineDepth.Set(float64(n))
	return nil
}
