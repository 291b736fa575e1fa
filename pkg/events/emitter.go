// Package events emits migration lifecycle events. A nil Emitter is valid and
// emits nothing.
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/bgross0/data-migrator-sub001/pkg/kafka"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

// Publisher is implemented by *kafka.Producer.
type Publisher interface {
	PublishEvent(ctx context.Context, event *kafka.MigrationEvent) error
	PublishEvents(ctx context.Context, events []*kafka.MigrationEvent) error
}

// Emitter handles event emission for the migrator
type Emitter struct {
	producer Publisher
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

func (e *Emitter) enabled() bool {
	return e != nil && e.producer != nil
}

func payload(data map[string]any) json.RawMessage {
	data["schema_version"] = SchemaVersion
	raw, _ := json.Marshal(data)
	return raw
}

// EmitRecordOutcomes emits one event per record outcome of a batch in a single write.
func (e *Emitter) EmitRecordOutcomes(ctx context.Context, runID, batchID string, outcomes []models.RecordOutcome) error {
	if !e.enabled() || len(outcomes) == 0 {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitRecordOutcomes")
	defer span.End()

	batch := make([]*kafka.MigrationEvent, 0, len(outcomes))
	for _, o := range outcomes {
		batch = append(batch, &kafka.MigrationEvent{
			EventType:  string(OutcomeEventType(string(o.Outcome))),
			RunID:      runID,
			BatchID:    batchID,
			EntityType: o.EntityType,
			Key:        o.Record.String(),
			Data: payload(map[string]any{
				"canonical_id":  o.CanonicalID,
				"quarantine_id": o.QuarantineID,
				"updated":       o.Updated,
				"attempts":      o.Attempts,
				"error":         o.Error,
			}),
		})
	}

	if err := e.producer.PublishEvents(ctx, batch); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit record outcome events")
		return err
	}
	return nil
}

// EmitQuarantineEnqueued emits an event when a record enters quarantine
func (e *Emitter) EmitQuarantineEnqueued(ctx context.Context, item models.QuarantineItem) error {
	if !e.enabled() {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitQuarantineEnqueued")
	defer span.End()

	event := &kafka.MigrationEvent{
		EventType:  string(EventTypeQuarantineEnqueued),
		RunID:      item.RunID,
		BatchID:    item.BatchID,
		EntityType: item.EntityType,
		Key:        item.ID,
		Data: payload(map[string]any{
			"source":     item.Record.Ref().String(),
			"reason":     item.Reason,
			"rule":       item.Rule,
			"top_score":  item.TopScore,
			"candidates": len(item.Candidates),
		}),
	}

	if err := e.producer.PublishEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit quarantine.enqueued event")
		return err
	}
	return nil
}

// EmitQuarantineResolved signals that a reviewer decided an item. Resume runs
// pick the item up; nothing waits on this event.
func (e *Emitter) EmitQuarantineResolved(ctx context.Context, item models.QuarantineItem, decision models.Decision) error {
	if !e.enabled() {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitQuarantineResolved")
	defer span.End()

	event := &kafka.MigrationEvent{
		EventType:  string(EventTypeQuarantineResolved),
		RunID:      item.RunID,
		BatchID:    item.BatchID,
		EntityType: item.EntityType,
		Key:        item.ID,
		Data: payload(map[string]any{
			"decision_id":  decision.ID,
			"action":       decision.Action,
			"canonical_id": decision.CanonicalID,
			"resolved_by":  decision.ResolvedBy,
		}),
	}

	if err := e.producer.PublishEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit quarantine.resolved event")
		return err
	}
	return nil
}

// EmitBatchCompleted emits the terminal state and counts of a batch
func (e *Emitter) EmitBatchCompleted(ctx context.Context, batch models.Batch) error {
	if !e.enabled() {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitBatchCompleted")
	defer span.End()

	event := &kafka.MigrationEvent{
		EventType: string(EventTypeBatchCompleted),
		RunID:     batch.RunID,
		BatchID:   batch.ID,
		Key:       batch.ID,
		Data: payload(map[string]any{
			"position":     batch.Position,
			"entity_types": batch.EntityTypes,
			"status":       batch.Status,
			"counts":       batch.Counts,
			"findings":     batch.Findings,
		}),
	}

	if err := e.producer.PublishEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit batch.completed event")
		return err
	}
	return nil
}

// EmitRunEvent emits a run lifecycle event (finished or rolled back)
func (e *Emitter) EmitRunEvent(ctx context.Context, eventType EventType, run models.BatchRun) error {
	if !e.enabled() {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitRunEvent")
	defer span.End()

	event := &kafka.MigrationEvent{
		EventType: string(eventType),
		RunID:     run.ID,
		Key:       run.ID,
		Data: payload(map[string]any{
			"status":  run.Status,
			"resume":  run.Resume,
			"batches": len(run.Batches),
			"error":   run.Error,
		}),
	}

	if err := e.producer.PublishEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", eventType)
		return err
	}
	return nil
}
