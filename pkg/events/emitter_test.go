package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgross0/data-migrator-sub001/pkg/kafka"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

type recordingPublisher struct {
	events []*kafka.MigrationEvent
}

func (p *recordingPublisher) PublishEvent(_ context.Context, event *kafka.MigrationEvent) error {
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) PublishEvents(_ context.Context, events []*kafka.MigrationEvent) error {
	p.events = append(p.events, events...)
	return nil
}

func newEmitter() (*Emitter, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewEmitter(pub, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})), pub
}

func TestNilEmitterIsNoop(t *testing.T) {
	var e *Emitter
	ctx := context.Background()
	assert.NoError(t, e.EmitQuarantineEnqueued(ctx, models.QuarantineItem{}))
	assert.NoError(t, e.EmitBatchCompleted(ctx, models.Batch{}))
	assert.NoError(t, e.EmitRunEvent(ctx, EventTypeRunFinished, models.BatchRun{}))
}

func TestEmitRecordOutcomes(t *testing.T) {
	e, pub := newEmitter()
	outcomes := []models.RecordOutcome{
		{Record: models.RecordRef{SourceSystem: "crm", SourcePK: "1"}, EntityType: "lead", Outcome: models.OutcomeCreated, CanonicalID: "l-1"},
		{Record: models.RecordRef{SourceSystem: "crm", SourcePK: "2"}, EntityType: "lead", Outcome: models.OutcomeQuarantined, QuarantineID: "q-1"},
	}

	require.NoError(t, e.EmitRecordOutcomes(context.Background(), "run-1", "b-1", outcomes))
	require.Len(t, pub.events, 2)
	assert.Equal(t, string(EventTypeRecordCreated), pub.events[0].EventType)
	assert.Equal(t, string(EventTypeRecordQuarantined), pub.events[1].EventType)
	assert.Equal(t, "crm/2", pub.events[1].Key)

	var data map[string]any
	require.NoError(t, json.Unmarshal(pub.events[0].Data, &data))
	assert.Equal(t, "l-1", data["canonical_id"])
	assert.Equal(t, SchemaVersion, data["schema_version"])
}

func TestEmitQuarantineResolved(t *testing.T) {
	e, pub := newEmitter()
	item := models.QuarantineItem{ID: "q-1", RunID: "run-1", EntityType: "organization"}
	decision := models.Decision{ID: "d-1", Action: models.ActionMatch, CanonicalID: "org-1", ResolvedBy: "alex"}

	require.NoError(t, e.EmitQuarantineResolved(context.Background(), item, decision))
	require.Len(t, pub.events, 1)
	assert.Equal(t, string(EventTypeQuarantineResolved), pub.events[0].EventType)
	assert.Equal(t, "q-1", pub.events[0].Key)
}
