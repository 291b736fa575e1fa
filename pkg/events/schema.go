package events

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EventType defines the type of event
type EventType string

const (
	// Record outcome events
	EventTypeRecordCreated     EventType = "record.created"
	EventTypeRecordMatched     EventType = "record.matched"
	EventTypeRecordQuarantined EventType = "record.quarantined"
	EventTypeRecordHardFailed  EventType = "record.hard_failed"

	// Quarantine events
	EventTypeQuarantineEnqueued EventType = "quarantine.enqueued"
	EventTypeQuarantineResolved EventType = "quarantine.resolved"

	// Run lifecycle events
	EventTypeBatchCompleted EventType = "batch.completed"
	EventTypeRunFinished    EventType = "run.finished"
	EventTypeRunRolledBack  EventType = "run.rolled_back"
)

// OutcomeEventType maps a record outcome to its event type.
func OutcomeEventType(outcome string) EventType {
	return EventType("record." + outcome)
}
