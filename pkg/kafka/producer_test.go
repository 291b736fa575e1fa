package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestProducer_PublishEvent(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "migration.events", noopLogger())

	err := p.PublishEvent(context.Background(), &MigrationEvent{
		EventType:  "record.created",
		RunID:      "run-1",
		EntityType: "organization",
		Key:        "crm/1",
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "migration.events", msg.Topic)
	assert.Equal(t, "crm/1", string(msg.Key))
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event_type", Value: []byte("record.created")})

	var decoded MigrationEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.False(t, decoded.Timestamp.IsZero())
}

func TestProducer_PublishEvents(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "t", noopLogger())

	require.NoError(t, p.PublishEvents(context.Background(), nil))
	require.NoError(t, p.PublishEvents(context.Background(), []*MigrationEvent{{Key: "a"}, {Key: "b"}}))
	assert.Len(t, w.messages, 2)

	w.err = errors.New("broker down")
	assert.Error(t, p.PublishEvents(context.Background(), []*MigrationEvent{{Key: "c"}}))
}
