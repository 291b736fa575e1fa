package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles Kafka event emission
type Producer struct {
	writer MessageWriter
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg.Topic, logger)
}

// NewProducerWithWriter wraps an existing writer.
func NewProducerWithWriter(writer MessageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// MigrationEvent is a run, batch, record or quarantine lifecycle event.
type MigrationEvent struct {
	EventType  string          `json:"event_type"`
	RunID      string          `json:"run_id"`
	BatchID    string          `json:"batch_id,omitempty"`
	EntityType string          `json:"entity_type,omitempty"`
	Key        string          `json:"key"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

func (p *Producer) message(event *MigrationEvent) (kafka.Message, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.Key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "run_id", Value: []byte(event.RunID)},
			{Key: "entity_type", Value: []byte(event.EntityType)},
			{Key: "schema_version", Value: []byte("1.0")},
		},
	}, nil
}

// PublishEvent publishes one event to Kafka
func (p *Producer) PublishEvent(ctx context.Context, event *MigrationEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishEvent")
	defer span.End()

	msg, err := p.message(event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish migration event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":  event.EventType,
		"key":         event.Key,
		"entity_type": event.EntityType,
	}).Debug("Published migration event")

	return nil
}

// PublishEvents publishes multiple events in one write
func (p *Producer) PublishEvents(ctx context.Context, events []*MigrationEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		msg, err := p.message(event)
		if err != nil {
			return err
		}
		messages[i] = msg
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish migration events batch")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published migration events batch")

	return nil
}
