// Package kafka publishes execution lifecycle events to Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/miniflow-io/miniflow/internal/platform/config"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/shared/events"
)

// EventPublisher publishes lifecycle events to Kafka using an async
// producer.
type EventPublisher struct {
	producer sarama.AsyncProducer
	topic    string
	logger   logger.Logger
	errors   chan error
}

// NewEventPublisher creates a Kafka event publisher.
func NewEventPublisher(cfg config.KafkaConfig, log logger.Logger) (*EventPublisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Version = sarama.V3_3_1_0

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	publisher := &EventPublisher{
		producer: producer,
		topic:    cfg.Topic,
		logger:   log,
		errors:   make(chan error, 100),
	}

	go publisher.handleErrors()
	go publisher.handleSuccesses()

	return publisher, nil
}

// Publish enqueues one event. Events are keyed by execution so a
// consumer sees each execution's events in order.
func (p *EventPublisher) Publish(ctx context.Context, event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.AggregateID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("eventType"), Value: []byte(event.EventType)},
			{Key: []byte("aggregateType"), Value: []byte(event.AggregateType)},
			{Key: []byte("workspaceId"), Value: []byte(event.WorkspaceID)},
		},
		Timestamp: event.Timestamp,
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case err := <-p.errors:
		return fmt.Errorf("producer error: %w", err)
	}
}

// Close flushes and closes the producer.
func (p *EventPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	return nil
}

func (p *EventPublisher) handleErrors() {
	for err := range p.producer.Errors() {
		select {
		case p.errors <- err.Err:
		default:
			p.logger.Error("Kafka producer error", "error", err.Err)
		}
	}
}

func (p *EventPublisher) handleSuccesses() {
	for msg := range p.producer.Successes() {
		p.logger.Debug("Event delivered",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
	}
}
