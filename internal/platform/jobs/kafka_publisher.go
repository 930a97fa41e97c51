package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/sqaleshop/api/internal/services"
)

// KafkaWriter is the subset of kafka.Writer used by the publisher.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventPublisher writes domain events keyed by entity id, so one entity's events stay on one partition.
type KafkaEventPublisher struct {
	writer KafkaWriter
}

// NewKafkaEventPublisher dials lazily; the first Publish opens broker connections.
func NewKafkaEventPublisher(brokers []string, topic string) (*KafkaEventPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka event publisher: at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("kafka event publisher: topic is required")
	}
	return &KafkaEventPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}, nil
}

// NewKafkaEventPublisherWithWriter injects a writer, mainly for tests.
func NewKafkaEventPublisherWithWriter(w KafkaWriter) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: w}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, event services.DomainEvent) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka event publisher: not initialised")
	}
	value, err := json.Marshal(newEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}
	headers := make([]kafka.Header, 0, 3)
	for key, v := range eventAttributes(event) {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(v)})
	}
	msg := kafka.Message{
		Key:     []byte(event.EntityID),
		Value:   value,
		Headers: headers,
		Time:    event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event %s: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
