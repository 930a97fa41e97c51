package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/sqaleshop/api/internal/services"
)

// EventMessage is the JSON body of a published domain event.
type EventMessage struct {
	Type           string         `json:"type"`
	StoreID        string         `json:"storeId"`
	EntityID       string         `json:"entityId"`
	EntityNumber   string         `json:"entityNumber,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func newEventMessage(event services.DomainEvent) EventMessage {
	return EventMessage{
		Type:           event.Type,
		StoreID:        event.StoreID,
		EntityID:       event.EntityID,
		EntityNumber:   event.EntityNumber,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	}
}

func eventAttributes(event services.DomainEvent) map[string]string {
	attrs := make(map[string]string, 3)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "store_id", event.StoreID)
	setAttr(attrs, "entity_id", event.EntityID)
	return attrs
}

// PubSubEventPublisher publishes order and booking events to a Pub/Sub topic.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed domain event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Publish blocks until the server acknowledges the event.
func (p *PubSubEventPublisher) Publish(ctx context.Context, event services.DomainEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	data, err := p.marshal(newEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: eventAttributes(event),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Type, err)
	}
	return nil
}

// EmailJob asks the mail worker to render and send one templated email.
type EmailJob struct {
	JobID    string         `json:"jobId"`
	Template string         `json:"template"`
	To       []string       `json:"to"`
	ReplyTo  string         `json:"replyTo,omitempty"`
	Subject  string         `json:"subject"`
	StoreID  string         `json:"storeId"`
	EntityID string         `json:"entityId"`
	Data     map[string]any `json:"data,omitempty"`
	QueuedAt time.Time      `json:"queuedAt"`
}

// PubSubEmailPublisher enqueues email jobs on a Pub/Sub topic.
type PubSubEmailPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEmailPublisher constructs a Pub/Sub backed email job publisher.
func NewPubSubEmailPublisher(topic *pubsub.Topic) (*PubSubEmailPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub email publisher: topic is required")
	}
	return &PubSubEmailPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishEmailJob returns the server-assigned message id.
func (p *PubSubEmailPublisher) PublishEmailJob(ctx context.Context, job EmailJob) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub email publisher: not initialised")
	}
	data, err := p.marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal email job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "jobId", job.JobID)
	setAttr(attrs, "template", job.Template)
	setAttr(attrs, "storeId", job.StoreID)

	id, err := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish email job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
