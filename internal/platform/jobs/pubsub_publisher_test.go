package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sqaleshop/api/internal/services"
)

func newTestTopic(t *testing.T, name string) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, name)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubEventPublisherPublishesEnvelope(t *testing.T) {
	srv, topic := newTestTopic(t, "order-events")
	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	occurred := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	err = publisher.Publish(context.Background(), services.DomainEvent{
		Type:           "order.status.changed",
		StoreID:        "store_1",
		EntityID:       "ord_1",
		EntityNumber:   "KOP26030001",
		PreviousStatus: "confirmed",
		CurrentStatus:  "shipped",
		OccurredAt:     occurred,
		Metadata:       map[string]any{"note": "via courier"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	attrs := messages[0].Attributes
	if attrs["type"] != "order.status.changed" || attrs["store_id"] != "store_1" || attrs["entity_id"] != "ord_1" {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
	var payload EventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.PreviousStatus != "confirmed" || payload.CurrentStatus != "shipped" || !payload.OccurredAt.Equal(occurred) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.Metadata["note"] != "via courier" {
		t.Fatalf("expected metadata carried, got %#v", payload.Metadata)
	}
}

func TestPubSubEmailPublisherPublishesJob(t *testing.T) {
	srv, topic := newTestTopic(t, "email-jobs")
	publisher, err := NewPubSubEmailPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEmailPublisher: %v", err)
	}

	id, err := publisher.PublishEmailJob(context.Background(), EmailJob{
		JobID:    "ej_1",
		Template: "order_confirmation",
		To:       []string{"ada@example.com"},
		Subject:  "Order KOP26030001 received",
		StoreID:  "store_1",
		EntityID: "ord_1",
	})
	if err != nil {
		t.Fatalf("PublishEmailJob: %v", err)
	}
	if id == "" {
		t.Fatalf("expected message id")
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].Attributes["template"] != "order_confirmation" || messages[0].Attributes["jobId"] != "ej_1" {
		t.Fatalf("unexpected attributes %#v", messages[0].Attributes)
	}
	if _, ok := messages[0].Attributes["to"]; ok {
		t.Fatalf("recipient must not leak into attributes")
	}
}

func TestNewPubSubPublishersRequireTopic(t *testing.T) {
	if _, err := NewPubSubEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
	if _, err := NewPubSubEmailPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
