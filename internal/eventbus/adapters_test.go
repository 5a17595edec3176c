package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/ingest"
)

func TestIngestPublisherTranslatesEventTypesToTopics(t *testing.T) {
	bus := New()
	sub := bus.Subscribe()
	defer sub.Close()

	pub := IngestPublisher{Bus: bus}
	pub.Publish(context.Background(), ingest.Event{Type: ingest.EventNodeAdded, Namespace: "ns", NodeID: "n1"})
	pub.Publish(context.Background(), ingest.Event{Type: ingest.EventEdgesAdded, Namespace: "ns", Count: 2})

	first := <-sub.Events()
	second := <-sub.Events()
	if first.Topic != TopicNodeAdded {
		t.Fatalf("expected node_added topic, got %s", first.Topic)
	}
	if second.Topic != TopicEdgesAdded {
		t.Fatalf("expected edges_added topic, got %s", second.Topic)
	}
}

func TestRunPublisherPublishesIndexRunCompleted(t *testing.T) {
	bus := New()
	sub := bus.Subscribe()
	defer sub.Close()

	pub := RunPublisher{Bus: bus}
	pub.PublishRunCompleted(context.Background(), domain.RunRecord{Namespace: "ns", Status: domain.RunSuccess})

	select {
	case msg := <-sub.Events():
		if msg.Topic != TopicIndexRunCompleted {
			t.Fatalf("expected index_run_completed topic, got %s", msg.Topic)
		}
		rec, ok := msg.Payload.(domain.RunRecord)
		if !ok || rec.Status != domain.RunSuccess {
			t.Fatalf("unexpected payload: %+v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for run-completed event")
	}
}
