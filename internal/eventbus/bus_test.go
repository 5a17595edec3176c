package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New()
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(context.Background(), TopicNodeAdded, "ns", "node-1")

	select {
	case msg := <-sub.Events():
		if msg.Topic != TopicNodeAdded || msg.Namespace != "ns" || msg.Payload != "node-1" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeReplaysHistory(t *testing.T) {
	bus := New()
	bus.Publish(context.Background(), TopicNodeAdded, "ns", "a")
	bus.Publish(context.Background(), TopicNodeAdded, "ns", "b")

	sub := bus.Subscribe()
	defer sub.Close()

	if len(sub.Replay) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(sub.Replay))
	}
	if sub.Replay[0].Payload != "a" || sub.Replay[1].Payload != "b" {
		t.Fatalf("expected replay in publish order, got %+v", sub.Replay)
	}
}

func TestHistoryBoundedToMaxSize(t *testing.T) {
	bus := New()
	bus.maxHist = 3
	for i := 0; i < 10; i++ {
		bus.Publish(context.Background(), TopicNodeAdded, "ns", i)
	}
	sub := bus.Subscribe()
	defer sub.Close()

	if len(sub.Replay) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(sub.Replay))
	}
	if sub.Replay[len(sub.Replay)-1].Payload != 9 {
		t.Fatalf("expected most recent event retained, got %+v", sub.Replay)
	}
}

func TestSlowSubscriberDropsRatherThanBlocksPublisher(t *testing.T) {
	bus := New()
	sub := bus.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+50; i++ {
			bus.Publish(context.Background(), TopicNodeAdded, "ns", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	sub := bus.Subscribe()
	sub.Close()

	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}

func TestCloseStopsAcceptingPublishes(t *testing.T) {
	bus := New()
	sub := bus.Subscribe()
	bus.Close()

	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected subscriber channel closed by Bus.Close")
	}
	// publishing after close must not panic and must not extend history.
	bus.Publish(context.Background(), TopicNodeAdded, "ns", "late")
	if len(bus.history) != 0 {
		t.Fatalf("expected no history growth after close, got %d", len(bus.history))
	}
}
