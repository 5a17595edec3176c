// Package eventbus implements the in-process publish/subscribe fan-out for
// graph mutation events (node_added, edges_added, index_run_completed), with
// an optional NATS mirror for out-of-process subscribers. Grounded on the
// teacher's pkg/natsutil generic Publish[T]/Subscribe[T] helpers for the
// mirror, and on cmd/ingest's channel-based worker fan-out for the in-process
// broker shape.
package eventbus

import (
	"context"
	"sync"
	"time"
)

// Topic is the closed set of subjects this bus carries.
type Topic string

const (
	TopicNodeAdded          Topic = "node_added"
	TopicEdgesAdded         Topic = "edges_added"
	TopicIndexRunCompleted  Topic = "index_run_completed"
)

// DefaultHistory is the number of past events a reconnecting subscriber can
// catch up on, per the last-N=1000 replay requirement.
const DefaultHistory = 1000

// subscriberBuffer bounds each live subscriber's channel; a slow consumer
// drops new events rather than blocking the publisher (best-effort delivery).
const subscriberBuffer = 256

// Message is one bus event: a topic, the namespace it concerns, an opaque
// payload, and the time it was published.
type Message struct {
	Topic     Topic
	Namespace string
	Payload   any
	At        time.Time
}

// Subscription is a live feed plus the replay snapshot taken at subscribe
// time. Callers should drain Events() until Close (or until it closes when
// the Bus is closed).
type Subscription struct {
	Replay []Message
	ch     chan Message
	bus    *Bus
}

// Events returns the channel of events published after the subscription was
// created. Replay (events already in history at subscribe time) is returned
// separately by Subscribe, not interleaved onto this channel.
func (s *Subscription) Events() <-chan Message { return s.ch }

// Close unregisters the subscription; it is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus is a bounded in-process broker: publishes are ordered per-topic as
// received, fanned out best-effort (non-blocking) to every live subscriber,
// and retained in a bounded ring so a freshly (re)connecting subscriber can
// replay the last DefaultHistory events before going live.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscription]bool
	history []Message
	maxHist int
	closed  bool
}

// New constructs a Bus with the default history size.
func New() *Bus {
	return &Bus{subs: map[*Subscription]bool{}, maxHist: DefaultHistory}
}

// Publish records the message in history and fans it out to every live
// subscriber. Delivery to a subscriber whose channel is full is dropped
// (best-effort); that subscriber remains internally ordered since sends to
// its own channel are always in Publish-call order.
func (b *Bus) Publish(_ context.Context, topic Topic, namespace string, payload any) {
	msg := Message{Topic: topic, Namespace: namespace, Payload: payload, At: time.Now().UTC()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, msg)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
	for sub := range b.subs {
		select {
		case sub.ch <- msg:
		default:
			// slow consumer; drop rather than block the publisher.
		}
	}
}

// Subscribe registers a new subscription and returns it along with a replay
// of up to the last DefaultHistory events already published, so a
// reconnecting subscriber (e.g. after a dropped SSE connection) can catch up
// before switching to the live channel.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		ch:     make(chan Message, subscriberBuffer),
		bus:    b,
		Replay: append([]Message(nil), b.history...),
	}
	b.subs[sub] = true
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sub] {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Close unregisters and closes every live subscription; a closed Bus accepts
// no further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}
