package eventbus

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/graphrag/core/pkg/natsutil"
)

// natsEnvelope is the wire shape mirrored events take on NATS: Message's
// fields flattened into JSON-friendly types (natsutil.Publish marshals via
// encoding/json, so Payload must already be a concrete, serializable type —
// callers publishing structs like domain.RunRecord satisfy this for free).
type natsEnvelope struct {
	Topic     Topic  `json:"topic"`
	Namespace string `json:"namespace"`
	Payload   any    `json:"payload"`
}

// NATSMirror forwards every locally published Bus event onto a NATS subject
// per topic, for subscribers running outside this process. Grounded on the
// teacher's pkg/natsutil generic Publish[T] helper — this package changes
// nothing about it, it's a domain-agnostic utility already fit for purpose.
type NATSMirror struct {
	conn          *nats.Conn
	subjectPrefix string
	log           *slog.Logger
}

// NewNATSMirror wires a mirror publishing to "<subjectPrefix>.<topic>".
func NewNATSMirror(conn *nats.Conn, subjectPrefix string, logger *slog.Logger) *NATSMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSMirror{conn: conn, subjectPrefix: subjectPrefix, log: logger}
}

// Run subscribes to bus and blocks forwarding events to NATS until ctx is
// cancelled or the bus closes.
func (m *NATSMirror) Run(ctx context.Context, bus *Bus) {
	sub := bus.Subscribe()
	defer sub.Close()

	for _, msg := range sub.Replay {
		m.forward(ctx, msg)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Events():
			if !ok {
				return
			}
			m.forward(ctx, msg)
		}
	}
}

func (m *NATSMirror) forward(ctx context.Context, msg Message) {
	subject := m.subjectPrefix + "." + string(msg.Topic)
	env := natsEnvelope{Topic: msg.Topic, Namespace: msg.Namespace, Payload: msg.Payload}
	if err := natsutil.Publish(ctx, m.conn, subject, env); err != nil {
		m.log.Error("eventbus.nats_mirror_failed", "subject", subject, "error", err)
	}
}
