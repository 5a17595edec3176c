package eventbus

import (
	"context"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/ingest"
)

// IngestPublisher adapts a Bus to ingest.Publisher, so the ingestion
// pipeline's node_added/edges_added notifications reach every subscriber
// without the ingest package importing eventbus.
type IngestPublisher struct {
	Bus *Bus
}

func (p IngestPublisher) Publish(ctx context.Context, event ingest.Event) {
	var topic Topic
	switch event.Type {
	case ingest.EventNodeAdded:
		topic = TopicNodeAdded
	case ingest.EventEdgesAdded:
		topic = TopicEdgesAdded
	default:
		return
	}
	p.Bus.Publish(ctx, topic, event.Namespace, event)
}

// RunCompletionPublisher mirrors orchestrator.RunCompletionPublisher, which
// the orchestrator declares at its own point of use so it never needs to
// import eventbus; RunPublisher satisfies both.
type RunCompletionPublisher interface {
	PublishRunCompleted(ctx context.Context, rec domain.RunRecord)
}

// RunPublisher adapts a Bus to orchestrator.RunCompletionPublisher, emitting
// index_run_completed events after each batch run.
type RunPublisher struct {
	Bus *Bus
}

func (p RunPublisher) PublishRunCompleted(ctx context.Context, rec domain.RunRecord) {
	p.Bus.Publish(ctx, TopicIndexRunCompleted, rec.Namespace, rec)
}
