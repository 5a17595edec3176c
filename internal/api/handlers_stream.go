package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/eventbus"
)

var errStreamingNotConfigured = domain.NewError(domain.KindValidation, "event streaming is not configured", nil)

// handleStream serves a server-sent-events feed of graph mutation and index
// run events: the subscriber's replay backlog first, then live events until
// the client disconnects. When a subscriber's internal buffer is full,
// eventbus.Bus.Publish silently drops the event being published for that
// subscriber; the pending older events stay queued. No "dropped" marker is
// sent: the only sign is the gap in the sequence, since the bus tracks no
// per-subscriber drop counter.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		writeError(w, errStreamingNotConfigured)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, domain.NewError(domain.KindFatal, "streaming unsupported", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.deps.Bus.Subscribe()
	defer sub.Close()

	for _, msg := range sub.Replay {
		if !writeSSEMessage(w, msg) {
			return
		}
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Events():
			if !ok {
				return
			}
			if !writeSSEMessage(w, msg) {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEMessage(w http.ResponseWriter, msg eventbus.Message) bool {
	body, err := json.Marshal(msg)
	if err != nil {
		return true
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Topic, body)
	return err == nil
}
