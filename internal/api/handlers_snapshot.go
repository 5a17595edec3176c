package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/snapshot"
)

var errSnapshotNotFound = domain.NewError(domain.KindNotFound, "snapshot not found", nil)

func (s *Server) handleSnapshotsList(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")

	type entry struct {
		ID         string  `json:"id"`
		Namespace  string  `json:"namespace"`
		NodeCount  int     `json:"node_count"`
		EdgeCount  int     `json:"edge_count"`
		Modularity float64 `json:"modularity"`
	}

	s.snapshotMu.Lock()
	out := make([]entry, 0, len(s.snapshots))
	for id, snap := range s.snapshots {
		if namespace != "" && snap.Namespace != namespace {
			continue
		}
		out = append(out, entry{ID: id, Namespace: snap.Namespace, NodeCount: snap.NodeCount, EdgeCount: snap.EdgeCount, Modularity: snap.Modularity})
	}
	s.snapshotMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"snapshots": out})
}

type snapshotCreateRequest struct {
	Namespace string `json:"namespace"`
}

func (s *Server) handleSnapshotsCreate(w http.ResponseWriter, r *http.Request) {
	var req snapshotCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	namespace := defaultNamespace(req.Namespace)

	snap, err := snapshot.Capture(r.Context(), s.deps.Store, namespace)
	if err != nil {
		writeError(w, err)
		return
	}

	id := "snap-" + uuid.NewString()
	s.snapshotMu.Lock()
	s.snapshots[id] = snap
	s.snapshotMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          id,
		"namespace":   snap.Namespace,
		"taken_at":    snap.TakenAt,
		"node_count":  snap.NodeCount,
		"edge_count":  snap.EdgeCount,
		"modularity":  snap.Modularity,
	})
}

func (s *Server) handleSnapshotsDiff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	aID, bID := q.Get("a"), q.Get("b")

	s.snapshotMu.Lock()
	a, okA := s.snapshots[aID]
	b, okB := s.snapshots[bID]
	s.snapshotMu.Unlock()

	if !okA || !okB {
		writeError(w, errSnapshotNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot.Between(a, b))
}

type provenanceView struct {
	NodeID    string     `json:"node_id"`
	Neighbors []nodeView `json:"neighbors"`
	Edges     []edgeView `json:"edges"`
}

func (s *Server) handleProvenance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	namespace := defaultNamespace(q.Get("namespace"))
	nodeID := q.Get("node_id")

	nodes, edges, err := s.deps.Store.Neighbors(r.Context(), namespace, nodeID, 1)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, provenanceView{
		NodeID:    nodeID,
		Neighbors: toNodeViews(nodes),
		Edges:     toEdgeViews(edges),
	})
}
