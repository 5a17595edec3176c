package snapshot

import (
	"context"
	"testing"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/graphstore"
)

type fakeStore struct {
	nodes map[string]domain.Node
	edges []domain.Edge
}

func newFakeStore() *fakeStore { return &fakeStore{nodes: map[string]domain.Node{}} }

func (s *fakeStore) addNode(id string, communityID int) {
	s.nodes[id] = domain.Node{ID: id, Namespace: "ns", Properties: map[string]any{"community_id": communityID}}
}
func (s *fakeStore) addEdge(id, from, to string) {
	s.edges = append(s.edges, domain.Edge{ID: id, SourceID: from, TargetID: to})
}

func (s *fakeStore) UpsertNode(context.Context, domain.Node) (graphstore.UpsertResult, error) {
	return graphstore.UpsertResult{}, nil
}
func (s *fakeStore) UpsertEdge(context.Context, domain.Edge) (graphstore.UpsertResult, error) {
	return graphstore.UpsertResult{}, nil
}
func (s *fakeStore) GetNode(context.Context, string, string) (domain.Node, error) {
	return domain.Node{}, nil
}
func (s *fakeStore) Neighbors(context.Context, string, string, int) ([]domain.Node, []domain.Edge, error) {
	return nil, nil, nil
}
func (s *fakeStore) SearchByName(context.Context, string, string, int) ([]domain.Node, error) {
	return nil, nil
}
func (s *fakeStore) SampleSubgraph(_ context.Context, namespace string, _ graphstore.SampleParams) ([]domain.Node, []domain.Edge, error) {
	var nodes []domain.Node
	for _, n := range s.nodes {
		if n.Namespace == namespace {
			nodes = append(nodes, n)
		}
	}
	return nodes, s.edges, nil
}
func (s *fakeStore) IterateNodes(context.Context, string, string, int) (graphstore.Page, error) {
	return graphstore.Page{}, nil
}
func (s *fakeStore) ShortestPath(context.Context, string, string, string, int) ([]domain.Node, []domain.Edge, error) {
	return nil, nil, nil
}
func (s *fakeStore) BulkUpsert(context.Context, []domain.Node, []domain.Edge) (graphstore.BulkResult, error) {
	return graphstore.BulkResult{}, nil
}
func (s *fakeStore) Stats(context.Context, string) (graphstore.Stats, error) {
	return graphstore.Stats{}, nil
}
func (s *fakeStore) Namespaces(context.Context) ([]string, error) { return nil, nil }
func (s *fakeStore) IngestLog(context.Context, string, string) (domain.IngestLog, bool, error) {
	return domain.IngestLog{}, false, nil
}
func (s *fakeStore) PutIngestLog(context.Context, domain.IngestLog) error { return nil }
func (s *fakeStore) StaleDocs(context.Context, string) ([]domain.IngestLog, error) {
	return nil, nil
}
func (s *fakeStore) Close() error { return nil }

func twoClusterStore() *fakeStore {
	store := newFakeStore()
	store.addNode("a", 0)
	store.addNode("b", 0)
	store.addNode("c", 1)
	store.addNode("d", 1)
	store.addEdge("ab", "a", "b")
	store.addEdge("cd", "c", "d")
	return store
}

func TestCaptureCountsAndModularity(t *testing.T) {
	snap, err := Capture(context.Background(), twoClusterStore(), "ns")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.NodeCount != 4 || snap.EdgeCount != 2 {
		t.Fatalf("expected 4 nodes / 2 edges, got %d/%d", snap.NodeCount, snap.EdgeCount)
	}
	if snap.Modularity <= 0 {
		t.Fatalf("expected positive modularity for two disjoint well-separated clusters, got %f", snap.Modularity)
	}
}

func TestCaptureTreatsMissingCommunityAsSingleton(t *testing.T) {
	store := newFakeStore()
	store.nodes["x"] = domain.Node{ID: "x", Namespace: "ns", Properties: map[string]any{}}
	store.nodes["y"] = domain.Node{ID: "y", Namespace: "ns", Properties: map[string]any{}}
	store.addEdge("xy", "x", "y")

	snap, err := Capture(context.Background(), store, "ns")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.NodeCount != 2 {
		t.Fatalf("expected 2 nodes, got %d", snap.NodeCount)
	}
	// x and y are each their own singleton community (no edges counted as
	// internal), so modularity should be negative (all cross-community).
	if snap.Modularity >= 0 {
		t.Fatalf("expected negative modularity when every node is its own community, got %f", snap.Modularity)
	}
}

func TestBetweenIsSymmetric(t *testing.T) {
	before := twoClusterStore()
	after := twoClusterStore()
	after.addNode("e", 2)
	after.addEdge("ce", "c", "e")

	snapBefore, err := Capture(context.Background(), before, "ns")
	if err != nil {
		t.Fatalf("capture before: %v", err)
	}
	snapAfter, err := Capture(context.Background(), after, "ns")
	if err != nil {
		t.Fatalf("capture after: %v", err)
	}

	forward := Between(snapBefore, snapAfter)
	backward := Between(snapAfter, snapBefore)

	if len(forward.AddedNodeIDs) != 1 || forward.AddedNodeIDs[0] != "e" {
		t.Fatalf("expected node e added, got %v", forward.AddedNodeIDs)
	}
	if len(backward.RemovedNodeIDs) != 1 || backward.RemovedNodeIDs[0] != "e" {
		t.Fatalf("expected node e removed in reverse diff, got %v", backward.RemovedNodeIDs)
	}
	if forward.DeltaNodes != -backward.DeltaNodes {
		t.Fatalf("expected negated delta_nodes, got %d vs %d", forward.DeltaNodes, backward.DeltaNodes)
	}
	if forward.DeltaEdges != -backward.DeltaEdges {
		t.Fatalf("expected negated delta_edges, got %d vs %d", forward.DeltaEdges, backward.DeltaEdges)
	}
	if len(forward.AddedNodeIDs) != len(backward.RemovedNodeIDs) {
		t.Fatalf("expected symmetric added/removed node sets")
	}
}

func TestBetweenNoChangeIsEmptyDiff(t *testing.T) {
	store := twoClusterStore()
	snapA, _ := Capture(context.Background(), store, "ns")
	snapB, _ := Capture(context.Background(), store, "ns")

	d := Between(snapA, snapB)
	if len(d.AddedNodeIDs) != 0 || len(d.RemovedNodeIDs) != 0 {
		t.Fatalf("expected no node changes between identical captures, got %+v", d)
	}
	if d.DeltaModularity != 0 {
		t.Fatalf("expected zero delta_modularity for identical captures, got %f", d.DeltaModularity)
	}
}
