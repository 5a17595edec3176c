package retrieval

import (
	"context"
	"testing"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/graphstore"
)

type fakeStore struct {
	nodes map[string]domain.Node
	edges map[string][]domain.Edge // keyed by node id (either end)
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodes: map[string]domain.Node{}, edges: map[string][]domain.Edge{}}
}

func (s *fakeStore) addNode(n domain.Node) { s.nodes[n.ID] = n }

func (s *fakeStore) addEdge(e domain.Edge) {
	s.edges[e.SourceID] = append(s.edges[e.SourceID], e)
	s.edges[e.TargetID] = append(s.edges[e.TargetID], e)
}

func (s *fakeStore) UpsertNode(context.Context, domain.Node) (graphstore.UpsertResult, error) {
	return graphstore.UpsertResult{}, nil
}
func (s *fakeStore) UpsertEdge(context.Context, domain.Edge) (graphstore.UpsertResult, error) {
	return graphstore.UpsertResult{}, nil
}
func (s *fakeStore) GetNode(_ context.Context, _, id string) (domain.Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return domain.Node{}, domain.NewError(domain.KindNotFound, id, domain.ErrNodeNotFound)
	}
	return n, nil
}
func (s *fakeStore) Neighbors(_ context.Context, _, id string, _ int) ([]domain.Node, []domain.Edge, error) {
	return nil, s.edges[id], nil
}
func (s *fakeStore) SearchByName(context.Context, string, string, int) ([]domain.Node, error) {
	return nil, nil
}
func (s *fakeStore) SampleSubgraph(context.Context, string, graphstore.SampleParams) ([]domain.Node, []domain.Edge, error) {
	var nodes []domain.Node
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	return nodes, nil, nil
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
func (s *fakeStore) Stats(context.Context, string) (graphstore.Stats, error) { return graphstore.Stats{}, nil }
func (s *fakeStore) Namespaces(context.Context) ([]string, error)           { return nil, nil }
func (s *fakeStore) IngestLog(context.Context, string, string) (domain.IngestLog, bool, error) {
	return domain.IngestLog{}, false, nil
}
func (s *fakeStore) PutIngestLog(context.Context, domain.IngestLog) error { return nil }
func (s *fakeStore) StaleDocs(context.Context, string) ([]domain.IngestLog, error) {
	return nil, nil
}
func (s *fakeStore) Close() error { return nil }

func TestQueryNameMatchRanksFirst(t *testing.T) {
	store := newFakeStore()
	store.addNode(domain.Node{ID: "e:openai", Label: domain.LabelOrganization, Name: "OpenAI", Namespace: "public", Properties: map[string]any{}})
	store.addNode(domain.Node{ID: "e:microsoft", Label: domain.LabelOrganization, Name: "Microsoft", Namespace: "public", Properties: map[string]any{}})

	eng := New(store, nil)
	res, err := eng.Query(context.Background(), Query{Question: "OpenAI", Namespace: "public", Mode: ModeLocal, TopK: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Nodes) == 0 || res.Nodes[0].Name != "OpenAI" {
		t.Fatalf("expected OpenAI first, got %+v", res.Nodes)
	}
}

func TestQueryRejectsUnknownMode(t *testing.T) {
	store := newFakeStore()
	eng := New(store, nil)
	_, err := eng.Query(context.Background(), Query{Question: "x", Namespace: "public", Mode: Mode("bogus")})
	if err == nil {
		t.Fatal("expected validation error for unknown mode")
	}
}

func TestAdjacencyExpansionIncludesNeighbors(t *testing.T) {
	store := newFakeStore()
	store.addNode(domain.Node{ID: "role:alice", Label: domain.LabelRole, Name: "Alice", Namespace: "public", Properties: map[string]any{}})
	store.addNode(domain.Node{ID: "org:acme", Label: domain.LabelOrganization, Name: "Acme", Namespace: "public", Properties: map[string]any{}})
	store.addEdge(domain.Edge{ID: "e1", SourceID: "role:alice", TargetID: "org:acme", Relation: domain.RelRoleAt, Confidence: 0.8})

	eng := New(store, nil)
	res, err := eng.Query(context.Background(), Query{Question: "Alice", Namespace: "public", Mode: ModeLocal, TopK: 10, Filters: Filters{Labels: map[domain.Label]bool{domain.LabelRole: true}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, n := range res.Nodes {
		if n.ID == "org:acme" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected adjacency expansion to include Acme via ROLE_AT")
	}
}

func TestQueryContextCancellation(t *testing.T) {
	store := newFakeStore()
	eng := New(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.Query(ctx, Query{Question: "x", Namespace: "public", Mode: ModeLocal, TopK: 5})
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
