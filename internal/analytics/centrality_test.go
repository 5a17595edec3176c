package analytics

import "testing"

func TestDegreeTriangleAllEqual(t *testing.T) {
	g := buildIndex([]string{"a", "b", "c"}, []edgeRef{
		{"a", "b"}, {"b", "c"}, {"a", "c"},
	})
	raw, norm := degree(g)
	for i, d := range raw {
		if d != 2 {
			t.Fatalf("node %d: expected degree 2, got %d", i, d)
		}
		if norm[i] != 1 {
			t.Fatalf("node %d: expected normalized degree 1, got %f", i, norm[i])
		}
	}
}

func TestPageRankUniformOnTriangle(t *testing.T) {
	g := buildIndex([]string{"a", "b", "c"}, []edgeRef{
		{"a", "b"}, {"b", "c"}, {"a", "c"},
		{"b", "a"}, {"c", "b"}, {"c", "a"},
	})
	pr := pagerank(g)
	for i, r := range pr {
		if r != pr[0] {
			t.Fatalf("node %d: expected uniform normalized pagerank across a symmetric triangle, got %v", i, pr)
		}
	}
}

func TestBetweennessMiddleOfPathScoresHighest(t *testing.T) {
	// a - b - c: b sits on every shortest path between a and c.
	g := buildIndex([]string{"a", "b", "c"}, []edgeRef{
		{"a", "b"}, {"b", "c"},
	})
	bt := betweenness(g)
	if bt[1] <= bt[0] || bt[1] <= bt[2] {
		t.Fatalf("expected middle node to have highest betweenness, got %v", bt)
	}
}

func TestImportanceBlendsInputs(t *testing.T) {
	imp := importance([]float64{1, 0}, []float64{1, 0}, []float64{1, 0})
	if imp[0] != 1 {
		t.Fatalf("expected full-signal node to score 1, got %f", imp[0])
	}
	if imp[1] != 0 {
		t.Fatalf("expected zero-signal node to score 0, got %f", imp[1])
	}
}

func TestEmptyGraphMetricsDoNotPanic(t *testing.T) {
	g := buildIndex(nil, nil)
	if pagerank(g) != nil {
		t.Fatal("expected nil pagerank on empty graph")
	}
	if betweenness(g) != nil {
		t.Fatal("expected nil betweenness on empty graph")
	}
}
