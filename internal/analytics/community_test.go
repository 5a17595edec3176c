package analytics

import "testing"

func TestDetectCommunitiesSeparatesDisjointComponents(t *testing.T) {
	// Two disjoint triangles: {a,b,c} and {d,e,f}.
	g := buildIndex([]string{"a", "b", "c", "d", "e", "f"}, []edgeRef{
		{"a", "b"}, {"b", "c"}, {"a", "c"},
		{"d", "e"}, {"e", "f"}, {"d", "f"},
	})
	assign := detectCommunities(g)

	if assign.id[0] == assign.id[3] {
		t.Fatalf("expected the two triangles to land in different communities, got %v", assign.id)
	}
	for i := 1; i < 3; i++ {
		if assign.id[i] != assign.id[0] {
			t.Fatalf("expected nodes within a triangle to share a community id, got %v", assign.id)
		}
	}
}

func TestModularitySplitReturnsWholeComponentWhenTooSmall(t *testing.T) {
	g := buildIndex([]string{"a", "b", "c"}, []edgeRef{{"a", "b"}, {"b", "c"}})
	groups := modularitySplit(g, []int{0, 1, 2})
	if len(groups) != 1 || len(groups[0]) != 3 {
		t.Fatalf("expected a single unsplit group below the minimum split size, got %v", groups)
	}
}
