// Package snapshot captures point-in-time graph state (node/edge identity
// sets, aggregate counts, community modularity) and computes symmetric diffs
// between two such captures. Grounded on the teacher's cmd/snapshot-collector
// prev/current JSON comparison shape, generalized from a flat metrics struct
// diffed field-by-field to identity-set diffing over graphstore.Store reads.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/graphstore"
)

// SampleCap bounds a single Capture call, mirroring analytics.FullGraphSampleCap
// (not imported directly to avoid a dependency on the analytics package; a
// snapshot is a storage-layer concept that happens to read analytics-written
// properties, not a consumer of the analytics engine itself).
const SampleCap = 20000

// Snapshot is an immutable capture of a namespace's node/edge identity sets,
// its community assignment (as last written by analytics), and the derived
// aggregate counts and modularity.
type Snapshot struct {
	Namespace    string          `json:"namespace"`
	TakenAt      time.Time       `json:"taken_at"`
	NodeIDs      map[string]bool `json:"-"`
	EdgeIDs      map[string]bool `json:"-"`
	NodeCount    int             `json:"node_count"`
	EdgeCount    int             `json:"edge_count"`
	Modularity   float64         `json:"modularity"`
	communityOf  map[string]int  // node id -> community id, for diff's community-set comparison
}

// communitySet returns the distinct community ids present in the snapshot,
// stringified as "<id>" so they can be compared the same way node/edge ids are.
func (s Snapshot) communitySet() map[string]bool {
	out := map[string]bool{}
	for _, c := range s.communityOf {
		out[fmt.Sprintf("%d", c)] = true
	}
	return out
}

// Capture reads the full sampled subgraph for namespace and builds a Snapshot.
// Modularity is computed from each node's community_id property (as written
// by the last analytics.Engine.Compute run); nodes missing that property are
// treated as singleton communities keyed by their own id, so an
// analytics-never-run namespace still captures cleanly (its modularity is then
// at most 0, and below 0 whenever it has edges).
func Capture(ctx context.Context, store graphstore.Store, namespace string) (Snapshot, error) {
	nodes, edges, err := store.SampleSubgraph(ctx, namespace, graphstore.SampleParams{
		Mode: graphstore.SampleRandom, Sample: SampleCap,
	})
	if err != nil {
		return Snapshot{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}

	snap := Snapshot{
		Namespace:   namespace,
		TakenAt:     time.Now().UTC(),
		NodeIDs:     make(map[string]bool, len(nodes)),
		EdgeIDs:     make(map[string]bool, len(edges)),
		communityOf: make(map[string]int, len(nodes)),
	}
	for _, n := range nodes {
		snap.NodeIDs[n.ID] = true
		snap.communityOf[n.ID] = communityIDOf(n)
	}
	for _, e := range edges {
		snap.EdgeIDs[e.ID] = true
	}
	snap.NodeCount = len(snap.NodeIDs)
	snap.EdgeCount = len(snap.EdgeIDs)
	snap.Modularity = modularity(nodes, edges, snap.communityOf)
	return snap, nil
}

// communityIDOf reads a node's community_id property, defaulting to a
// singleton community (one per node) when analytics has never run against it.
func communityIDOf(n domain.Node) int {
	if v, ok := n.Properties["community_id"]; ok {
		switch t := v.(type) {
		case int:
			return t
		case int64:
			return int(t)
		case float64:
			return int(t)
		}
	}
	return singletonCommunity(n.ID)
}

// singletonCommunity derives a stable per-node fallback community id from the
// node id's byte sum, so two captures of the same un-analyzed graph agree
// (actual value is irrelevant; only equality between two nodes' assignments
// matters for modularity).
func singletonCommunity(id string) int {
	sum := 0
	for _, b := range []byte(id) {
		sum += int(b)
	}
	return -(sum + 1) // negative range keeps it disjoint from real community ids, which are >= 0
}

// modularity computes the standard Newman-Girvan modularity Q for the given
// undirected edge set and community assignment:
//
//	Q = (1 / 2m) * sum_ij (A_ij - k_i*k_j / 2m) * delta(c_i, c_j)
//
// computed in its equivalent per-community form to avoid an O(n^2) pass.
func modularity(nodes []domain.Node, edges []domain.Edge, communityOf map[string]int) float64 {
	degree := make(map[string]float64, len(nodes))
	m := 0.0
	for _, e := range edges {
		if e.SourceID == e.TargetID {
			continue
		}
		degree[e.SourceID]++
		degree[e.TargetID]++
		m++
	}
	if m == 0 {
		return 0
	}

	sigmaTot := map[int]float64{}    // sum of degrees per community
	sigmaIn := map[int]float64{}     // sum of internal edge endpoints per community
	for _, n := range nodes {
		sigmaTot[communityOf[n.ID]] += degree[n.ID]
	}
	for _, e := range edges {
		if e.SourceID == e.TargetID {
			continue
		}
		if communityOf[e.SourceID] == communityOf[e.TargetID] {
			sigmaIn[communityOf[e.SourceID]] += 2
		}
	}

	m2 := 2 * m
	q := 0.0
	for c, tot := range sigmaTot {
		q += sigmaIn[c]/m2 - (tot/m2)*(tot/m2)
	}
	return q
}

// Diff is the symmetric comparison between two snapshots A and B.
type Diff struct {
	AddedNodeIDs      []string `json:"added_node_ids"`
	RemovedNodeIDs    []string `json:"removed_node_ids"`
	AddedEdgeIDs      []string `json:"added_edge_ids"`
	RemovedEdgeIDs    []string `json:"removed_edge_ids"`
	AddedCommunities  []string `json:"added_community_ids"`
	RemovedCommunities []string `json:"removed_community_ids"`
	DeltaNodes        int      `json:"delta_nodes"`
	DeltaEdges        int      `json:"delta_edges"`
	DeltaModularity   float64  `json:"delta_modularity"`
}

// Between computes the diff from a to b: additions are present in b but not
// a, removals are present in a but not b. Between(a, b) and Between(b, a)
// always have swapped added/removed sets and negated deltas.
func Between(a, b Snapshot) Diff {
	return Diff{
		AddedNodeIDs:       setDiff(b.NodeIDs, a.NodeIDs),
		RemovedNodeIDs:     setDiff(a.NodeIDs, b.NodeIDs),
		AddedEdgeIDs:       setDiff(b.EdgeIDs, a.EdgeIDs),
		RemovedEdgeIDs:     setDiff(a.EdgeIDs, b.EdgeIDs),
		AddedCommunities:   setDiff(b.communitySet(), a.communitySet()),
		RemovedCommunities: setDiff(a.communitySet(), b.communitySet()),
		DeltaNodes:         b.NodeCount - a.NodeCount,
		DeltaEdges:         b.EdgeCount - a.EdgeCount,
		DeltaModularity:    b.Modularity - a.Modularity,
	}
}

// setDiff returns the sorted ids present in present but absent from other.
func setDiff(present, other map[string]bool) []string {
	var out []string
	for id := range present {
		if !other[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
