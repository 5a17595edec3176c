package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/graphstore"
)

// FullGraphSampleCap bounds a single Compute pass: the namespace is read with
// one SampleSubgraph call of at most this many nodes, so in a larger
// namespace the nodes beyond the cap are left out of that pass.
const FullGraphSampleCap = 20000

// RecomputeTrigger is the fraction of new nodes (relative to the node count
// at the last run) that forces an automatic recompute.
const RecomputeTrigger = 0.10

// Result is one namespace's computed metrics and detected clusters.
type Result struct {
	Namespace string
	NodeCount int
	Clusters  []Cluster
	RanAt     time.Time
}

// Engine computes and persists analytics metrics against a graphstore.Store,
// enforcing the one-job-per-namespace rule and tracking recompute triggers.
type Engine struct {
	store graphstore.Store
	log   *slog.Logger

	mu          sync.Mutex
	running     map[string]bool
	lastRunSize map[string]int
	clusters    map[string][]Cluster
}

// New wires an Engine against store.
func New(store graphstore.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:       store,
		log:         logger,
		running:     map[string]bool{},
		lastRunSize: map[string]int{},
		clusters:    map[string][]Cluster{},
	}
}

// ShouldAutoRecompute reports whether the automatic recompute trigger has
// fired for namespace given its current node count.
func (e *Engine) ShouldAutoRecompute(namespace string, currentNodeCount int) bool {
	e.mu.Lock()
	last, ok := e.lastRunSize[namespace]
	e.mu.Unlock()
	if !ok || last == 0 {
		return currentNodeCount > 0
	}
	added := currentNodeCount - last
	if added <= 0 {
		return false
	}
	return float64(added)/float64(last) >= RecomputeTrigger
}

// Clusters returns the clusters detected on the last Compute run for
// namespace, if any.
func (e *Engine) Clusters(namespace string) ([]Cluster, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.clusters[namespace]
	return c, ok
}

// Compute recomputes degree/PageRank/betweenness/importance and community
// assignment for namespace, writes the metrics back onto each node, and
// records the resulting clusters. Only one Compute may run per namespace at
// a time; a concurrent call returns ErrLocked.
func (e *Engine) Compute(ctx context.Context, namespace string) (Result, error) {
	e.mu.Lock()
	if e.running[namespace] {
		e.mu.Unlock()
		return Result{}, domain.Wrap(domain.KindConflict, domain.ErrLocked)
	}
	e.running[namespace] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running[namespace] = false
		e.mu.Unlock()
	}()

	start := time.Now()
	e.log.Info("analytics.enter", "namespace", namespace)

	nodes, edges, err := e.store.SampleSubgraph(ctx, namespace, graphstore.SampleParams{
		Mode: graphstore.SampleRandom, Sample: FullGraphSampleCap,
	})
	if err != nil {
		return Result{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	if len(nodes) == 0 {
		e.log.Info("analytics.empty", "namespace", namespace)
		return Result{Namespace: namespace, RanAt: start}, nil
	}

	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	refs := make([]edgeRef, len(edges))
	for i, ed := range edges {
		refs[i] = edgeRef{source: ed.SourceID, target: ed.TargetID}
	}
	g := buildIndex(ids, refs)

	degRaw, degNorm := degree(g)
	pr := pagerank(g)
	bt := betweenness(g)
	imp := importance(degNorm, pr, bt)
	assign := detectCommunities(g)

	for i, n := range nodes {
		n.Properties = map[string]any{
			"degree":           degRaw[i],
			"degree_norm":      degNorm[i],
			"pagerank_norm":    pr[i],
			"betweenness_norm": bt[i],
			"importance":       imp[i],
			"community_id":     assign.id[i],
			"community_level":  assign.level[i],
		}
		if _, err := e.store.UpsertNode(ctx, n); err != nil {
			e.log.Error("analytics.write_failed", "namespace", namespace, "node_id", n.ID, "error", err)
		}
	}

	clusters := buildClusters(namespace, nodes, assign)

	e.mu.Lock()
	e.lastRunSize[namespace] = len(nodes)
	e.clusters[namespace] = clusters
	e.mu.Unlock()

	e.log.Info("analytics.exit", "namespace", namespace, "nodes", len(nodes),
		"clusters", len(clusters), "duration", time.Since(start))

	return Result{Namespace: namespace, NodeCount: len(nodes), Clusters: clusters, RanAt: start}, nil
}
