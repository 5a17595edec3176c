// Package analytics computes graph-wide metrics over a namespace's node set:
// degree, PageRank and betweenness centrality, a composite importance score,
// Louvain-style community detection, and optional LLM cluster summarization.
// Grounded on the teacher's graph/community.go BFS-plus-modularity shape,
// generalized from SQLite-backed entity/relationship tables to the
// graphstore.Store contract and extended with the centrality metrics the
// teacher never computed.
package analytics

import "math"

const (
	pagerankDamping    = 0.85
	pagerankMaxIter    = 100
	pagerankEpsilon    = 1e-6
	betweennessSampleV = 5000
)

// graphIndex is the compact adjacency representation every metric walks,
// built once per Compute call from the namespace's sampled node/edge set.
type graphIndex struct {
	ids  []string
	idx  map[string]int
	adj  [][]int // undirected adjacency, deduplicated
	outW [][]int // directed out-adjacency (source -> target), for PageRank
	inW  [][]int // directed in-adjacency (target -> source), for PageRank
}

func buildIndex(nodeIDs []string, edges []edgeRef) *graphIndex {
	g := &graphIndex{idx: make(map[string]int, len(nodeIDs))}
	g.ids = nodeIDs
	for i, id := range nodeIDs {
		g.idx[id] = i
	}
	g.adj = make([][]int, len(nodeIDs))
	g.outW = make([][]int, len(nodeIDs))
	g.inW = make([][]int, len(nodeIDs))

	seen := map[[2]int]bool{}
	for _, e := range edges {
		si, okS := g.idx[e.source]
		ti, okT := g.idx[e.target]
		if !okS || !okT || si == ti {
			continue
		}
		g.outW[si] = append(g.outW[si], ti)
		g.inW[ti] = append(g.inW[ti], si)

		key := [2]int{si, ti}
		if si > ti {
			key = [2]int{ti, si}
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		g.adj[si] = append(g.adj[si], ti)
		g.adj[ti] = append(g.adj[ti], si)
	}
	return g
}

type edgeRef struct {
	source, target string
}

// degree returns raw undirected degree and degree_norm, the degree divided by
// the largest degree in the graph.
func degree(g *graphIndex) (raw []int, norm []float64) {
	raw = make([]int, len(g.ids))
	for i := range g.ids {
		raw[i] = len(g.adj[i])
	}
	maxDeg := 0
	for _, d := range raw {
		if d > maxDeg {
			maxDeg = d
		}
	}
	norm = make([]float64, len(raw))
	if maxDeg == 0 {
		return raw, norm
	}
	for i, d := range raw {
		norm[i] = float64(d) / float64(maxDeg)
	}
	return raw, norm
}

// pagerank implements the standard power-iteration PageRank with damping
// 0.85, stopping at convergence epsilon 1e-6 or after 100 iterations, then
// min-max normalizes the result to [0,1].
func pagerank(g *graphIndex) []float64 {
	n := len(g.ids)
	if n == 0 {
		return nil
	}
	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}
	outDeg := make([]int, n)
	for i := range g.outW {
		outDeg[i] = len(g.outW[i])
	}

	for iter := 0; iter < pagerankMaxIter; iter++ {
		next := make([]float64, n)
		danglingMass := 0.0
		for i, d := range outDeg {
			if d == 0 {
				danglingMass += rank[i]
			}
		}
		base := (1 - pagerankDamping) / float64(n)
		redistributed := pagerankDamping * danglingMass / float64(n)
		for i := range next {
			next[i] = base + redistributed
		}
		for i, targets := range g.outW {
			if len(targets) == 0 {
				continue
			}
			share := pagerankDamping * rank[i] / float64(len(targets))
			for _, t := range targets {
				next[t] += share
			}
		}

		delta := 0.0
		for i := range rank {
			delta += math.Abs(next[i] - rank[i])
		}
		rank = next
		if delta < pagerankEpsilon {
			break
		}
	}
	return normalize(rank)
}

// betweenness computes betweenness centrality via Brandes' algorithm on the
// undirected adjacency, sampling source nodes when |V| exceeds
// betweennessSampleV, and normalizes the result to [0,1].
func betweenness(g *graphIndex) []float64 {
	n := len(g.ids)
	if n == 0 {
		return nil
	}
	centrality := make([]float64, n)

	sources := make([]int, n)
	for i := range sources {
		sources[i] = i
	}
	if n > betweennessSampleV {
		sources = sampleIndices(n, betweennessSampleV)
	}

	for _, s := range sources {
		stack := make([]int, 0, n)
		pred := make([][]int, n)
		sigma := make([]float64, n)
		dist := make([]int, n)
		for i := range dist {
			dist[i] = -1
		}
		sigma[s] = 1
		dist[s] = 0
		queue := []int{s}

		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range g.adj[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		delta := make([]float64, n)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range pred[w] {
				if sigma[w] == 0 {
					continue
				}
				delta[v] += (sigma[v] / sigma[w]) * (1 + delta[w])
			}
			if w != s {
				centrality[w] += delta[w]
			}
		}
	}

	if len(sources) < n {
		scale := float64(n) / float64(len(sources))
		for i := range centrality {
			centrality[i] *= scale
		}
	}
	for i := range centrality {
		centrality[i] /= 2
	}
	return normalize(centrality)
}

// importance blends degree, PageRank and betweenness into a single composite
// score per the fixed weighting 0.4/0.35/0.25.
func importance(degNorm, pr, bt []float64) []float64 {
	out := make([]float64, len(degNorm))
	for i := range out {
		out[i] = 0.4*degNorm[i] + 0.35*pr[i] + 0.25*bt[i]
	}
	return out
}

func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	min, max := math.Inf(1), math.Inf(-1)
	for _, x := range v {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	if max == min {
		return out
	}
	for i, x := range v {
		out[i] = (x - min) / (max - min)
	}
	return out
}

// sampleIndices deterministically picks k evenly spaced indices out of n,
// avoiding a dependency on math/rand so Compute stays reproducible.
func sampleIndices(n, k int) []int {
	if k >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, 0, k)
	step := float64(n) / float64(k)
	for i := 0; i < k; i++ {
		out = append(out, int(float64(i)*step))
	}
	return out
}
