// Package retrieval implements the multi-signal ranking engine: candidate
// generation over embeddings or name/lexical matching, a structural rerank
// blending similarity/degree/centrality/lexical signals, adjacency
// expansion, and truncation to top_k with a recorded reasoning chain.
// Grounded on the teacher's engine/rag.Service.Query stage shape.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/embedder"
	"github.com/graphrag/core/internal/graphstore"
)

// Mode is the retrieval strategy requested.
type Mode = domain.RetrievalMode

const (
	ModeAuto       = domain.ModeAuto
	ModeGlobal     = domain.ModeGlobal
	ModeLocal      = domain.ModeLocal
	ModeDrift      = domain.ModeDrift
	ModeStructured = domain.ModeStructured
)

// AutoLocalThreshold is the minimum best-candidate local score below which
// auto mode retries global and may merge results.
const AutoLocalThreshold = 0.35

// SampleCap bounds how many nodes the candidate-generation pass considers
// per namespace when ranking by embedding similarity.
const SampleCap = 1000

// AdjacencyTopN is how many top-ranked seeds get neighbor expansion.
const AdjacencyTopN = 20

// AdjacencyDecay scales the score of a node reached only via expansion.
const AdjacencyDecay = 0.5

var expansionRelations = map[domain.Relation]bool{
	domain.RelMentionedIn: true,
	domain.RelHasEntity:   true,
	domain.RelRoleAt:      true,
	domain.RelUsesTech:    true,
}

// weights is the structural-rerank weight vector (w_sim, w_deg, w_cent, w_lex).
type weights struct{ sim, deg, cent, lex float64 }

var modeWeights = map[Mode]weights{
	ModeLocal:  {0.60, 0.10, 0.10, 0.20},
	ModeGlobal: {0.30, 0.25, 0.30, 0.15},
	ModeDrift:  {0.40, 0.10, 0.30, 0.20},
}

// Filters narrows candidate generation before scoring.
type Filters struct {
	Labels    map[domain.Label]bool
	Relations map[domain.Relation]bool
}

// Query is one retrieval request.
type Query struct {
	Question  string
	Namespace string
	Mode      Mode
	TopK      int
	Filters   Filters
}

// ReasoningStep is one recorded stage of the ranking pipeline.
type ReasoningStep struct {
	Step          string
	CandidateIDs  []string
	ScoreBreakdown map[string]float64
}

// Result is the retrieval response.
type Result struct {
	ModeUsed       Mode
	Nodes          []domain.Node
	Passages       []string
	ReasoningChain []ReasoningStep
}

type scored struct {
	node     domain.Node
	sim      float64
	deg      float64
	cent     float64
	lex      float64
	expanded bool
}

// Engine runs ranking queries against a graphstore.Store.
type Engine struct {
	store    graphstore.Store
	embedder *embedder.Service
}

// New wires a retrieval Engine.
func New(store graphstore.Store, emb *embedder.Service) *Engine {
	return &Engine{store: store, embedder: emb}
}

// Query runs the ranking pipeline for q. Auto mode tries local first and
// retries global when the best local score misses the threshold.
func (e *Engine) Query(ctx context.Context, q Query) (Result, error) {
	if err := domain.ValidateRetrievalMode(q.Mode); err != nil {
		return Result{}, err
	}
	if q.TopK <= 0 {
		q.TopK = 10
	}

	mode := q.Mode
	if mode == ModeAuto {
		mode = ModeLocal
	}

	result, best, err := e.runMode(ctx, q, mode)
	if err != nil {
		return Result{}, err
	}

	if q.Mode == ModeAuto && mode == ModeLocal && best < AutoLocalThreshold {
		globalResult, _, err := e.runMode(ctx, q, ModeGlobal)
		if err == nil {
			result = mergeResults(result, globalResult, q.TopK)
			result.ModeUsed = ModeGlobal
		}
	}

	return result, nil
}

func (e *Engine) runMode(ctx context.Context, q Query, mode Mode) (Result, float64, error) {
	select {
	case <-ctx.Done():
		return Result{}, 0, ctx.Err()
	default:
	}

	candidates, chain, err := e.generateCandidates(ctx, q)
	if err != nil {
		return Result{}, 0, err
	}

	select {
	case <-ctx.Done():
		return Result{}, 0, ctx.Err()
	default:
	}

	w := modeWeights[mode]
	if w == (weights{}) {
		w = modeWeights[ModeLocal]
	}
	rerankStep := rerank(candidates, w)
	chain = append(chain, rerankStep)

	expanded, expandStep := e.expand(ctx, q.Namespace, candidates)
	chain = append(chain, expandStep)

	sortCandidates(expanded, w)

	best := 0.0
	if len(expanded) > 0 {
		best = totalScore(expanded[0], w)
	}

	topK := q.TopK
	if topK > len(expanded) {
		topK = len(expanded)
	}
	top := expanded[:topK]

	nodes := make([]domain.Node, len(top))
	passages := make([]string, 0, len(top))
	ids := make([]string, len(top))
	for i, c := range top {
		nodes[i] = c.node
		ids[i] = c.node.ID
		if text, ok := c.node.Properties["text"].(string); ok {
			passages = append(passages, text)
		}
	}
	chain = append(chain, ReasoningStep{Step: "truncate", CandidateIDs: ids})

	return Result{ModeUsed: mode, Nodes: nodes, Passages: passages, ReasoningChain: chain}, best, nil
}

func (e *Engine) generateCandidates(ctx context.Context, q Query) ([]scored, []ReasoningStep, error) {
	var chain []ReasoningStep

	sample, _, err := e.store.SampleSubgraph(ctx, q.Namespace, graphstore.SampleParams{Mode: graphstore.SampleRandom, Sample: SampleCap})
	if err != nil {
		return nil, nil, err
	}
	sample = applyFilters(sample, q.Filters)

	var embStatus embedder.EmbedStatus
	if e.embedder != nil && q.Question != "" {
		statuses := e.embedder.EmbedBatch(ctx, []string{q.Question})
		if len(statuses) > 0 {
			embStatus = statuses[0]
		}
	}

	terms := lexicalTerms(q.Question)

	var out []scored
	ids := make([]string, 0, len(sample))
	for _, n := range sample {
		c := scored{node: n}
		if len(embStatus.Vector) > 0 {
			if len(n.Embedding) > 0 {
				c.sim = cosineSimilarity(embStatus.Vector, n.Embedding)
			}
		} else if strings.Contains(strings.ToLower(n.Name), strings.ToLower(q.Question)) {
			c.sim = 1
		}
		c.lex = termOverlap(n, terms)
		out = append(out, c)
		ids = append(ids, n.ID)
	}
	chain = append(chain, ReasoningStep{Step: "candidate_generation", CandidateIDs: ids})
	return out, chain, nil
}

func applyFilters(nodes []domain.Node, f Filters) []domain.Node {
	if len(f.Labels) == 0 {
		return nodes
	}
	var out []domain.Node
	for _, n := range nodes {
		if f.Labels[n.Label] {
			out = append(out, n)
		}
	}
	return out
}

func lexicalTerms(question string) map[string]bool {
	terms := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, "?.,!;:'\"")
		if len(w) > 2 {
			terms[w] = true
		}
	}
	return terms
}

func termOverlap(n domain.Node, terms map[string]bool) float64 {
	if len(terms) == 0 {
		return 0
	}
	text, _ := n.Properties["text"].(string)
	haystack := strings.ToLower(n.Name + " " + text)
	hits := 0
	for t := range terms {
		if strings.Contains(haystack, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func rerank(candidates []scored, w weights) ReasoningStep {
	maxDeg := 1.0
	for i := range candidates {
		if d, ok := candidates[i].node.Properties["degree"].(float64); ok && d > maxDeg {
			maxDeg = d
		}
	}
	ids := make([]string, len(candidates))
	breakdown := map[string]float64{}
	for i := range candidates {
		deg, _ := candidates[i].node.Properties["degree"].(float64)
		cent, _ := candidates[i].node.Properties["pagerank_norm"].(float64)
		candidates[i].deg = deg / maxDeg
		candidates[i].cent = cent
		ids[i] = candidates[i].node.ID
	}
	breakdown["w_sim"] = w.sim
	breakdown["w_deg"] = w.deg
	breakdown["w_cent"] = w.cent
	breakdown["w_lex"] = w.lex
	return ReasoningStep{Step: "structural_rerank", CandidateIDs: ids, ScoreBreakdown: breakdown}
}

func totalScore(c scored, w weights) float64 {
	base := w.sim*c.sim + w.deg*c.deg + w.cent*c.cent + w.lex*c.lex
	if c.expanded {
		base *= AdjacencyDecay
	}
	return base
}

func (e *Engine) expand(ctx context.Context, namespace string, candidates []scored) ([]scored, ReasoningStep) {
	topN := AdjacencyTopN
	if topN > len(candidates) {
		topN = len(candidates)
	}
	seeds := candidates[:topN]

	seen := map[string]bool{}
	for _, c := range candidates {
		seen[c.node.ID] = true
	}

	var added []string
	for _, seed := range seeds {
		_, edges, err := e.store.Neighbors(ctx, namespace, seed.node.ID, 1)
		if err != nil {
			continue
		}
		for _, edge := range edges {
			if !expansionRelations[edge.Relation] {
				continue
			}
			otherID := edge.TargetID
			if otherID == seed.node.ID {
				otherID = edge.SourceID
			}
			if seen[otherID] {
				continue
			}
			node, err := e.store.GetNode(ctx, namespace, otherID)
			if err != nil {
				continue
			}
			seen[otherID] = true
			c := scored{node: node, sim: seed.sim * AdjacencyDecay, lex: seed.lex * AdjacencyDecay, expanded: true}
			candidates = append(candidates, c)
			added = append(added, otherID)
		}
	}
	return candidates, ReasoningStep{Step: "adjacency_expansion", CandidateIDs: added}
}

func sortCandidates(candidates []scored, w weights) {
	sort.SliceStable(candidates, func(i, j int) bool {
		si := totalScore(candidates[i], w)
		sj := totalScore(candidates[j], w)
		if si != sj {
			return si > sj
		}
		impI, _ := candidates[i].node.Properties["importance"].(float64)
		impJ, _ := candidates[j].node.Properties["importance"].(float64)
		if impI != impJ {
			return impI > impJ
		}
		return candidates[i].node.ID < candidates[j].node.ID
	})
}

func mergeResults(local, global Result, topK int) Result {
	seen := map[string]bool{}
	var nodes []domain.Node
	var passages []string
	for _, n := range local.Nodes {
		seen[n.ID] = true
		nodes = append(nodes, n)
	}
	for _, n := range global.Nodes {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		nodes = append(nodes, n)
	}
	if len(nodes) > topK {
		nodes = nodes[:topK]
	}
	passages = append(passages, local.Passages...)
	passages = append(passages, global.Passages...)
	chain := append(local.ReasoningChain, global.ReasoningChain...)
	return Result{Nodes: nodes, Passages: passages, ReasoningChain: chain}
}
