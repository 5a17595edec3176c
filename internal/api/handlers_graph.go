package api

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/graphstore"
)

type edgeView struct {
	ID         string          `json:"id"`
	SourceID   string          `json:"source_id"`
	TargetID   string          `json:"target_id"`
	Relation   domain.Relation `json:"relation"`
	Confidence float64         `json:"confidence"`
}

func toEdgeViews(edges []domain.Edge) []edgeView {
	out := make([]edgeView, len(edges))
	for i, e := range edges {
		out[i] = edgeView{ID: e.ID, SourceID: e.SourceID, TargetID: e.TargetID, Relation: e.Relation, Confidence: e.Confidence}
	}
	return out
}

func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	namespace := defaultNamespace(q.Get("namespace"))
	mode := graphstore.SampleRandom
	if q.Get("mode") == "viewport" {
		mode = graphstore.SampleViewport
	}
	params := graphstore.SampleParams{Mode: mode, Sample: intParam(r, "sample", 500)}
	if mode == graphstore.SampleViewport {
		params.MinX, _ = strconv.ParseFloat(q.Get("min_x"), 64)
		params.MinY, _ = strconv.ParseFloat(q.Get("min_y"), 64)
		params.MaxX, _ = strconv.ParseFloat(q.Get("max_x"), 64)
		params.MaxY, _ = strconv.ParseFloat(q.Get("max_y"), 64)
	}

	nodes, edges, err := s.deps.Store.SampleSubgraph(r.Context(), namespace, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace": namespace,
		"nodes":     toNodeViews(nodes),
		"edges":     toEdgeViews(edges),
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	namespace := defaultNamespace(q.Get("namespace"))
	page, err := s.deps.Store.IterateNodes(r.Context(), namespace, q.Get("cursor"), intParam(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": toNodeViews(page.Nodes),
		"cursor":  page.Cursor,
	})
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	namespace := defaultNamespace(q.Get("namespace"))
	ids := strings.Split(q.Get("node_ids"), ",")
	limit := intParam(r, "limit", 200)

	var results []domain.Edge
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		_, edges, err := s.deps.Store.Neighbors(r.Context(), namespace, id, 1)
		if err != nil {
			continue
		}
		for _, e := range edges {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			results = append(results, e)
			if len(results) >= limit {
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": toEdgeViews(results)})
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("node_id")
	namespace := defaultNamespace(r.URL.Query().Get("namespace"))
	depth := intParam(r, "depth", 1)

	nodes, edges, err := s.deps.Store.Neighbors(r.Context(), namespace, nodeID, depth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": toNodeViews(nodes),
		"edges": toEdgeViews(edges),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	namespace := defaultNamespace(q.Get("namespace"))
	prefix := q.Get("q")
	limit := intParam(r, "limit", 20)

	nodes, err := s.deps.Store.SearchByName(r.Context(), namespace, prefix, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": toNodeViews(nodes)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	namespace := defaultNamespace(r.URL.Query().Get("namespace"))
	stats, err := s.deps.Store.Stats(r.Context(), namespace)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	namespaces, err := s.deps.Store.Namespaces(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": namespaces})
}

type pathRequest struct {
	SourceID  string `json:"source_id"`
	TargetID  string `json:"target_id"`
	MaxDepth  int    `json:"max_depth"`
	Namespace string `json:"namespace"`
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 6
	}
	nodes, edges, err := s.deps.Store.ShortestPath(r.Context(), defaultNamespace(req.Namespace), req.SourceID, req.TargetID, maxDepth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":  toNodeViews(nodes),
		"edges": toEdgeViews(edges),
	})
}

type similarResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	namespace := defaultNamespace(q.Get("namespace"))
	nodeID := q.Get("node_id")
	limit := intParam(r, "limit", 10)

	target, err := s.deps.Store.GetNode(r.Context(), namespace, nodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(target.Embedding) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"similar": []similarResult{}})
		return
	}

	if s.deps.VectorIndex != nil {
		hits, err := s.deps.VectorIndex.Search(r.Context(), target.Embedding, limit+1, map[string]string{"namespace": namespace})
		if err == nil {
			scored := make([]similarResult, 0, len(hits))
			for _, h := range hits {
				if h.ID == target.ID {
					continue
				}
				scored = append(scored, similarResult{ID: h.ID, Score: float64(h.Score)})
				if len(scored) >= limit {
					break
				}
			}
			writeJSON(w, http.StatusOK, map[string]any{"similar": scored})
			return
		}
		s.log.Warn("similar.vector_index_search_failed", "namespace", namespace, "error", err)
	}

	candidates, _, err := s.deps.Store.SampleSubgraph(r.Context(), namespace, graphstore.SampleParams{Mode: graphstore.SampleRandom, Sample: 1000})
	if err != nil {
		writeError(w, err)
		return
	}

	var scored []similarResult
	for _, n := range candidates {
		if n.ID == target.ID || len(n.Embedding) == 0 {
			continue
		}
		scored = append(scored, similarResult{ID: n.ID, Score: cosineSimilarity(target.Embedding, n.Embedding)})
	}
	sortSimilarDesc(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"similar": scored})
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

func sortSimilarDesc(s []similarResult) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Score > s[j-1].Score; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
