package api

import (
	"net/http"

	"github.com/graphrag/core/internal/analytics"
	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/orchestrator"
)

var errAnalyticsNotConfigured = domain.NewError(domain.KindValidation, "analytics is not configured", nil)
var errOrchestratorNotConfigured = domain.NewError(domain.KindValidation, "orchestrator is not configured", nil)
var errSummarizerNotConfigured = domain.NewError(domain.KindValidation, "cluster summarization is not configured", nil)

type recomputeRequest struct {
	Namespace string `json:"namespace"`
}

func (s *Server) handleCentralityRecompute(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analytics == nil {
		writeError(w, errAnalyticsNotConfigured)
		return
	}
	var req recomputeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.deps.Analytics.Compute(r.Context(), defaultNamespace(req.Namespace))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace":  result.Namespace,
		"node_count": result.NodeCount,
		"clusters":   len(result.Clusters),
		"ran_at":     result.RanAt,
	})
}

type layoutRecomputeRequest struct {
	Namespace string `json:"namespace"`
	Mode      string `json:"mode"`
}

func (s *Server) handleLayoutRecompute(w http.ResponseWriter, r *http.Request) {
	var req layoutRecomputeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode := req.Mode
	if mode != "clustered" {
		mode = "hybrid"
	}
	namespace := defaultNamespace(req.Namespace)
	written, err := recomputeLayout(r.Context(), s.deps.Store, namespace, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace":      namespace,
		"mode":           mode,
		"nodes_placed":   written,
		"layout_version": layoutVersion,
	})
}

type clusterView struct {
	ClusterID string   `json:"cluster_id"`
	Level     int      `json:"level"`
	NodeIDs   []string `json:"node_ids"`
	Size      int      `json:"size"`
	TopTerms  []string `json:"top_terms"`
}

func toClusterViews(clusters []analytics.Cluster) []clusterView {
	out := make([]clusterView, len(clusters))
	for i, c := range clusters {
		out[i] = clusterView{ClusterID: c.ClusterID, Level: c.Level, NodeIDs: c.NodeIDs, Size: c.Size, TopTerms: c.TopTerms}
	}
	return out
}

func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analytics == nil {
		writeError(w, errAnalyticsNotConfigured)
		return
	}
	namespace := defaultNamespace(r.URL.Query().Get("namespace"))
	clusters, ok := s.deps.Analytics.Clusters(namespace)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"clusters": []clusterView{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": toClusterViews(clusters)})
}

type clusterSummarizeRequest struct {
	Namespace string `json:"namespace"`
}

type summaryView struct {
	ClusterID string `json:"cluster_id"`
	Label     string `json:"label"`
	Text      string `json:"text"`
}

func (s *Server) handleClusterSummarize(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analytics == nil {
		writeError(w, errAnalyticsNotConfigured)
		return
	}
	if s.deps.Summarizer == nil {
		writeError(w, errSummarizerNotConfigured)
		return
	}
	var req clusterSummarizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	namespace := defaultNamespace(req.Namespace)
	if !s.deps.RateLimits.allowSummarize(namespace) {
		writeRateLimited(w)
		return
	}

	clusters, ok := s.deps.Analytics.Clusters(namespace)
	if !ok || len(clusters) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"summaries": []summaryView{}})
		return
	}

	sampleNames := map[string][]string{}
	for _, c := range clusters {
		names := make([]string, 0, len(c.NodeIDs))
		for _, id := range c.NodeIDs {
			node, err := s.deps.Store.GetNode(r.Context(), namespace, id)
			if err != nil {
				continue
			}
			names = append(names, node.Name)
		}
		sampleNames[c.ClusterID] = names
	}

	summaries := s.deps.Summarizer.Summarize(r.Context(), namespace, clusters, sampleNames, analytics.DefaultDailyTokenBudget)
	views := make([]summaryView, len(summaries))
	for i, sm := range summaries {
		views[i] = summaryView{ClusterID: sm.ClusterID, Label: sm.Label, Text: sm.Text}
		s.storeSummary(namespace, views[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": views})
}

func (s *Server) handleClusterSummaries(w http.ResponseWriter, r *http.Request) {
	namespace := defaultNamespace(r.URL.Query().Get("namespace"))
	s.summaryMu.Lock()
	views := append([]summaryView{}, s.summaries[namespace]...)
	s.summaryMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"summaries": views})
}

func (s *Server) storeSummary(namespace string, v summaryView) {
	s.summaryMu.Lock()
	defer s.summaryMu.Unlock()
	list := s.summaries[namespace]
	for i, existing := range list {
		if existing.ClusterID == v.ClusterID {
			list[i] = v
			s.summaries[namespace] = list
			return
		}
	}
	s.summaries[namespace] = append(list, v)
}

type indexRunRequest struct {
	Namespace string `json:"namespace"`
	Force     bool   `json:"force"`
}

func (s *Server) handleIndexRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orchestrator == nil {
		writeError(w, errOrchestratorNotConfigured)
		return
	}
	var req indexRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.deps.Orchestrator.RunOnce(r.Context(), orchestrator.RunOptions{
		Namespace: defaultNamespace(req.Namespace),
		Trigger:   orchestrator.TriggerManual,
		Force:     req.Force,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":       rec.RunID,
		"status":       rec.Status,
		"stale_docs":   rec.StaleDocs,
		"indexed_docs": rec.IndexedDocs,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.deps.Metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleMetricsExtended(w http.ResponseWriter, r *http.Request) {
	namespaces, err := s.deps.Store.Namespaces(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	perNamespace := make(map[string]graphstoreStatsView, len(namespaces))
	for _, ns := range namespaces {
		stats, err := s.deps.Store.Stats(r.Context(), ns)
		if err != nil {
			continue
		}
		perNamespace[ns] = graphstoreStatsView{NodeCount: stats.NodeCount, EdgeCount: stats.EdgeCount}
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": perNamespace})
}

type graphstoreStatsView struct {
	NodeCount int `json:"node_count"`
	EdgeCount int `json:"edge_count"`
}
