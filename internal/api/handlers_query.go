package api

import (
	"net/http"

	"github.com/graphrag/core/internal/answer"
	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/retrieval"
)

type queryRequest struct {
	Query     string   `json:"query"`
	Namespace string   `json:"namespace"`
	TopK      int      `json:"top_k"`
	Mode      string   `json:"mode"`
}

type nodeView struct {
	ID         string         `json:"id"`
	Label      domain.Label   `json:"label"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties"`
}

type reasoningStepView struct {
	Step           string             `json:"step"`
	CandidateIDs   []string           `json:"candidate_ids"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown"`
}

type queryResponse struct {
	ModeUsed       retrieval.Mode      `json:"mode_used"`
	Nodes          []nodeView          `json:"nodes"`
	Passages       []string            `json:"passages"`
	ReasoningChain []reasoningStepView `json:"reasoning_chain"`
}

func toNodeViews(nodes []domain.Node) []nodeView {
	out := make([]nodeView, len(nodes))
	for i, n := range nodes {
		out[i] = nodeView{ID: n.ID, Label: n.Label, Name: n.Name, Properties: n.Properties}
	}
	return out
}

func toReasoningViews(steps []retrieval.ReasoningStep) []reasoningStepView {
	out := make([]reasoningStepView, len(steps))
	for i, st := range steps {
		out[i] = reasoningStepView{Step: st.Step, CandidateIDs: st.CandidateIDs, ScoreBreakdown: st.ScoreBreakdown}
	}
	return out
}

func (s *Server) runQuery(r *http.Request, req queryRequest) (retrieval.Result, error) {
	namespace := defaultNamespace(req.Namespace)
	mode := retrieval.Mode(req.Mode)
	if mode == "" {
		mode = retrieval.ModeAuto
	}
	if err := domain.ValidateRetrievalMode(mode); err != nil {
		return retrieval.Result{}, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	return s.deps.Retrieval.Query(r.Context(), retrieval.Query{
		Question:  req.Query,
		Namespace: namespace,
		Mode:      mode,
		TopK:      topK,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !s.deps.RateLimits.allowQuery(defaultNamespace(req.Namespace), req.Mode) {
		writeRateLimited(w)
		return
	}

	result, err := s.runQuery(r, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		ModeUsed:       result.ModeUsed,
		Nodes:          toNodeViews(result.Nodes),
		Passages:       result.Passages,
		ReasoningChain: toReasoningViews(result.ReasoningChain),
	})
}

type answerResponse struct {
	AnswerText          string        `json:"answer_text"`
	ContributingNodeIDs []string      `json:"contributing_node_ids"`
	Retrieval           queryResponse `json:"retrieval"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !s.deps.RateLimits.allowQuery(defaultNamespace(req.Namespace), req.Mode) {
		writeRateLimited(w)
		return
	}

	result, err := s.runQuery(r, req)
	if err != nil {
		writeError(w, err)
		return
	}

	chunks := make([]answer.Chunk, len(result.Nodes))
	for i, n := range result.Nodes {
		text, _ := n.Properties["text"].(string)
		chunks[i] = answer.Chunk{NodeID: n.ID, Text: text}
	}

	synth := s.deps.Synthesizer.Synthesize(r.Context(), req.Query, chunks, answer.DefaultBudget)

	writeJSON(w, http.StatusOK, answerResponse{
		AnswerText:          synth.AnswerText,
		ContributingNodeIDs: synth.ContributingNodeIDs,
		Retrieval: queryResponse{
			ModeUsed:       result.ModeUsed,
			Nodes:          toNodeViews(result.Nodes),
			Passages:       result.Passages,
			ReasoningChain: toReasoningViews(result.ReasoningChain),
		},
	})
}
