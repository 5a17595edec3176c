package extractor

import (
	"context"

	"github.com/graphrag/core/internal/domain"
)

// LinkingCapEmbedded and LinkingCapGraph bound MENTIONED_IN edges per
// entity per document, to cap write amplification; the embedded backend
// tolerates a higher cap than the graph backend.
const (
	LinkingCapEmbedded = 10
	LinkingCapGraph    = 5
)

// Mode is the closed set of extraction strategies a caller may request.
type Mode = domain.ExtractionMode

const (
	ModeLLM            = domain.ExtractLLM
	ModeHeuristic       = domain.ExtractHeuristic
	ModeForceHeuristic Mode = "force_heuristic"
)

// Result is the output of one extraction call: candidate entities, the
// relations derived among them, and which strategy actually ran.
type Result struct {
	Candidates     []Candidate
	Relations      []DerivedRelation
	ExtractionMode string
}

// Extractor dispatches between the LLM and heuristic paths per spec.
type Extractor struct {
	llm *LLMClient
}

// New wires an Extractor; llm may be nil, in which case every request
// degrades to the heuristic path regardless of requested mode.
func New(llm *LLMClient) *Extractor {
	return &Extractor{llm: llm}
}

// Extract runs the requested mode over text. When mode is "llm" but the
// provider is unconfigured or fails, it falls back to heuristic and tags
// the result accordingly.
func (e *Extractor) Extract(ctx context.Context, text string, mode Mode) Result {
	if mode == ModeForceHeuristic || e.llm == nil {
		cands, rels := ExtractHeuristic(text)
		return Result{Candidates: cands, Relations: rels, ExtractionMode: "heuristic"}
	}

	if mode == ModeHeuristic {
		cands, rels := ExtractHeuristic(text)
		return Result{Candidates: cands, Relations: rels, ExtractionMode: "heuristic"}
	}

	cands, rels, err := e.llm.ExtractLLM(ctx, text)
	if err != nil {
		hCands, hRels := ExtractHeuristic(text)
		return Result{Candidates: hCands, Relations: hRels, ExtractionMode: "heuristic_fallback"}
	}
	return Result{Candidates: cands, Relations: rels, ExtractionMode: "llm"}
}
