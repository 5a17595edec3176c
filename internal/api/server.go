// Package api wires every other package behind the public HTTP surface
// described in spec.md §6: ingestion, retrieval/QA, graph exploration,
// analytics/orchestration, snapshots, and a server-sent-event stream.
// Grounded on the teacher's cmd/api/main.go stdlib net/http.ServeMux
// method-pattern routing and pkg/mid middleware chain.
package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/graphrag/core/internal/analytics"
	"github.com/graphrag/core/internal/answer"
	"github.com/graphrag/core/internal/docsource"
	"github.com/graphrag/core/internal/embedder"
	"github.com/graphrag/core/internal/eventbus"
	"github.com/graphrag/core/internal/graphstore"
	"github.com/graphrag/core/internal/ingest"
	"github.com/graphrag/core/internal/orchestrator"
	"github.com/graphrag/core/internal/retrieval"
	"github.com/graphrag/core/internal/snapshot"
	"github.com/graphrag/core/pkg/metrics"
	"github.com/graphrag/core/pkg/mid"
)

// Deps wires every component the API dispatches to. Analytics, Summarizer,
// Orchestrator and Bus are optional (nil disables the endpoints that need
// them, which respond with a clear "not configured" validation error rather
// than panicking).
type Deps struct {
	Store        graphstore.Store
	Pipeline     *ingest.Pipeline
	Retrieval    *retrieval.Engine
	Synthesizer  *answer.Synthesizer
	Analytics    *analytics.Engine
	Summarizer   *analytics.Summarizer
	Orchestrator *orchestrator.Orchestrator
	Bus          *eventbus.Bus
	DocSource    *docsource.Cache
	VectorIndex  *embedder.VectorIndex
	Metrics      *metrics.Registry
	APIKey       string
	RateLimits   RateLimits
	Logger       *slog.Logger
}

// Server holds the wired dependencies and the snapshot store; its exported
// surface is just NewMux, which callers mount under "/graphrag".
type Server struct {
	deps Deps
	log  *slog.Logger

	snapshotMu sync.Mutex
	snapshots  map[string]snapshot.Snapshot

	summaryMu sync.Mutex
	summaries map[string][]summaryView
}

// New constructs a Server from deps, defaulting unset optional fields.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.RateLimits.Default == nil {
		deps.RateLimits = DefaultRateLimits()
	}
	return &Server{
		deps:      deps,
		log:       deps.Logger,
		snapshots: map[string]snapshot.Snapshot{},
		summaries: map[string][]summaryView{},
	}
}

// NewMux builds the full routed handler, wrapped in the standard middleware
// chain (recover, log, CORS, API-key auth).
func (s *Server) NewMux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /graphrag/ingest", s.handleIngest)
	mux.HandleFunc("POST /graphrag/ingest-file", s.handleIngestFile)
	mux.HandleFunc("POST /graphrag/ingest-batch", s.handleIngestBatch)

	mux.HandleFunc("POST /graphrag/query", s.handleQuery)
	mux.HandleFunc("POST /graphrag/answer", s.handleAnswer)

	mux.HandleFunc("GET /graphrag/graph", s.handleGraph)
	mux.HandleFunc("GET /graphrag/nodes", s.handleNodes)
	mux.HandleFunc("GET /graphrag/edges", s.handleEdges)
	mux.HandleFunc("GET /graphrag/neighbors/{node_id}", s.handleNeighbors)
	mux.HandleFunc("GET /graphrag/search", s.handleSearch)
	mux.HandleFunc("GET /graphrag/stats", s.handleStats)
	mux.HandleFunc("GET /graphrag/namespaces", s.handleNamespaces)
	mux.HandleFunc("POST /graphrag/path", s.handlePath)
	mux.HandleFunc("GET /graphrag/similar", s.handleSimilar)

	mux.HandleFunc("POST /graphrag/centrality/recompute", s.handleCentralityRecompute)
	mux.HandleFunc("POST /graphrag/layout/recompute", s.handleLayoutRecompute)
	mux.HandleFunc("GET /graphrag/cluster", s.handleCluster)
	mux.HandleFunc("POST /graphrag/cluster/summarize", s.handleClusterSummarize)
	mux.HandleFunc("GET /graphrag/cluster/summaries", s.handleClusterSummaries)
	mux.HandleFunc("POST /graphrag/index/run", s.handleIndexRun)
	mux.HandleFunc("GET /graphrag/metrics", s.handleMetrics)
	mux.HandleFunc("GET /graphrag/metrics/extended", s.handleMetricsExtended)

	mux.HandleFunc("GET /graphrag/snapshots", s.handleSnapshotsList)
	mux.HandleFunc("POST /graphrag/snapshots", s.handleSnapshotsCreate)
	mux.HandleFunc("GET /graphrag/snapshots/diff", s.handleSnapshotsDiff)
	mux.HandleFunc("GET /graphrag/provenance", s.handleProvenance)

	mux.HandleFunc("GET /graphrag/stream", s.handleStream)

	guarded := func(r *http.Request) bool {
		return mutatingMethod(r) || r.URL.Path == "/graphrag/answer"
	}

	return mid.Chain(mux,
		mid.Recover(s.log),
		mid.Logger(s.log),
		mid.CORS("*"),
		apiKeyAuth(s.deps.APIKey, guarded),
	)
}
