// Package ingest implements the per-document ingestion pipeline: hash-based
// no-op detection, section/chunk parsing, entity/relation extraction,
// embedding, and a single transactional graph write, grounded on the
// teacher's Validate→Parse→Chunk→Embed→Store stage composition.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/graphrag/core/internal/chunker"
	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/embedder"
	"github.com/graphrag/core/internal/extractor"
	"github.com/graphrag/core/internal/graphstore"
	"github.com/graphrag/core/pkg/fn"
)

// EventType is the closed set of events the pipeline publishes on success.
type EventType string

const (
	EventNodeAdded  EventType = "node_added"
	EventEdgesAdded EventType = "edges_added"
)

// Event is one pipeline notification; Publisher implementations (e.g. the
// in-process event bus) decide how to fan it out.
type Event struct {
	Type      EventType
	Namespace string
	NodeID    string
	Count     int
}

// Publisher receives pipeline events. Defined at the point of use so the
// event bus package can satisfy it without ingest depending on eventbus.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// NullPublisher discards every event.
type NullPublisher struct{}

func (NullPublisher) Publish(context.Context, Event) {}

// Outcome is the per-document result returned to the caller.
type Outcome struct {
	DocID       string
	Status      domain.IngestStatus
	NodesNew    int
	EdgesNew    int
	NodesMerged int
	EdgesMerged int
	NoOp        bool
}

// Deps wires the pipeline's dependencies.
type Deps struct {
	Store     graphstore.Store
	Extractor *extractor.Extractor
	Embedder  *embedder.Service
	Publisher Publisher
	Logger    *slog.Logger
	// LinkingCap bounds MENTIONED_IN edges per entity per document; callers
	// pass extractor.LinkingCapGraph for a Neo4j-backed store and leave zero
	// (defaulting to LinkingCapEmbedded) for the embedded SQLite store.
	LinkingCap int
	// VectorIndex optionally mirrors every embedded node into an external
	// ANN index (e.g. Qdrant) for accelerated similarity search; nil skips
	// mirroring and leaves similarity search to a brute-force scan over the
	// graph store.
	VectorIndex *embedder.VectorIndex
}

// Pipeline runs documents through the full ingestion procedure.
type Pipeline struct {
	deps Deps
	log  *slog.Logger
}

// New constructs a Pipeline; a nil Publisher degrades to NullPublisher.
func New(deps Deps) *Pipeline {
	if deps.Publisher == nil {
		deps.Publisher = NullPublisher{}
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{deps: deps, log: log}
}

// ContentHash computes the stable hash used for the no-op check.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Run executes the 7-step ingestion procedure for one document. A failure
// in parsing, extraction, embedding, or storage marks the document failed
// in the ingest log and returns the classified error; no partial graph is
// made visible because the graph write happens in a single BulkUpsert call.
func (p *Pipeline) Run(ctx context.Context, req domain.IngestRequest) (Outcome, error) {
	start := time.Now()
	p.log.Info("ingest.enter", "namespace", req.Namespace, "doc_id", req.DocID)
	defer func() {
		p.log.Info("ingest.exit", "namespace", req.Namespace, "doc_id", req.DocID, "duration", time.Since(start))
	}()

	if err := domain.ValidateIngestRequest(req); err != nil {
		return Outcome{DocID: req.DocID, Status: domain.StatusFailed}, err
	}

	hash := ContentHash(req.Text)

	existing, found, err := p.deps.Store.IngestLog(ctx, req.Namespace, req.DocID)
	if err != nil {
		return p.fail(ctx, req, hash, err)
	}
	if found && existing.ContentHash == hash && existing.Status == domain.StatusIndexed {
		return Outcome{DocID: req.DocID, Status: domain.StatusIndexed, NoOp: true}, nil
	}

	sections, chunks := chunker.Parse(req.Text)
	if len(chunks) == 0 {
		chunks = []chunker.Chunk{{Index: 0, Text: req.Text}}
	}

	var candidates []extractor.Candidate
	var relations []extractor.DerivedRelation
	extractionMode := "heuristic"
	for i, c := range chunks {
		res := p.deps.Extractor.Extract(ctx, c.Text, req.Mode)
		extractionMode = res.ExtractionMode
		for _, cand := range res.Candidates {
			cand.Sentence = i
			candidates = append(candidates, cand)
		}
		relations = append(relations, res.Relations...)
	}

	texts := make([]string, 0, len(chunks)+len(candidates))
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	uniqueNames := uniqueEntityNames(candidates)
	texts = append(texts, uniqueNames...)

	statuses := p.deps.Embedder.EmbedBatch(ctx, texts)
	chunkVectors := statuses[:len(chunks)]
	nameVectors := map[string][]float32{}
	for i, name := range uniqueNames {
		nameVectors[domain.NormalizeName(name)] = statuses[len(chunks)+i].Vector
	}

	nodes, edges := buildGraph(req, sections, chunks, chunkVectors, candidates, relations, nameVectors, p.deps.LinkingCap)

	bulk, err := p.deps.Store.BulkUpsert(ctx, nodes, edges)
	if err != nil {
		return p.fail(ctx, req, hash, err)
	}

	log := domain.IngestLog{
		Namespace:     req.Namespace,
		DocID:         req.DocID,
		ContentHash:   hash,
		FirstSeen:     firstSeen(existing, found),
		LastIndexedAt: time.Now(),
		Status:        domain.StatusIndexed,
	}
	if err := p.deps.Store.PutIngestLog(ctx, log); err != nil {
		return p.fail(ctx, req, hash, err)
	}

	p.mirrorToVectorIndex(ctx, req.Namespace, nodes)
	p.publishEvents(ctx, req.Namespace, nodes, bulk)

	p.log.Info("ingest.success", "namespace", req.Namespace, "doc_id", req.DocID,
		"extraction_mode", extractionMode, "nodes_new", bulk.NodesCreated, "edges_new", bulk.EdgesCreated)

	return Outcome{
		DocID:       req.DocID,
		Status:      domain.StatusIndexed,
		NodesNew:    bulk.NodesCreated,
		EdgesNew:    bulk.EdgesCreated,
		NodesMerged: bulk.NodesMerged,
		EdgesMerged: bulk.EdgesMerged,
	}, nil
}

func (p *Pipeline) fail(ctx context.Context, req domain.IngestRequest, hash string, cause error) (Outcome, error) {
	kind := domain.KindOf(cause)
	logEntry := domain.IngestLog{
		Namespace:     req.Namespace,
		DocID:         req.DocID,
		ContentHash:   hash,
		LastIndexedAt: time.Now(),
		Status:        domain.StatusFailed,
		ErrorCategory: kind,
	}
	if putErr := p.deps.Store.PutIngestLog(ctx, logEntry); putErr != nil {
		p.log.Error("ingest.log_write_failed", "doc_id", req.DocID, "error", putErr)
	}
	p.log.Error("ingest.failed", "namespace", req.Namespace, "doc_id", req.DocID, "error", cause, "kind", kind)
	return Outcome{DocID: req.DocID, Status: domain.StatusFailed}, domain.Wrap(kind, cause)
}

// mirrorToVectorIndex upserts every embedded node into the optional external
// ANN index, best-effort: a failure here is logged but never fails ingestion,
// since the graph store write already succeeded and is the source of truth.
func (p *Pipeline) mirrorToVectorIndex(ctx context.Context, namespace string, nodes []domain.Node) {
	if p.deps.VectorIndex == nil {
		return
	}
	records := make([]embedder.VectorRecord, 0, len(nodes))
	for _, n := range nodes {
		if len(n.Embedding) == 0 {
			continue
		}
		records = append(records, embedder.VectorRecord{
			ID:        n.ID,
			Embedding: n.Embedding,
			Payload:   map[string]any{"namespace": namespace, "label": string(n.Label), "name": n.Name},
		})
	}
	if len(records) == 0 {
		return
	}
	if err := p.deps.VectorIndex.Upsert(ctx, records); err != nil {
		p.log.Error("ingest.vector_index_mirror_failed", "namespace", namespace, "error", err)
	}
}

func (p *Pipeline) publishEvents(ctx context.Context, namespace string, nodes []domain.Node, bulk graphstore.BulkResult) {
	for _, n := range nodes {
		p.deps.Publisher.Publish(ctx, Event{Type: EventNodeAdded, Namespace: namespace, NodeID: n.ID})
	}
	if bulk.EdgesCreated+bulk.EdgesMerged > 0 {
		p.deps.Publisher.Publish(ctx, Event{Type: EventEdgesAdded, Namespace: namespace, Count: bulk.EdgesCreated + bulk.EdgesMerged})
	}
}

func firstSeen(existing domain.IngestLog, found bool) time.Time {
	if found && !existing.FirstSeen.IsZero() {
		return existing.FirstSeen
	}
	return time.Now()
}

func uniqueEntityNames(candidates []extractor.Candidate) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range candidates {
		key := domain.NormalizeName(c.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c.Name)
	}
	return out
}

// Stage adapts Run to the fn.Stage shape for composition with other
// pipelines (e.g. a batch-orchestrator fan-out over documents).
func (p *Pipeline) Stage() fn.Stage[domain.IngestRequest, Outcome] {
	return func(ctx context.Context, req domain.IngestRequest) fn.Result[Outcome] {
		out, err := p.Run(ctx, req)
		if err != nil {
			return fn.Err[Outcome](err)
		}
		return fn.Ok(out)
	}
}
