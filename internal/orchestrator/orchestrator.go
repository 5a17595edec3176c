// Package orchestrator runs scheduled/threshold batch re-indexing: delta
// detection against IngestLog, a locked single-run-per-namespace pass over
// stale documents, atomic run-directory artifacts with completion markers,
// and retention pruning. Grounded on the teacher's cmd/ingest directory-scan
// loop (ticker-driven, continue-on-per-item-error) and
// cmd/snapshot-collector's MkdirAll + prev/current JSON delta shape,
// generalized from a flat scan over scraped files to a namespace's
// IngestLog-tracked stale-document set.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/graphrag/core/internal/analytics"
	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/graphstore"
	"github.com/graphrag/core/internal/ingest"
	"github.com/graphrag/core/pkg/metrics"
)

// DefaultRetention is the number of most recent runs kept per namespace.
const DefaultRetention = 7

const lockFileName = ".graphrag_index.lock"

// DocumentSource re-fetches a stale document's text for re-ingestion; the
// orchestrator has no opinion on where documents actually live (local file,
// object store, upstream crawler) — that boundary is supplied by the
// caller, mirroring the teacher's own scraper/ingest split.
type DocumentSource interface {
	FetchText(ctx context.Context, namespace, docID string) (text string, metadata map[string]any, err error)
}

// RunCompletionPublisher is notified once RunOnce reaches a terminal status.
// Defined at the point of use so the event bus package can satisfy it
// without the orchestrator depending on eventbus.
type RunCompletionPublisher interface {
	PublishRunCompleted(ctx context.Context, rec domain.RunRecord)
}

// noopRunPublisher discards every notification.
type noopRunPublisher struct{}

func (noopRunPublisher) PublishRunCompleted(context.Context, domain.RunRecord) {}

// TriggerMode is how a run was initiated.
type TriggerMode string

const (
	TriggerManual    TriggerMode = "manual"
	TriggerTimer     TriggerMode = "timer"
	TriggerThreshold TriggerMode = "threshold"
)

// RunOptions configures one orchestration pass.
type RunOptions struct {
	Namespace string
	Trigger   TriggerMode
	Force     bool // bypass lock contention
}

var (
	met           = metrics.New()
	mRunsTotal    = met.Counter("graphrag_orchestrator_runs_total", "Total orchestration runs")
	mRunsLocked   = met.Counter("graphrag_orchestrator_runs_locked_total", "Runs rejected by lock contention")
	mDocsIndexed  = met.Counter("graphrag_orchestrator_docs_indexed_total", "Documents re-indexed across all runs")
	mDocsFailed   = met.Counter("graphrag_orchestrator_docs_failed_total", "Documents that failed re-indexing")
	mRunDuration  = met.Histogram("graphrag_orchestrator_run_duration_seconds", "Per-run duration", nil)
)

// Orchestrator owns run-directory lifecycle and delta re-indexing for a
// base directory under which per-namespace run artifacts live.
type Orchestrator struct {
	store     graphstore.Store
	pipeline  *ingest.Pipeline
	source    DocumentSource
	analytics *analytics.Engine // optional; nil means no community/report artifacts
	baseDir   string
	retention int
	log       *slog.Logger
	publisher RunCompletionPublisher

	mu      sync.Mutex
	running map[string]bool
}

// New wires an Orchestrator. analyticsEngine may be nil: runs then always
// land at PARTIAL (core artifacts only) rather than SUCCESS.
func New(store graphstore.Store, pipeline *ingest.Pipeline, source DocumentSource, analyticsEngine *analytics.Engine, baseDir string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		pipeline:  pipeline,
		source:    source,
		analytics: analyticsEngine,
		baseDir:   baseDir,
		retention: DefaultRetention,
		log:       logger,
		publisher: noopRunPublisher{},
		running:   map[string]bool{},
	}
}

// SetPublisher wires a RunCompletionPublisher (e.g. an eventbus.RunPublisher)
// so every terminal RunOnce status is broadcast as an index_run_completed
// event. A nil Orchestrator publisher silently discards notifications.
func (o *Orchestrator) SetPublisher(p RunCompletionPublisher) {
	if p == nil {
		p = noopRunPublisher{}
	}
	o.publisher = p
}

// RunOnce executes one orchestration pass for opts.Namespace.
func (o *Orchestrator) RunOnce(ctx context.Context, opts RunOptions) (domain.RunRecord, error) {
	mRunsTotal.Inc()
	start := time.Now()
	runID := fmt.Sprintf("run-%s", start.UTC().Format("20060102T150405Z"))
	rec := domain.RunRecord{RunID: runID, Namespace: opts.Namespace, StartedAt: start, Status: domain.RunRunning}

	release, err := o.acquireLock(opts.Namespace, opts.Force)
	if err != nil {
		mRunsLocked.Inc()
		rec.Status = domain.RunLocked
		rec.FinishedAt = time.Now()
		return rec, domain.Wrap(domain.KindConflict, domain.ErrLocked)
	}
	defer release()
	defer func() { o.publisher.PublishRunCompleted(ctx, rec) }()

	o.mu.Lock()
	o.running[opts.Namespace] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running[opts.Namespace] = false
		o.mu.Unlock()
	}()

	o.log.Info("orchestrator.enter", "namespace", opts.Namespace, "trigger", opts.Trigger, "run_id", runID)

	stale, err := o.store.StaleDocs(ctx, opts.Namespace)
	if err != nil {
		rec.Status = domain.RunFailed
		rec.FinishedAt = time.Now()
		return rec, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	rec.StaleDocs = len(stale)
	if len(stale) == 0 {
		rec.Status = domain.RunNoop
		rec.FinishedAt = time.Now()
		o.log.Info("orchestrator.noop", "namespace", opts.Namespace)
		return rec, nil
	}

	baselineNodes, baselineEdges := o.captureIdentitySet(ctx, opts.Namespace)

	runDir := filepath.Join(o.baseDir, opts.Namespace, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		rec.Status = domain.RunFailed
		rec.FinishedAt = time.Now()
		return rec, domain.Wrap(domain.KindFatal, err)
	}
	writeMarker(runDir, "_RUNNING")

	indexed, nodesNew, edgesNew, docFailures := o.reindexStale(ctx, opts.Namespace, stale)
	rec.IndexedDocs = indexed
	rec.NodesNew = nodesNew
	rec.EdgesNew = edgesNew
	mDocsIndexed.Add(int64(indexed))
	mDocsFailed.Add(int64(docFailures))

	if indexed == 0 && docFailures > 0 {
		rec.Status = domain.RunFailed
		rec.FinishedAt = time.Now()
		writeMarker(runDir, "_FAILED")
		mRunDuration.Since(start)
		return rec, domain.NewError(domain.KindTransient, "all documents failed re-indexing", nil)
	}

	postNodes, postEdges := o.captureIdentitySet(ctx, opts.Namespace)
	rec.PercentReusedNodes = reuseFraction(baselineNodes, postNodes)
	rec.PercentReusedEdges = reuseFraction(baselineEdges, postEdges)

	status, err := o.writeArtifacts(ctx, opts.Namespace, runDir, postNodes)
	if err != nil {
		rec.Status = domain.RunImportFailed
		rec.FinishedAt = time.Now()
		writeMarker(runDir, "_IMPORT_FAILED")
		mRunDuration.Since(start)
		return rec, domain.Wrap(domain.KindCorruptArtifact, err)
	}
	rec.Status = status
	rec.ArtifactDir = runDir
	rec.FinishedAt = time.Now()

	writeMarker(runDir, markerFor(status))
	if status == domain.RunSuccess || status == domain.RunPartial {
		promoteLatest(filepath.Join(o.baseDir, opts.Namespace), runDir)
	}
	o.pruneOldRuns(filepath.Join(o.baseDir, opts.Namespace))

	mRunDuration.Since(start)
	o.log.Info("orchestrator.exit", "namespace", opts.Namespace, "run_id", runID, "status", status,
		"indexed", indexed, "failed", docFailures, "duration", time.Since(start))

	return rec, nil
}

func markerFor(status domain.RunStatus) string {
	switch status {
	case domain.RunSuccess:
		return "_SUCCESS"
	case domain.RunPartial:
		return "_PARTIAL"
	case domain.RunImportFailed:
		return "_IMPORT_FAILED"
	default:
		return "_FAILED"
	}
}

func writeMarker(runDir, marker string) {
	_ = os.WriteFile(filepath.Join(runDir, marker), []byte(domain.UTCTimestamp(time.Now())), 0o644)
}

// reindexStale runs the ingestion pipeline for every stale doc, continuing
// past individual failures rather than aborting the whole run, mirroring
// the teacher's processFile loop (errors counted, scan continues).
func (o *Orchestrator) reindexStale(ctx context.Context, namespace string, stale []domain.IngestLog) (indexed, nodesNew, edgesNew, failed int) {
	for _, log := range stale {
		if ctx.Err() != nil {
			break
		}
		text, meta, err := o.source.FetchText(ctx, namespace, log.DocID)
		if err != nil {
			o.log.Error("orchestrator.fetch_failed", "namespace", namespace, "doc_id", log.DocID, "error", err)
			failed++
			continue
		}
		req := domain.IngestRequest{Namespace: namespace, DocID: log.DocID, Text: text, Metadata: meta}
		out, err := o.pipeline.Run(ctx, req)
		if err != nil {
			o.log.Error("orchestrator.reindex_failed", "namespace", namespace, "doc_id", log.DocID, "error", err)
			failed++
			continue
		}
		indexed++
		nodesNew += out.NodesNew
		edgesNew += out.EdgesNew
	}
	return indexed, nodesNew, edgesNew, failed
}

func (o *Orchestrator) captureIdentitySet(ctx context.Context, namespace string) (nodes map[string]bool, edges map[string]bool) {
	nodes, edges = map[string]bool{}, map[string]bool{}
	ns, es, err := o.store.SampleSubgraph(ctx, namespace, graphstore.SampleParams{Mode: graphstore.SampleRandom, Sample: analytics.FullGraphSampleCap})
	if err != nil {
		return nodes, edges
	}
	for _, n := range ns {
		nodes[n.ID] = true
	}
	for _, e := range es {
		edges[e.ID] = true
	}
	return nodes, edges
}

func reuseFraction(before, after map[string]bool) float64 {
	if len(after) == 0 {
		return 0
	}
	unchanged := 0
	for id := range after {
		if before[id] {
			unchanged++
		}
	}
	return float64(unchanged) / float64(len(after))
}

// writeArtifacts persists entities.json/relationships.json (core) and, when
// an analytics.Engine is wired and holds clusters for namespace,
// communities.json (optional); no community_reports.json is written. Per spec, core-only yields PARTIAL; core+optional yields
// SUCCESS.
func (o *Orchestrator) writeArtifacts(ctx context.Context, namespace, runDir string, postNodeIDs map[string]bool) (domain.RunStatus, error) {
	nodes, edges, err := o.store.SampleSubgraph(ctx, namespace, graphstore.SampleParams{Mode: graphstore.SampleRandom, Sample: analytics.FullGraphSampleCap})
	if err != nil {
		return domain.RunImportFailed, err
	}
	if err := writeJSON(filepath.Join(runDir, "entities.json"), nodes); err != nil {
		return domain.RunImportFailed, err
	}
	if err := writeJSON(filepath.Join(runDir, "relationships.json"), edges); err != nil {
		return domain.RunImportFailed, err
	}

	if o.analytics == nil {
		return domain.RunPartial, nil
	}
	clusters, ok := o.analytics.Clusters(namespace)
	if !ok || len(clusters) == 0 {
		return domain.RunPartial, nil
	}
	if err := writeJSON(filepath.Join(runDir, "communities.json"), clusters); err != nil {
		return domain.RunPartial, nil // optional artifact failure degrades, doesn't fail the run
	}
	return domain.RunSuccess, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// promoteLatest atomically repoints the `latest` symlink at runDir: write a
// new symlink under a temp name, then rename over the old one.
func promoteLatest(namespaceDir, runDir string) {
	linkPath := filepath.Join(namespaceDir, "latest")
	tmpPath := linkPath + ".tmp"
	_ = os.Remove(tmpPath)
	relTarget, err := filepath.Rel(namespaceDir, runDir)
	if err != nil {
		relTarget = runDir
	}
	if err := os.Symlink(relTarget, tmpPath); err != nil {
		return
	}
	_ = os.Rename(tmpPath, linkPath)
}

// pruneOldRuns keeps only the most recent o.retention run directories,
// sorted lexicographically (run-<timestamp> sorts chronologically).
func (o *Orchestrator) pruneOldRuns(namespaceDir string) {
	entries, err := os.ReadDir(namespaceDir)
	if err != nil {
		return
	}
	var runs []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) > 4 && e.Name()[:4] == "run-" {
			runs = append(runs, e.Name())
		}
	}
	sort.Strings(runs)
	limit := o.retention
	if limit <= 0 {
		limit = DefaultRetention
	}
	if len(runs) <= limit {
		return
	}
	for _, old := range runs[:len(runs)-limit] {
		_ = os.RemoveAll(filepath.Join(namespaceDir, old))
	}
}

// acquireLock creates the per-host/process lock file exclusively; force
// bypasses contention by removing a stale lock first.
func (o *Orchestrator) acquireLock(namespace string, force bool) (release func(), err error) {
	if err := os.MkdirAll(o.baseDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(o.baseDir, namespace+"-"+lockFileName)
	if force {
		_ = os.Remove(path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, domain.ErrLocked
	}
	fmt.Fprintf(f, "pid=%d\nacquired=%s\n", os.Getpid(), domain.UTCTimestamp(time.Now()))
	f.Close()
	return func() { _ = os.Remove(path) }, nil
}
