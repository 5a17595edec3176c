package domain

import "time"

// IngestStatus is the lifecycle state of a document's last known ingest.
type IngestStatus string

const (
	StatusNew     IngestStatus = "new"
	StatusIndexed IngestStatus = "indexed"
	StatusStale   IngestStatus = "stale"
	StatusFailed  IngestStatus = "failed"
)

// IngestLog tracks the last known ingest outcome for one (namespace, doc_id).
type IngestLog struct {
	Namespace     string       `json:"namespace"`
	DocID         string       `json:"doc_id"`
	ContentHash   string       `json:"content_hash"`
	FirstSeen     time.Time    `json:"first_seen"`
	LastIndexedAt time.Time    `json:"last_indexed_at"`
	Status        IngestStatus `json:"status"`
	ErrorCategory ErrorKind    `json:"error_category,omitempty"`
}

// RunStatus is the closed set of orchestrator run outcomes.
type RunStatus string

const (
	RunRunning      RunStatus = "RUNNING"
	RunSuccess      RunStatus = "SUCCESS"
	RunPartial      RunStatus = "PARTIAL"
	RunFailed       RunStatus = "FAILED"
	RunImportFailed RunStatus = "IMPORT_FAILED"
	RunNoop         RunStatus = "NOOP"
	RunLocked       RunStatus = "LOCKED"
)

// RunRecord describes one orchestration pass.
type RunRecord struct {
	RunID              string    `json:"run_id"`
	Namespace          string    `json:"namespace"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at,omitempty"`
	Status             RunStatus `json:"status"`
	StaleDocs          int       `json:"stale_docs"`
	IndexedDocs        int       `json:"indexed_docs"`
	NodesNew           int       `json:"nodes_new"`
	EdgesNew           int       `json:"edges_new"`
	PercentReusedNodes float64   `json:"percent_reused_nodes"`
	PercentReusedEdges float64   `json:"percent_reused_edges"`
	ArtifactDir        string    `json:"artifact_dir,omitempty"`
}

// UTCTimestamp formats t as UTC ISO-8601 with a trailing Z, per spec.
func UTCTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
