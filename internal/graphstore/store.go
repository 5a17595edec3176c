// Package graphstore defines the backend-agnostic storage contract and its
// two implementations: an embedded SQLite store and a Neo4j-backed store,
// unified behind a fallback wrapper per the backend-parity rule.
package graphstore

import (
	"context"

	"github.com/graphrag/core/internal/domain"
)

// UpsertResult reports whether an upsert created a new record or merged
// into an existing one, and which backend actually served the write.
type UpsertResult struct {
	Created bool
	Merged  bool
	Store   string
}

// SampleMode selects how SampleSubgraph chooses its node set.
type SampleMode string

const (
	SampleRandom   SampleMode = "random"
	SampleViewport SampleMode = "viewport"
)

// SampleParams configures SampleSubgraph.
type SampleParams struct {
	Mode   SampleMode
	Sample int
	// Viewport bounding box in layout space; only used when Mode == SampleViewport.
	MinX, MinY, MaxX, MaxY float64
}

// Page is one page of IterateNodes, with an opaque cursor for the next page.
type Page struct {
	Nodes  []domain.Node
	Cursor string
	More   bool
}

// Store is the single contract every component depends on; callers never
// branch on which backend is behind it.
type Store interface {
	UpsertNode(ctx context.Context, node domain.Node) (UpsertResult, error)
	UpsertEdge(ctx context.Context, edge domain.Edge) (UpsertResult, error)
	GetNode(ctx context.Context, namespace, id string) (domain.Node, error)
	Neighbors(ctx context.Context, namespace, id string, depth int) ([]domain.Node, []domain.Edge, error)
	SearchByName(ctx context.Context, namespace, prefix string, limit int) ([]domain.Node, error)
	SampleSubgraph(ctx context.Context, namespace string, params SampleParams) ([]domain.Node, []domain.Edge, error)
	IterateNodes(ctx context.Context, namespace, cursor string, limit int) (Page, error)
	ShortestPath(ctx context.Context, namespace, sourceID, targetID string, maxDepth int) ([]domain.Node, []domain.Edge, error)
	BulkUpsert(ctx context.Context, nodes []domain.Node, edges []domain.Edge) (BulkResult, error)
	Stats(ctx context.Context, namespace string) (Stats, error)
	Namespaces(ctx context.Context) ([]string, error)

	IngestLog(ctx context.Context, namespace, docID string) (domain.IngestLog, bool, error)
	PutIngestLog(ctx context.Context, log domain.IngestLog) error
	StaleDocs(ctx context.Context, namespace string) ([]domain.IngestLog, error)

	Close() error
}

// BulkResult aggregates counts from a transactional batch write.
type BulkResult struct {
	NodesCreated int
	NodesMerged  int
	EdgesCreated int
	EdgesMerged  int
	Store        string
}

// Stats is the aggregate node/edge/namespace count snapshot behind GET /stats.
type Stats struct {
	NodeCount         int
	EdgeCount         int
	NodesByLabel      map[domain.Label]int
	EdgesByRelation   map[domain.Relation]int
}

// MaxBulkRows is the slice size in which BulkUpsert walks its nodes and
// edges. It sets no transaction boundary: the Neo4j store writes the whole
// batch in one transaction, and the SQLite store commits each row in its
// own transaction.
const MaxBulkRows = 500

// MaxNeighborDepth is the hard cap on neighbors() traversal depth.
const MaxNeighborDepth = 2

// layoutCoords extracts the layout.x/layout.y properties written by the
// layout recomputation pass, returning nil for either half that is absent so
// callers can bind them straight to a nullable column/property parameter.
func layoutCoords(props map[string]any) (x, y any) {
	if v, ok := props["layout.x"].(float64); ok {
		x = v
	}
	if v, ok := props["layout.y"].(float64); ok {
		y = v
	}
	return x, y
}
