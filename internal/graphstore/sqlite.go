package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/graphrag/core/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	id TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	label TEXT NOT NULL,
	name TEXT NOT NULL,
	embedding TEXT,
	props_json TEXT,
	layout_x REAL,
	layout_y REAL
);
CREATE INDEX IF NOT EXISTS idx_nodes_namespace ON nodes(namespace);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(namespace, name);

CREATE TABLE IF NOT EXISTS edges (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	relation TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	props_json TEXT,
	UNIQUE(source_id, target_id, relation)
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);

CREATE TABLE IF NOT EXISTS ingest_log (
	namespace TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	content_hash TEXT,
	first_seen TEXT,
	last_indexed_at TEXT,
	status TEXT,
	error_category TEXT,
	PRIMARY KEY (namespace, doc_id)
);
`

// SQLiteStore is the embedded-backend Store implementation. It is the
// default backend and the fallback target when the graph DB is unreachable.
type SQLiteStore struct {
	db    *sql.DB
	locks *nsLocks
}

// NewSQLiteStore opens (or creates) a SQLite database at path and ensures
// the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, locks: newNsLocks()}, nil
}

func (s *SQLiteStore) UpsertNode(ctx context.Context, node domain.Node) (UpsertResult, error) {
	defer s.locks.acquire(node.Namespace)()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	defer tx.Rollback()

	var existingProps, existingEmbedding string
	var exists bool
	err = tx.QueryRowContext(ctx, `SELECT props_json, embedding FROM nodes WHERE id = ?`, node.ID).
		Scan(&existingProps, &existingEmbedding)
	if err == nil {
		exists = true
	} else if err != sql.ErrNoRows {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}

	props := node.Properties
	embedding := node.Embedding
	if exists {
		merged := map[string]any{}
		_ = json.Unmarshal([]byte(existingProps), &merged)
		props = domain.MergeProperties(merged, node.Properties)
		if len(embedding) == 0 {
			var old []float32
			_ = json.Unmarshal([]byte(existingEmbedding), &old)
			embedding = old
		}
	}

	propsJSON, err := json.Marshal(props)
	if err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindFatal, err)
	}
	embJSON, err := json.Marshal(embedding)
	if err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindFatal, err)
	}
	layoutX, layoutY := layoutCoords(props)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (id, namespace, label, name, embedding, props_json, layout_x, layout_y)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, embedding = excluded.embedding, props_json = excluded.props_json,
			layout_x = excluded.layout_x, layout_y = excluded.layout_y`,
		node.ID, node.Namespace, string(node.Label), node.Name, string(embJSON), string(propsJSON), layoutX, layoutY)
	if err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	return UpsertResult{Created: !exists, Merged: exists, Store: "sqlite"}, nil
}

func (s *SQLiteStore) UpsertEdge(ctx context.Context, edge domain.Edge) (UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	defer tx.Rollback()

	var existingConf float64
	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT confidence FROM edges WHERE source_id = ? AND target_id = ? AND relation = ?`,
		edge.SourceID, edge.TargetID, string(edge.Relation)).Scan(&existingConf)
	if err == nil {
		exists = true
	} else if err != sql.ErrNoRows {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}

	confidence := edge.Confidence
	if exists && existingConf > confidence {
		confidence = existingConf
	}
	propsJSON, err := json.Marshal(edge.Properties)
	if err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindFatal, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO edges (id, source_id, target_id, relation, confidence, props_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation) DO UPDATE SET
			confidence = excluded.confidence, props_json = excluded.props_json`,
		edge.ID, edge.SourceID, edge.TargetID, string(edge.Relation), confidence, string(propsJSON))
	if err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	return UpsertResult{Created: !exists, Merged: exists, Store: "sqlite"}, nil
}

func (s *SQLiteStore) GetNode(ctx context.Context, namespace, id string) (domain.Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, label, name, embedding, props_json FROM nodes
		WHERE id = ? AND namespace = ?`, id, namespace)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return domain.Node{}, domain.NewError(domain.KindNotFound, id, domain.ErrNodeNotFound)
	}
	if err != nil {
		return domain.Node{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	return n, nil
}

func (s *SQLiteStore) Neighbors(ctx context.Context, namespace, id string, depth int) ([]domain.Node, []domain.Edge, error) {
	if depth <= 0 {
		depth = 1
	}
	if depth > MaxNeighborDepth {
		depth = MaxNeighborDepth
	}

	frontier := map[string]bool{id: true}
	visited := map[string]bool{id: true}
	var edges []domain.Edge
	var nodes []domain.Node

	for d := 0; d < depth; d++ {
		next := map[string]bool{}
		for nodeID := range frontier {
			rows, err := s.db.QueryContext(ctx, `
				SELECT id, source_id, target_id, relation, confidence, props_json
				FROM edges WHERE source_id = ? OR target_id = ?`, nodeID, nodeID)
			if err != nil {
				return nil, nil, domain.Wrap(domain.KindBackendUnavailable, err)
			}
			err = func() error {
				defer rows.Close()
				for rows.Next() {
					var e domain.Edge
					var propsJSON string
					if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Confidence, &propsJSON); err != nil {
						return err
					}
					e.Properties = map[string]any{}
					_ = json.Unmarshal([]byte(propsJSON), &e.Properties)
					edges = append(edges, e)
					other := e.TargetID
					if other == nodeID {
						other = e.SourceID
					}
					if !visited[other] {
						next[other] = true
					}
				}
				return rows.Err()
			}()
			if err != nil {
				return nil, nil, domain.Wrap(domain.KindBackendUnavailable, err)
			}
		}
		for n := range next {
			visited[n] = true
		}
		frontier = next
	}

	for nodeID := range visited {
		if nodeID == id {
			continue
		}
		n, err := s.GetNode(ctx, namespace, nodeID)
		if err == nil {
			nodes = append(nodes, n)
		}
	}
	return nodes, edges, nil
}

func (s *SQLiteStore) SearchByName(ctx context.Context, namespace, prefix string, limit int) ([]domain.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, label, name, embedding, props_json FROM nodes
		WHERE namespace = ? AND name LIKE ? COLLATE NOCASE
		ORDER BY name LIMIT ?`, namespace, prefix+"%", limit)
	if err != nil {
		return nil, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	defer rows.Close()
	var out []domain.Node
	for rows.Next() {
		n, err := scanNodeRows(rows)
		if err != nil {
			return nil, domain.Wrap(domain.KindBackendUnavailable, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SampleSubgraph(ctx context.Context, namespace string, params SampleParams) ([]domain.Node, []domain.Edge, error) {
	var rows *sql.Rows
	var err error
	switch params.Mode {
	case SampleViewport:
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, namespace, label, name, embedding, props_json FROM nodes
			WHERE namespace = ? AND layout_x BETWEEN ? AND ? AND layout_y BETWEEN ? AND ?
			LIMIT ?`, namespace, params.MinX, params.MaxX, params.MinY, params.MaxY, params.Sample)
	default:
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, namespace, label, name, embedding, props_json FROM nodes
			WHERE namespace = ? ORDER BY RANDOM() LIMIT ?`, namespace, params.Sample)
	}
	if err != nil {
		return nil, nil, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	var nodes []domain.Node
	ids := map[string]bool{}
	err = func() error {
		defer rows.Close()
		for rows.Next() {
			n, err := scanNodeRows(rows)
			if err != nil {
				return err
			}
			nodes = append(nodes, n)
			ids[n.ID] = true
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, nil, domain.Wrap(domain.KindBackendUnavailable, err)
	}

	var edges []domain.Edge
	for id := range ids {
		erows, err := s.db.QueryContext(ctx, `
			SELECT id, source_id, target_id, relation, confidence, props_json FROM edges
			WHERE source_id = ? OR target_id = ?`, id, id)
		if err != nil {
			continue
		}
		for erows.Next() {
			var e domain.Edge
			var propsJSON string
			if err := erows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Confidence, &propsJSON); err == nil {
				if ids[e.SourceID] && ids[e.TargetID] {
					e.Properties = map[string]any{}
					_ = json.Unmarshal([]byte(propsJSON), &e.Properties)
					edges = append(edges, e)
				}
			}
		}
		erows.Close()
	}
	return nodes, edges, nil
}

func (s *SQLiteStore) IterateNodes(ctx context.Context, namespace, cursor string, limit int) (Page, error) {
	skip := decodeCursor(cursor)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, label, name, embedding, props_json FROM nodes
		WHERE namespace = ? ORDER BY id LIMIT ? OFFSET ?`, namespace, limit+1, skip)
	if err != nil {
		return Page{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	defer rows.Close()
	var nodes []domain.Node
	for rows.Next() {
		n, err := scanNodeRows(rows)
		if err != nil {
			return Page{}, domain.Wrap(domain.KindBackendUnavailable, err)
		}
		nodes = append(nodes, n)
	}
	more := len(nodes) > limit
	if more {
		nodes = nodes[:limit]
	}
	return Page{Nodes: nodes, Cursor: encodeCursor(skip + limit), More: more}, rows.Err()
}

func (s *SQLiteStore) ShortestPath(ctx context.Context, namespace, sourceID, targetID string, maxDepth int) ([]domain.Node, []domain.Edge, error) {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	type qitem struct {
		id   string
		path []string
		via  []domain.Edge
	}
	visited := map[string]bool{sourceID: true}
	queue := []qitem{{id: sourceID}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.id == targetID {
			var nodes []domain.Node
			for _, id := range append(cur.path, cur.id) {
				if n, err := s.GetNode(ctx, namespace, id); err == nil {
					nodes = append(nodes, n)
				}
			}
			return nodes, cur.via, nil
		}
		if len(cur.path) >= maxDepth {
			continue
		}
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, source_id, target_id, relation, confidence, props_json
			FROM edges WHERE source_id = ? OR target_id = ?`, cur.id, cur.id)
		if err != nil {
			return nil, nil, domain.Wrap(domain.KindBackendUnavailable, err)
		}
		for rows.Next() {
			var e domain.Edge
			var propsJSON string
			if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Confidence, &propsJSON); err != nil {
				continue
			}
			next := e.TargetID
			if next == cur.id {
				next = e.SourceID
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			newPath := append(append([]string{}, cur.path...), cur.id)
			newVia := append(append([]domain.Edge{}, cur.via...), e)
			queue = append(queue, qitem{id: next, path: newPath, via: newVia})
		}
		rows.Close()
	}
	return nil, nil, nil
}

func (s *SQLiteStore) BulkUpsert(ctx context.Context, nodes []domain.Node, edges []domain.Edge) (BulkResult, error) {
	if len(nodes) > 0 {
		defer s.locks.acquire(nodes[0].Namespace)()
	}

	var agg BulkResult
	agg.Store = "sqlite"
	for i := 0; i < len(nodes); i += MaxBulkRows {
		end := min(i+MaxBulkRows, len(nodes))
		for _, n := range nodes[i:end] {
			res, err := s.upsertNodeNoLock(ctx, n)
			if err != nil {
				return BulkResult{}, err
			}
			if res.Created {
				agg.NodesCreated++
			} else {
				agg.NodesMerged++
			}
		}
	}
	for i := 0; i < len(edges); i += MaxBulkRows {
		end := min(i+MaxBulkRows, len(edges))
		for _, e := range edges[i:end] {
			res, err := s.UpsertEdge(ctx, e)
			if err != nil {
				return BulkResult{}, err
			}
			if res.Created {
				agg.EdgesCreated++
			} else {
				agg.EdgesMerged++
			}
		}
	}
	return agg, nil
}

func (s *SQLiteStore) upsertNodeNoLock(ctx context.Context, node domain.Node) (UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	defer tx.Rollback()

	var existingProps string
	var exists bool
	err = tx.QueryRowContext(ctx, `SELECT props_json FROM nodes WHERE id = ?`, node.ID).Scan(&existingProps)
	if err == nil {
		exists = true
	} else if err != sql.ErrNoRows {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	props := node.Properties
	if exists {
		merged := map[string]any{}
		_ = json.Unmarshal([]byte(existingProps), &merged)
		props = domain.MergeProperties(merged, node.Properties)
	}
	propsJSON, _ := json.Marshal(props)
	embJSON, _ := json.Marshal(node.Embedding)
	layoutX, layoutY := layoutCoords(props)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (id, namespace, label, name, embedding, props_json, layout_x, layout_y)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, props_json = excluded.props_json,
			layout_x = excluded.layout_x, layout_y = excluded.layout_y`,
		node.ID, node.Namespace, string(node.Label), node.Name, string(embJSON), string(propsJSON), layoutX, layoutY)
	if err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	return UpsertResult{Created: !exists, Merged: exists, Store: "sqlite"}, nil
}

func (s *SQLiteStore) Stats(ctx context.Context, namespace string) (Stats, error) {
	stats := Stats{NodesByLabel: map[domain.Label]int{}, EdgesByRelation: map[domain.Relation]int{}}
	row := s.db.QueryRowContext(ctx, `SELECT count(*) FROM nodes WHERE namespace = ?`, namespace)
	if err := row.Scan(&stats.NodeCount); err != nil {
		return stats, domain.Wrap(domain.KindBackendUnavailable, err)
	}

	labelRows, err := s.db.QueryContext(ctx, `SELECT label, count(*) FROM nodes WHERE namespace = ? GROUP BY label`, namespace)
	if err == nil {
		defer labelRows.Close()
		for labelRows.Next() {
			var label string
			var n int
			if labelRows.Scan(&label, &n) == nil {
				stats.NodesByLabel[domain.Label(label)] = n
			}
		}
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM edges e
		JOIN nodes n ON n.id = e.source_id
		WHERE n.namespace = ?`, namespace)
	if err := row.Scan(&stats.EdgeCount); err != nil {
		return stats, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	return stats, nil
}

func (s *SQLiteStore) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT namespace FROM nodes`)
	if err != nil {
		return nil, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ns string
		if rows.Scan(&ns) == nil {
			out = append(out, ns)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) IngestLog(ctx context.Context, namespace, docID string) (domain.IngestLog, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT namespace, doc_id, content_hash, first_seen, last_indexed_at, status, error_category
		FROM ingest_log WHERE namespace = ? AND doc_id = ?`, namespace, docID)
	var l domain.IngestLog
	var first, last, errCat sql.NullString
	err := row.Scan(&l.Namespace, &l.DocID, &l.ContentHash, &first, &last, &l.Status, &errCat)
	if err == sql.ErrNoRows {
		return domain.IngestLog{}, false, nil
	}
	if err != nil {
		return domain.IngestLog{}, false, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	l.ErrorCategory = domain.ErrorKind(errCat.String)
	return l, true, nil
}

func (s *SQLiteStore) PutIngestLog(ctx context.Context, log domain.IngestLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_log (namespace, doc_id, content_hash, first_seen, last_indexed_at, status, error_category)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, doc_id) DO UPDATE SET
			content_hash = excluded.content_hash, last_indexed_at = excluded.last_indexed_at,
			status = excluded.status, error_category = excluded.error_category`,
		log.Namespace, log.DocID, log.ContentHash,
		domain.UTCTimestamp(log.FirstSeen), domain.UTCTimestamp(log.LastIndexedAt),
		string(log.Status), string(log.ErrorCategory))
	if err != nil {
		return domain.Wrap(domain.KindBackendUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) StaleDocs(ctx context.Context, namespace string) ([]domain.IngestLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, doc_id, content_hash, first_seen, last_indexed_at, status, error_category
		FROM ingest_log WHERE namespace = ? AND status IN ('new', 'stale')`, namespace)
	if err != nil {
		return nil, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	defer rows.Close()
	var out []domain.IngestLog
	for rows.Next() {
		var l domain.IngestLog
		var errCat sql.NullString
		var first, last string
		if err := rows.Scan(&l.Namespace, &l.DocID, &l.ContentHash, &first, &last, &l.Status, &errCat); err == nil {
			l.ErrorCategory = domain.ErrorKind(errCat.String)
			out = append(out, l)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (domain.Node, error) {
	var n domain.Node
	var label, embJSON, propsJSON string
	if err := row.Scan(&n.ID, &n.Namespace, &label, &n.Name, &embJSON, &propsJSON); err != nil {
		return domain.Node{}, err
	}
	n.Label = domain.Label(label)
	n.Properties = map[string]any{}
	_ = json.Unmarshal([]byte(propsJSON), &n.Properties)
	_ = json.Unmarshal([]byte(embJSON), &n.Embedding)
	return n, nil
}

func scanNodeRows(rows *sql.Rows) (domain.Node, error) {
	return scanNode(rows)
}
