package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/graphrag/core/internal/domain"
)

// Neo4jStore is the graph-DB-backed Store implementation, grounded on the
// session-per-call / MERGE-based upsert shape of a driver-native repository.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	locks  *nsLocks
}

// NewNeo4jStore wraps an already-configured driver.
func NewNeo4jStore(driver neo4j.DriverWithContext) *Neo4jStore {
	return &Neo4jStore{driver: driver, locks: newNsLocks()}
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{})
}

func (s *Neo4jStore) UpsertNode(ctx context.Context, node domain.Node) (UpsertResult, error) {
	defer s.locks.acquire(node.Namespace)()

	sess := s.session(ctx)
	defer sess.Close(ctx)

	propsJSON, err := json.Marshal(node.Properties)
	if err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindFatal, err)
	}

	layoutX, layoutY := layoutCoords(node.Properties)

	record, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cypher := `
			MERGE (n:` + sanitizeLabel(string(node.Label)) + ` {id: $id})
			ON CREATE SET n.created = true, n.name = $name, n.namespace = $namespace,
				n.embedding = $embedding, n.props_json = $props, n.layout_x = $layout_x, n.layout_y = $layout_y
			ON MATCH SET n.created = false, n.name = $name,
				n.embedding = CASE WHEN size(n.embedding) = 0 AND size($embedding) > 0
					THEN $embedding ELSE n.embedding END,
				n.props_json = $props, n.layout_x = $layout_x, n.layout_y = $layout_y
			RETURN n.created AS created`
		res, err := tx.Run(ctx, cypher, map[string]any{
			"id":        node.ID,
			"name":      node.Name,
			"namespace": node.Namespace,
			"embedding": embeddingToFloat64(node.Embedding),
			"props":     string(propsJSON),
			"layout_x":  layoutX,
			"layout_y":  layoutY,
		})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, res.Err()
		}
		created, _ := res.Record().Get("created")
		return created, nil
	})
	if err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	created, _ := record.(bool)
	return UpsertResult{Created: created, Merged: !created, Store: "neo4j"}, nil
}

func (s *Neo4jStore) UpsertEdge(ctx context.Context, edge domain.Edge) (UpsertResult, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	propsJSON, err := json.Marshal(edge.Properties)
	if err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindFatal, err)
	}

	record, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cypher := fmt.Sprintf(`
			MATCH (a {id: $source}), (b {id: $target})
			MERGE (a)-[r:%s]->(b)
			ON CREATE SET r.created = true, r.confidence = $confidence, r.props_json = $props
			ON MATCH SET r.created = false,
				r.confidence = CASE WHEN $confidence > r.confidence THEN $confidence ELSE r.confidence END,
				r.props_json = $props
			RETURN r.created AS created`, sanitizeRelType(string(edge.Relation)))
		res, err := tx.Run(ctx, cypher, map[string]any{
			"source":     edge.SourceID,
			"target":     edge.TargetID,
			"confidence": edge.Confidence,
			"props":      string(propsJSON),
		})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, res.Err()
		}
		created, _ := res.Record().Get("created")
		return created, nil
	})
	if err != nil {
		return UpsertResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	created, _ := record.(bool)
	return UpsertResult{Created: created, Merged: !created, Store: "neo4j"}, nil
}

func (s *Neo4jStore) GetNode(ctx context.Context, namespace, id string) (domain.Node, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `MATCH (n {id: $id, namespace: $ns}) RETURN n`, map[string]any{
		"id": id, "ns": namespace,
	})
	if err != nil {
		return domain.Node{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	if !result.Next(ctx) {
		return domain.Node{}, domain.NewError(domain.KindNotFound, id, domain.ErrNodeNotFound)
	}
	n, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
	if err != nil {
		return domain.Node{}, domain.Wrap(domain.KindFatal, err)
	}
	return nodeFromProps(n.Labels, n.Props), nil
}

func (s *Neo4jStore) Neighbors(ctx context.Context, namespace, id string, depth int) ([]domain.Node, []domain.Edge, error) {
	if depth <= 0 {
		depth = 1
	}
	if depth > MaxNeighborDepth {
		depth = MaxNeighborDepth
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(`
		MATCH (start {id: $id, namespace: $ns})-[rel*1..%d]-(n {namespace: $ns})
		WHERE n.id <> $id
		UNWIND rel AS r
		RETURN DISTINCT n, r`, depth)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id, "ns": namespace})
	if err != nil {
		return nil, nil, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	return collectNodesAndEdges(ctx, result)
}

func (s *Neo4jStore) SearchByName(ctx context.Context, namespace, prefix string, limit int) ([]domain.Node, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `
		MATCH (n {namespace: $ns})
		WHERE toLower(n.name) STARTS WITH toLower($prefix)
		RETURN n LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{"ns": namespace, "prefix": prefix, "limit": int64(limit)})
	if err != nil {
		return nil, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	nodes, _, err := collectNodesAndEdges(ctx, result)
	return nodes, err
}

func (s *Neo4jStore) SampleSubgraph(ctx context.Context, namespace string, params SampleParams) ([]domain.Node, []domain.Edge, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	var cypher string
	args := map[string]any{"ns": namespace, "limit": int64(params.Sample)}
	switch params.Mode {
	case SampleViewport:
		cypher = `
			MATCH (n {namespace: $ns})
			WHERE toFloat(n.layout_x) >= $minx AND toFloat(n.layout_x) <= $maxx
				AND toFloat(n.layout_y) >= $miny AND toFloat(n.layout_y) <= $maxy
			WITH n LIMIT $limit
			OPTIONAL MATCH (n)-[r]-(m {namespace: $ns})
			RETURN collect(DISTINCT n) AS nodes, collect(DISTINCT r) AS rels`
		args["minx"], args["maxx"] = params.MinX, params.MaxX
		args["miny"], args["maxy"] = params.MinY, params.MaxY
	default:
		cypher = `
			MATCH (n {namespace: $ns})
			WITH n, rand() AS r ORDER BY r LIMIT $limit
			OPTIONAL MATCH (n)-[rel]-(m {namespace: $ns})
			RETURN collect(DISTINCT n) AS nodes, collect(DISTINCT rel) AS rels`
	}
	result, err := sess.Run(ctx, cypher, args)
	if err != nil {
		return nil, nil, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	if !result.Next(ctx) {
		return nil, nil, result.Err()
	}
	return recordToNodesEdges(result.Record())
}

func (s *Neo4jStore) IterateNodes(ctx context.Context, namespace, cursor string, limit int) (Page, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	skip := decodeCursor(cursor)
	result, err := sess.Run(ctx, `
		MATCH (n {namespace: $ns}) RETURN n ORDER BY n.id SKIP $skip LIMIT $limit`,
		map[string]any{"ns": namespace, "skip": int64(skip), "limit": int64(limit + 1)})
	if err != nil {
		return Page{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	nodes, _, err := collectNodesAndEdges(ctx, result)
	if err != nil {
		return Page{}, err
	}
	more := len(nodes) > limit
	if more {
		nodes = nodes[:limit]
	}
	return Page{Nodes: nodes, Cursor: encodeCursor(skip + limit), More: more}, nil
}

func (s *Neo4jStore) ShortestPath(ctx context.Context, namespace, sourceID, targetID string, maxDepth int) ([]domain.Node, []domain.Edge, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	if maxDepth <= 0 {
		maxDepth = 5
	}
	cypher := fmt.Sprintf(`
		MATCH p = shortestPath((a {id: $from, namespace: $ns})-[*..%d]-(b {id: $to, namespace: $ns}))
		RETURN nodes(p) AS nodes, relationships(p) AS rels`, maxDepth)
	result, err := sess.Run(ctx, cypher, map[string]any{"from": sourceID, "to": targetID, "ns": namespace})
	if err != nil {
		return nil, nil, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	if !result.Next(ctx) {
		return nil, nil, nil
	}
	return recordToNodesEdges(result.Record())
}

func (s *Neo4jStore) BulkUpsert(ctx context.Context, nodes []domain.Node, edges []domain.Edge) (BulkResult, error) {
	if len(nodes) > 0 {
		defer s.locks.acquire(nodes[0].Namespace)()
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)

	var agg BulkResult
	agg.Store = "neo4j"
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for i := 0; i < len(nodes); i += MaxBulkRows {
			end := min(i+MaxBulkRows, len(nodes))
			for _, n := range nodes[i:end] {
				created, err := upsertNodeTx(ctx, tx, n)
				if err != nil {
					return nil, err
				}
				if created {
					agg.NodesCreated++
				} else {
					agg.NodesMerged++
				}
			}
		}
		for i := 0; i < len(edges); i += MaxBulkRows {
			end := min(i+MaxBulkRows, len(edges))
			for _, e := range edges[i:end] {
				created, err := upsertEdgeTx(ctx, tx, e)
				if err != nil {
					return nil, err
				}
				if created {
					agg.EdgesCreated++
				} else {
					agg.EdgesMerged++
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return BulkResult{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	return agg, nil
}

func upsertNodeTx(ctx context.Context, tx neo4j.ManagedTransaction, node domain.Node) (bool, error) {
	propsJSON, err := json.Marshal(node.Properties)
	if err != nil {
		return false, err
	}
	layoutX, layoutY := layoutCoords(node.Properties)
	cypher := `
		MERGE (n:` + sanitizeLabel(string(node.Label)) + ` {id: $id})
		ON CREATE SET n.created = true, n.name = $name, n.namespace = $namespace, n.props_json = $props,
			n.layout_x = $layout_x, n.layout_y = $layout_y
		ON MATCH SET n.created = false, n.props_json = $props, n.layout_x = $layout_x, n.layout_y = $layout_y
		RETURN n.created AS created`
	res, err := tx.Run(ctx, cypher, map[string]any{
		"id": node.ID, "name": node.Name, "namespace": node.Namespace, "props": string(propsJSON),
		"layout_x": layoutX, "layout_y": layoutY,
	})
	if err != nil {
		return false, err
	}
	if !res.Next(ctx) {
		return false, res.Err()
	}
	created, _ := res.Record().Get("created")
	b, _ := created.(bool)
	return b, nil
}

func upsertEdgeTx(ctx context.Context, tx neo4j.ManagedTransaction, edge domain.Edge) (bool, error) {
	propsJSON, err := json.Marshal(edge.Properties)
	if err != nil {
		return false, err
	}
	cypher := fmt.Sprintf(`
		MATCH (a {id: $source}), (b {id: $target})
		MERGE (a)-[r:%s]->(b)
		ON CREATE SET r.created = true, r.confidence = $confidence, r.props_json = $props
		ON MATCH SET r.created = false,
			r.confidence = CASE WHEN $confidence > r.confidence THEN $confidence ELSE r.confidence END
		RETURN r.created AS created`, sanitizeRelType(string(edge.Relation)))
	res, err := tx.Run(ctx, cypher, map[string]any{
		"source": edge.SourceID, "target": edge.TargetID, "confidence": edge.Confidence, "props": string(propsJSON),
	})
	if err != nil {
		return false, err
	}
	if !res.Next(ctx) {
		return false, res.Err()
	}
	created, _ := res.Record().Get("created")
	b, _ := created.(bool)
	return b, nil
}

func (s *Neo4jStore) Stats(ctx context.Context, namespace string) (Stats, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `
		MATCH (n {namespace: $ns}) WITH count(n) AS nodeCount
		MATCH ()-[r]->() WHERE r.namespace = $ns OR true
		RETURN nodeCount, count(r) AS edgeCount`, map[string]any{"ns": namespace})
	if err != nil {
		return Stats{}, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	stats := Stats{NodesByLabel: map[domain.Label]int{}, EdgesByRelation: map[domain.Relation]int{}}
	if result.Next(ctx) {
		if v, ok := result.Record().Get("nodeCount"); ok {
			stats.NodeCount = int(toInt64(v))
		}
		if v, ok := result.Record().Get("edgeCount"); ok {
			stats.EdgeCount = int(toInt64(v))
		}
	}
	return stats, nil
}

func (s *Neo4jStore) Namespaces(ctx context.Context) ([]string, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `MATCH (n) RETURN DISTINCT n.namespace AS ns`, nil)
	if err != nil {
		return nil, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	var out []string
	for result.Next(ctx) {
		if v, ok := result.Record().Get("ns"); ok {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (s *Neo4jStore) IngestLog(ctx context.Context, namespace, docID string) (domain.IngestLog, bool, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `
		MATCH (l:IngestLog {namespace: $ns, doc_id: $doc}) RETURN l`,
		map[string]any{"ns": namespace, "doc": docID})
	if err != nil {
		return domain.IngestLog{}, false, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	if !result.Next(ctx) {
		return domain.IngestLog{}, false, nil
	}
	n, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "l")
	if err != nil {
		return domain.IngestLog{}, false, err
	}
	return ingestLogFromProps(n.Props), true, nil
}

func (s *Neo4jStore) PutIngestLog(ctx context.Context, log domain.IngestLog) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, `
		MERGE (l:IngestLog {namespace: $ns, doc_id: $doc})
		SET l.content_hash = $hash, l.first_seen = $first, l.last_indexed_at = $last,
			l.status = $status, l.error_category = $errkind`,
		map[string]any{
			"ns": log.Namespace, "doc": log.DocID, "hash": log.ContentHash,
			"first": domain.UTCTimestamp(log.FirstSeen), "last": domain.UTCTimestamp(log.LastIndexedAt),
			"status": string(log.Status), "errkind": string(log.ErrorCategory),
		})
	if err != nil {
		return domain.Wrap(domain.KindBackendUnavailable, err)
	}
	return nil
}

func (s *Neo4jStore) StaleDocs(ctx context.Context, namespace string) ([]domain.IngestLog, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `
		MATCH (l:IngestLog {namespace: $ns})
		WHERE l.status IN ["new", "stale"]
		RETURN l`, map[string]any{"ns": namespace})
	if err != nil {
		return nil, domain.Wrap(domain.KindBackendUnavailable, err)
	}
	var out []domain.IngestLog
	for result.Next(ctx) {
		n, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "l")
		if err != nil {
			continue
		}
		out = append(out, ingestLogFromProps(n.Props))
	}
	return out, nil
}

func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

// --- helpers ---

func sanitizeLabel(t string) string {
	return sanitizeRelType(t)
}

// sanitizeRelType ensures a label/relation name is a safe Cypher identifier.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	return strings.ToUpper(string(safe))
}

func embeddingToFloat64(e []float32) []float64 {
	out := make([]float64, len(e))
	for i, v := range e {
		out[i] = float64(v)
	}
	return out
}

func embeddingFromAny(v any) []float32 {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, x := range list {
		if f, ok := x.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}

func nodeFromProps(labels []string, props map[string]any) domain.Node {
	n := domain.Node{
		ID:        strProp(props, "id"),
		Name:      strProp(props, "name"),
		Namespace: strProp(props, "namespace"),
		Embedding: embeddingFromAny(props["embedding"]),
	}
	if len(labels) > 0 {
		n.Label = domain.Label(labels[0])
	}
	n.Properties = map[string]any{}
	if raw, ok := props["props_json"].(string); ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &n.Properties)
	}
	return n
}

func edgeFromRel(rel dbtype.Relationship) domain.Edge {
	e := domain.Edge{
		SourceID: fmt.Sprintf("%v", rel.StartId),
		TargetID: fmt.Sprintf("%v", rel.EndId),
		Relation: domain.Relation(rel.Type),
	}
	if c, ok := rel.Props["confidence"].(float64); ok {
		e.Confidence = c
	}
	e.Properties = map[string]any{}
	if raw, ok := rel.Props["props_json"].(string); ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &e.Properties)
	}
	return e
}

func ingestLogFromProps(props map[string]any) domain.IngestLog {
	return domain.IngestLog{
		Namespace:   strProp(props, "namespace"),
		DocID:       strProp(props, "doc_id"),
		ContentHash: strProp(props, "content_hash"),
		Status:      domain.IngestStatus(strProp(props, "status")),
	}
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}

func decodeCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	var n int
	_, _ = fmt.Sscanf(cursor, "%d", &n)
	return n
}

func encodeCursor(n int) string {
	return fmt.Sprintf("%d", n)
}

func collectNodesAndEdges(ctx context.Context, result neo4j.ResultWithContext) ([]domain.Node, []domain.Edge, error) {
	var nodes []domain.Node
	var edges []domain.Edge
	seenNodes := map[string]bool{}
	for result.Next(ctx) {
		rec := result.Record()
		if v, ok := rec.Get("n"); ok {
			if node, ok := v.(dbtype.Node); ok {
				dn := nodeFromProps(node.Labels, node.Props)
				if !seenNodes[dn.ID] {
					seenNodes[dn.ID] = true
					nodes = append(nodes, dn)
				}
			}
		}
		if v, ok := rec.Get("r"); ok {
			if rel, ok := v.(dbtype.Relationship); ok {
				edges = append(edges, edgeFromRel(rel))
			}
		}
	}
	return nodes, edges, result.Err()
}

func recordToNodesEdges(rec *neo4j.Record) ([]domain.Node, []domain.Edge, error) {
	var nodes []domain.Node
	var edges []domain.Edge
	if v, ok := rec.Get("nodes"); ok {
		if list, ok := v.([]any); ok {
			for _, raw := range list {
				if n, ok := raw.(dbtype.Node); ok {
					nodes = append(nodes, nodeFromProps(n.Labels, n.Props))
				}
			}
		}
	}
	relKey := "rels"
	if _, ok := rec.Get("rel"); ok {
		relKey = "rel"
	}
	if v, ok := rec.Get(relKey); ok {
		switch t := v.(type) {
		case []any:
			for _, raw := range t {
				if r, ok := raw.(dbtype.Relationship); ok {
					edges = append(edges, edgeFromRel(r))
				}
			}
		case dbtype.Relationship:
			edges = append(edges, edgeFromRel(t))
		}
	}
	return nodes, edges, nil
}
