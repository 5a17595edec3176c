package ingest

import (
	"github.com/graphrag/core/internal/chunker"
	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/embedder"
	"github.com/graphrag/core/internal/extractor"
)

// buildGraph assembles the full node/edge set for one document: Section and
// Chunk nodes with CONTAINS edges, Entity nodes (one per distinct candidate
// name) with HAS_ENTITY/MENTIONED_IN edges bounded by the linking cap, and
// the derived CO_OCCURS/ROLE_AT/USES_TECH edges.
func buildGraph(
	req domain.IngestRequest,
	sections []chunker.Section,
	chunks []chunker.Chunk,
	chunkVectors []embedder.EmbedStatus,
	candidates []extractor.Candidate,
	relations []extractor.DerivedRelation,
	nameVectors map[string][]float32,
	linkingCap int,
) ([]domain.Node, []domain.Edge) {
	var nodes []domain.Node
	var edges []domain.Edge

	sectionIDs := map[string]string{}
	for _, s := range sections {
		id := domain.SectionNodeID(req.Namespace, req.DocID, s.Path)
		sectionIDs[s.Path] = id
		n := domain.NewNode(id, domain.LabelSection, s.Title, req.Namespace)
		n.Properties["path"] = s.Path
		n.Properties["depth"] = s.Depth
		n.Properties["doc_id"] = req.DocID
		n.Properties["source_ids"] = []string{req.DocID}
		nodes = append(nodes, n)
	}

	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		id := domain.ChunkNodeID(req.Namespace, req.DocID, c.Index)
		chunkIDs[i] = id
		n := domain.NewNode(id, domain.LabelChunk, chunkTitle(c), req.Namespace)
		n.Properties["text"] = c.Text
		n.Properties["doc_id"] = req.DocID
		n.Properties["chunk_index"] = c.Index
		n.Properties["source_ids"] = []string{req.DocID}
		if i < len(chunkVectors) {
			if chunkVectors[i].Failed {
				n.Properties["embedding_status"] = "failed"
			} else {
				n.Embedding = chunkVectors[i].Vector
			}
		}
		nodes = append(nodes, n)

		if secID, ok := sectionIDs[c.SectionPath]; ok {
			edges = append(edges, domain.NewEdge(secID, id, domain.RelContains))
		}
	}

	if linkingCap <= 0 {
		linkingCap = extractor.LinkingCapEmbedded
	}
	entityIDs := map[string]string{}
	linkedSection := map[string]bool{}
	mentionCount := map[string]int{}
	for _, cand := range candidates {
		key := domain.NormalizeName(cand.Name)
		id, exists := entityIDs[key]
		if !exists {
			id = domain.EntityNodeID(req.Namespace, cand.Name)
			entityIDs[key] = id
			n := domain.NewNode(id, cand.Label, cand.Name, req.Namespace)
			n.Properties["confidence"] = cand.Confidence
			n.Properties["source_ids"] = []string{req.DocID}
			if vec, ok := nameVectors[key]; ok && len(vec) > 0 {
				n.Embedding = vec
			}
			nodes = append(nodes, n)
		}

		chunkIdx := cand.Sentence
		if chunkIdx < 0 || chunkIdx >= len(chunkIDs) {
			continue
		}
		sectionPath := ""
		if chunkIdx < len(chunks) {
			sectionPath = chunks[chunkIdx].SectionPath
		}
		if secID, ok := sectionIDs[sectionPath]; ok {
			linkKey := secID + "|" + id
			if !linkedSection[linkKey] {
				linkedSection[linkKey] = true
				edges = append(edges, domain.NewEdge(secID, id, domain.RelHasEntity))
			}
		}

		if mentionCount[key] >= linkingCap {
			continue
		}
		mentionCount[key]++
		e := domain.NewEdge(id, chunkIDs[chunkIdx], domain.RelMentionedIn)
		e.Confidence = cand.Confidence
		edges = append(edges, e)
	}

	for _, rel := range relations {
		sourceID, okS := entityIDs[domain.NormalizeName(rel.SourceName)]
		targetID, okT := entityIDs[domain.NormalizeName(rel.TargetName)]
		if !okS || !okT || sourceID == targetID {
			continue
		}
		e := domain.NewEdge(sourceID, targetID, rel.Relation)
		e.Confidence = rel.Confidence
		edges = append(edges, e)
	}

	return nodes, edges
}

func chunkTitle(c chunker.Chunk) string {
	const maxLen = 60
	t := c.Text
	if len(t) > maxLen {
		return t[:maxLen]
	}
	return t
}
