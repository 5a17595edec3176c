// Package domain defines the core graph types, identity rules, and
// validation shared across the GraphRAG engine's components.
package domain

import (
	"fmt"
	"strings"
)

// Label is the closed set of node kinds.
type Label string

const (
	LabelEntity       Label = "Entity"
	LabelTechnology    Label = "Technology"
	LabelOrganization  Label = "Organization"
	LabelRole          Label = "Role"
	LabelAchievement   Label = "Achievement"
	LabelSection       Label = "Section"
	LabelChunk         Label = "Chunk"
)

// ValidLabels is the set of recognised node labels.
var ValidLabels = map[Label]bool{
	LabelEntity: true, LabelTechnology: true, LabelOrganization: true,
	LabelRole: true, LabelAchievement: true, LabelSection: true, LabelChunk: true,
}

// Relation is the closed set of well-known edge relations; LLM-supplied
// labels are upper-cased and accepted as-is alongside these.
type Relation string

const (
	RelContains     Relation = "CONTAINS"
	RelHasEntity    Relation = "HAS_ENTITY"
	RelMentionedIn  Relation = "MENTIONED_IN"
	RelCoOccurs     Relation = "CO_OCCURS"
	RelRoleAt       Relation = "ROLE_AT"
	RelUsesTech     Relation = "USES_TECH"
)

// DefaultConfidence is used for edges that don't state one explicitly.
const DefaultConfidence = 0.6

// Node is a vertex in the property graph. Embedding is optional and,
// when present, must share the same dimension within a namespace+provider.
type Node struct {
	ID         string         `json:"id"`
	Label      Label          `json:"label"`
	Name       string         `json:"name"`
	Namespace  string         `json:"namespace"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Properties map[string]any `json:"properties"`
}

// Edge is a typed, directed relationship between two nodes.
type Edge struct {
	ID         string         `json:"id"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Relation   Relation       `json:"relation"`
	Confidence float64        `json:"confidence"`
	Properties map[string]any `json:"properties"`
}

// NormalizeName lower-cases and trims a name for identity comparison.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// EntityNodeID derives the stable id for an entity node: namespace:lower(name).
func EntityNodeID(namespace, name string) string {
	return fmt.Sprintf("%s:%s", namespace, NormalizeName(name))
}

// ChunkNodeID derives the stable id for a chunk node.
func ChunkNodeID(namespace, docID string, chunkIndex int) string {
	return fmt.Sprintf("%s:%s:%d", namespace, docID, chunkIndex)
}

// SectionNodeID derives the stable id for a section node.
func SectionNodeID(namespace, docID, sectionPath string) string {
	return fmt.Sprintf("%s:%s:%s", namespace, docID, sectionPath)
}

// EdgeID derives the stable id for an edge from its identity triple.
func EdgeID(sourceID, targetID string, relation Relation) string {
	return fmt.Sprintf("%s->%s->%s", sourceID, relation, targetID)
}

// NewNode constructs a Node with an initialized Properties map.
func NewNode(id string, label Label, name, namespace string) Node {
	return Node{
		ID:         id,
		Label:      label,
		Name:       name,
		Namespace:  namespace,
		Properties: map[string]any{},
	}
}

// NewEdge constructs an Edge with default confidence and an initialized
// Properties map.
func NewEdge(sourceID, targetID string, relation Relation) Edge {
	return Edge{
		ID:         EdgeID(sourceID, targetID, relation),
		SourceID:   sourceID,
		TargetID:   targetID,
		Relation:   relation,
		Confidence: DefaultConfidence,
		Properties: map[string]any{},
	}
}

// recomputedKeys always overwrite rather than merge: they are written only
// by analytics and layout recomputation, which must replace a stale value
// rather than preserve whatever ingestion happened to write first.
var recomputedKeys = map[string]bool{
	"degree": true, "degree_norm": true, "pagerank_norm": true,
	"betweenness_norm": true, "importance": true,
	"community_id": true, "community_level": true,
	"layout.x": true, "layout.y": true, "layout_version": true,
}

// MergeProperties unions src into dst non-destructively: existing keys in
// dst are kept unless absent, except for source_ids which is appended/deduped
// and the analytics/layout keys in recomputedKeys which always overwrite.
func MergeProperties(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		if k == "source_ids" {
			dst["source_ids"] = mergeSourceIDs(dst["source_ids"], v)
			continue
		}
		if recomputedKeys[k] {
			dst[k] = v
			continue
		}
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
	return dst
}

func mergeSourceIDs(existing, incoming any) []string {
	seen := map[string]bool{}
	var out []string
	add := func(v any) {
		switch t := v.(type) {
		case []string:
			for _, s := range t {
				if !seen[s] {
					seen[s] = true
					out = append(out, s)
				}
			}
		case string:
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	add(existing)
	add(incoming)
	return out
}

// PreferEmbedding returns the embedding to keep after a merge: the new
// vector only replaces the old one when the old is empty and the new isn't,
// or the new carries a newer provider tag (caller resolves provider order).
func PreferEmbedding(old, incoming []float32, newHasNewerProvider bool) []float32 {
	if len(old) == 0 && len(incoming) > 0 {
		return incoming
	}
	if newHasNewerProvider && len(incoming) > 0 {
		return incoming
	}
	return old
}
