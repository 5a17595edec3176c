package analytics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/graphrag/core/internal/domain"
)

// topTermsPerCluster bounds the stored top_terms list, per the top-8 rule.
const topTermsPerCluster = 8

// maxCentroidSample bounds embedding averaging cost for very large clusters.
const maxCentroidSample = 500

// Cluster is the persisted record for one detected community: its member
// node ids, size, top terms drawn from member chunk text, and a centroid
// embedding for downstream similarity use.
type Cluster struct {
	ClusterID string
	Level     int
	NodeIDs   []string
	Size      int
	TopTerms  []string
	Centroid  []float32
}

// buildClusters groups nodes by their (component, level, sub-community) key
// and derives top_terms/centroid per group.
func buildClusters(namespace string, nodes []domain.Node, assign communityAssignment) []Cluster {
	groups := map[string][]int{}
	for i := range nodes {
		key := clusterKey(namespace, assign, i)
		groups[key] = append(groups[key], i)
	}

	clusters := make([]Cluster, 0, len(groups))
	for key, members := range groups {
		c := Cluster{ClusterID: key, Size: len(members)}
		if len(members) > 0 {
			c.Level = assign.level[members[0]]
		}
		termFreq := map[string]int{}
		var vectors [][]float32
		for i, idx := range members {
			c.NodeIDs = append(c.NodeIDs, nodes[idx].ID)
			if text, ok := nodes[idx].Properties["text"].(string); ok {
				tokenize(text, termFreq)
			}
			tokenize(nodes[idx].Name, termFreq)
			if len(nodes[idx].Embedding) > 0 && i < maxCentroidSample {
				vectors = append(vectors, nodes[idx].Embedding)
			}
		}
		c.TopTerms = topTerms(termFreq, topTermsPerCluster)
		c.Centroid = centroid(vectors)
		clusters = append(clusters, c)
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ClusterID < clusters[j].ClusterID })
	return clusters
}

func clusterKey(namespace string, assign communityAssignment, idx int) string {
	if assign.level[idx] == 1 {
		return fmt.Sprintf("%s:c%d-%d", namespace, assign.id[idx], assign.sub[idx])
	}
	return fmt.Sprintf("%s:c%d", namespace, assign.id[idx])
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "are": true, "was": true, "were": true, "have": true, "has": true,
	"will": true, "into": true, "about": true, "their": true, "they": true, "them": true,
}

func tokenize(text string, freq map[string]int) {
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, "?.,!;:'\"()[]{}")
		if len(w) <= 2 || stopwords[w] {
			continue
		}
		freq[w]++
	}
}

func topTerms(freq map[string]int, n int) []string {
	type kv struct {
		term  string
		count int
	}
	list := make([]kv, 0, len(freq))
	for t, c := range freq {
		list = append(list, kv{t, c})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].term < list[j].term
	})
	if len(list) > n {
		list = list[:n]
	}
	out := make([]string, len(list))
	for i, kv := range list {
		out[i] = kv.term
	}
	return out
}

func centroid(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	for i, s := range sum {
		out[i] = float32(s / float64(len(vectors)))
	}
	return out
}
