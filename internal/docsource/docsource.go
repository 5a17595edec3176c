// Package docsource provides a file-backed cache of raw ingested document
// text, so the orchestrator can re-fetch a stale document's content for
// re-indexing without the ingestion pipeline having to keep it in the graph
// store itself. Grounded on cmd/ingest's directory-of-files convention
// (scraped JSON documents read from a data directory), generalized from
// "source of truth" files to a write-through cache populated as documents
// are ingested through the API.
package docsource

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/graphrag/core/internal/domain"
)

// Cache persists one file per (namespace, doc_id) under baseDir, each
// holding the document's text and metadata as it was last ingested.
type Cache struct {
	baseDir string
}

// New constructs a Cache rooted at baseDir; baseDir is created lazily on
// first Put.
func New(baseDir string) *Cache {
	return &Cache{baseDir: baseDir}
}

type record struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

func (c *Cache) path(namespace, docID string) string {
	return filepath.Join(c.baseDir, namespace, docID+".json")
}

// Put stores text/metadata for namespace/docID, overwriting any prior entry.
func (c *Cache) Put(namespace, docID, text string, metadata map[string]any) error {
	path := c.path(namespace, docID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.Wrap(domain.KindFatal, err)
	}
	body, err := json.Marshal(record{Text: text, Metadata: metadata})
	if err != nil {
		return domain.Wrap(domain.KindFatal, err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return domain.Wrap(domain.KindFatal, err)
	}
	return nil
}

// FetchText implements orchestrator.DocumentSource, re-reading whatever was
// last stored for namespace/docID. A missing entry is reported as not_found
// so the orchestrator can skip the document rather than fail the whole run.
func (c *Cache) FetchText(_ context.Context, namespace, docID string) (string, map[string]any, error) {
	body, err := os.ReadFile(c.path(namespace, docID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, domain.NewError(domain.KindNotFound, "no cached document for re-ingestion", err)
		}
		return "", nil, domain.Wrap(domain.KindFatal, err)
	}
	var rec record
	if err := json.Unmarshal(body, &rec); err != nil {
		return "", nil, domain.Wrap(domain.KindCorruptArtifact, err)
	}
	return rec.Text, rec.Metadata, nil
}
