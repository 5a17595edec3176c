package api

import (
	"net/http"

	"github.com/graphrag/core/internal/domain"
)

// cacheRawDoc persists the document's raw text so a later orchestrator run
// can re-fetch it for re-indexing; a nil DocSource (no baseDir configured)
// silently skips caching.
func (s *Server) cacheRawDoc(namespace, docID, text string, metadata map[string]any) {
	if s.deps.DocSource == nil || docID == "" {
		return
	}
	_ = s.deps.DocSource.Put(namespace, docID, text, metadata)
}

type ingestRequest struct {
	DocID             string         `json:"doc_id"`
	Text              string         `json:"text"`
	Namespace         string         `json:"namespace"`
	Metadata          map[string]any `json:"metadata"`
	ForceHeuristic    bool           `json:"force_heuristic"`
	DisableEmbeddings bool           `json:"disable_embeddings"`
}

type ingestResponse struct {
	Status         domain.IngestStatus   `json:"status"`
	NodesCreated   int                   `json:"nodes_created"`
	EdgesCreated   int                   `json:"edges_created"`
	Chunks         int                   `json:"chunks"`
	ExtractionMode domain.ExtractionMode `json:"extraction_mode"`
}

func defaultNamespace(ns string) string {
	if ns == "" {
		return "default"
	}
	return ns
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	mode := domain.ExtractionMode("")
	if req.ForceHeuristic {
		mode = domain.ExtractHeuristic
	}

	out, err := s.deps.Pipeline.Run(r.Context(), domain.IngestRequest{
		Namespace: defaultNamespace(req.Namespace),
		DocID:     req.DocID,
		Text:      req.Text,
		Mode:      mode,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.cacheRawDoc(defaultNamespace(req.Namespace), req.DocID, req.Text, req.Metadata)

	writeJSON(w, http.StatusOK, ingestResponse{
		Status:       out.Status,
		NodesCreated: out.NodesNew,
		EdgesCreated: out.EdgesNew,
	})
}

// handleIngestFile accepts a multipart upload with fields doc_id, namespace
// (optional), and a "file" part holding the document text.
func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, domain.NewError(domain.KindValidation, "multipart form", err))
		return
	}
	docID := r.FormValue("doc_id")
	namespace := defaultNamespace(r.FormValue("namespace"))

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, domain.NewError(domain.KindValidation, "file part is required", err))
		return
	}
	defer file.Close()

	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, rerr := file.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			break
		}
	}

	out, err := s.deps.Pipeline.Run(r.Context(), domain.IngestRequest{
		Namespace: namespace,
		DocID:     docID,
		Text:      string(buf),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.cacheRawDoc(namespace, docID, string(buf), nil)
	writeJSON(w, http.StatusOK, ingestResponse{Status: out.Status, NodesCreated: out.NodesNew, EdgesCreated: out.EdgesNew})
}

type ingestBatchRequest struct {
	Documents []ingestRequest `json:"documents"`
}

type ingestBatchResponse struct {
	Total        int `json:"total"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	NodesCreated int `json:"nodes_created"`
	EdgesCreated int `json:"edges_created"`
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req ingestBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := domain.ValidateBatchSize(len(req.Documents)); err != nil {
		writeError(w, err)
		return
	}

	resp := ingestBatchResponse{Total: len(req.Documents)}
	for _, doc := range req.Documents {
		out, err := s.deps.Pipeline.Run(r.Context(), domain.IngestRequest{
			Namespace: defaultNamespace(doc.Namespace),
			DocID:     doc.DocID,
			Text:      doc.Text,
			Metadata:  doc.Metadata,
		})
		if err != nil {
			resp.Failed++
			continue
		}
		s.cacheRawDoc(defaultNamespace(doc.Namespace), doc.DocID, doc.Text, doc.Metadata)
		resp.Succeeded++
		resp.NodesCreated += out.NodesNew
		resp.EdgesCreated += out.EdgesNew
	}
	writeJSON(w, http.StatusOK, resp)
}
