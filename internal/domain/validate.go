package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxBatchSize bounds a single ingest or extraction batch.
const MaxBatchSize = 500

// MaxTextLength bounds a single document's raw text.
const MaxTextLength = 2_000_000

// RetrievalMode is the closed set of retrieval strategies.
type RetrievalMode string

const (
	ModeAuto       RetrievalMode = "auto"
	ModeGlobal     RetrievalMode = "global"
	ModeLocal      RetrievalMode = "local"
	ModeDrift      RetrievalMode = "drift"
	ModeStructured RetrievalMode = "structured"
)

var validRetrievalModes = map[RetrievalMode]bool{
	ModeAuto: true, ModeGlobal: true, ModeLocal: true, ModeDrift: true, ModeStructured: true,
}

// ExtractionMode is the closed set of entity extraction strategies.
type ExtractionMode string

const (
	ExtractHeuristic ExtractionMode = "heuristic"
	ExtractLLM       ExtractionMode = "llm"
	ExtractBoth      ExtractionMode = "both"
)

var validExtractionModes = map[ExtractionMode]bool{
	ExtractHeuristic: true, ExtractLLM: true, ExtractBoth: true,
}

// IngestRequest is the minimal shape validated at the ingestion boundary.
type IngestRequest struct {
	Namespace string
	DocID     string
	Text      string
	Mode      ExtractionMode
	Metadata  map[string]any
}

// ValidateIngestRequest checks doc_id, text, and mode are well-formed before
// a document enters the pipeline.
func ValidateIngestRequest(r IngestRequest) error {
	if strings.TrimSpace(r.Namespace) == "" {
		return NewError(KindValidation, "namespace", ErrMissingNamespace)
	}
	if strings.TrimSpace(r.DocID) == "" {
		return NewError(KindValidation, "doc_id", ErrMissingDocID)
	}
	if strings.TrimSpace(r.Text) == "" {
		return NewError(KindValidation, "text", ErrMissingText)
	}
	if n := utf8.RuneCountInString(r.Text); n > MaxTextLength {
		return NewError(KindValidation, fmt.Sprintf("text exceeds %d runes (got %d)", MaxTextLength, n), ErrBatchTooLarge)
	}
	if r.Mode != "" && !validExtractionModes[r.Mode] {
		return NewError(KindValidation, fmt.Sprintf("extraction mode %q", r.Mode), ErrUnknownMode)
	}
	return nil
}

// ValidateRetrievalMode checks a query's requested retrieval mode.
func ValidateRetrievalMode(m RetrievalMode) error {
	if !validRetrievalModes[m] {
		return NewError(KindValidation, fmt.Sprintf("retrieval mode %q", m), ErrUnknownMode)
	}
	return nil
}

// ValidateBatchSize checks a batch of n items against the configured cap.
func ValidateBatchSize(n int) error {
	if n > MaxBatchSize {
		return NewError(KindValidation, fmt.Sprintf("batch of %d exceeds max %d", n, MaxBatchSize), ErrBatchTooLarge)
	}
	return nil
}
