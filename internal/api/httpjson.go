package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/graphrag/core/internal/domain"
)

// apiError is the wire shape every error response takes, per spec.md §6:
// {error: {code, message, details?}}.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies err via domain.KindOf and writes the matching
// status/code pair, per spec.md §7's error-kind-to-HTTP-status table. The
// message is err.Error() as is, so it includes the text of any wrapped
// internal cause.
func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status, code := statusForKind(kind)
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: err.Error()}})
}

func statusForKind(kind domain.ErrorKind) (int, string) {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest, "validation"
	case domain.KindNotFound:
		return http.StatusNotFound, "not_found"
	case domain.KindConflict:
		return http.StatusConflict, "conflict"
	case domain.KindBackendUnavailable:
		return http.StatusServiceUnavailable, "backend_unavailable"
	case domain.KindProviderFailure:
		return http.StatusBadGateway, "provider_failure"
	case domain.KindTransient:
		return http.StatusGatewayTimeout, "transient"
	case domain.KindCorruptArtifact:
		return http.StatusUnprocessableEntity, "corrupt_artifact"
	default:
		return http.StatusInternalServerError, "fatal"
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.NewError(domain.KindValidation, "malformed JSON body", err)
	}
	return nil
}

var errMissingAPIKey = errors.New("missing or invalid x-api-key")

func writeRateLimited(w http.ResponseWriter) {
	writeJSON(w, http.StatusTooManyRequests, errorEnvelope{Error: apiError{
		Code: "rate_limited", Message: "rate limit exceeded",
	}})
}
