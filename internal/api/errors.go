package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"nearbygo/pkg/places"
	"nearbygo/pkg/upstream"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes that are not upstream kinds.
const (
	CodeInvalidInput  = "invalid_input"
	CodeMissingAPIKey = "missing_api_key"
	CodeInternal      = "internal"
)

// statusFor maps a lookup error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, places.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, upstream.ErrMissingAPIKey):
		return http.StatusInternalServerError, CodeMissingAPIKey
	}

	kind, ok := upstream.KindOf(err)
	if !ok {
		return http.StatusInternalServerError, CodeInternal
	}
	if kind == upstream.KindQuotaExceeded {
		return http.StatusTooManyRequests, string(kind)
	}
	// Credentials, the provider rejecting our query and outages are all ours to
	// fix, not the caller's. The code tells them apart.
	return http.StatusInternalServerError, string(kind)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Warn("API request failed", "code", code, "error", err)
	}
	writeJSONStatus(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSONStatus(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: CodeInvalidInput})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
