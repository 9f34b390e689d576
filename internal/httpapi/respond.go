// Package httpapi wires the chi router splitting VulnDash's query surface
// ("/api/*", public, read-only plus the remediation toggle) from its
// administrative surface ("/admin/*", mutating), using the standard
// chi/cors/recover/logging middleware stack with a single-tenant admin
// guard that is a no-op until an operator turns it on.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/logger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the structured error body admin endpoints return: a
// machine-readable kind and a human message.
type errorResponse struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	kind, ok := apperr.KindOf(err)
	if !ok {
		log.Error("unmapped handler error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Kind: apperr.KindPersistence, Message: "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindAuth:
		status = http.StatusUnauthorized
	case apperr.KindTimeout, apperr.KindConnection:
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		log.Error("handler error", "kind", kind, "error", err)
	}
	writeJSON(w, status, errorResponse{Kind: kind, Message: err.Error()})
}
