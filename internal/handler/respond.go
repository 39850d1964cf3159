package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onetimeview/onetimeview/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps service errors to status codes. Anything unexpected
// is logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrNotFound) {
		writeError(w, http.StatusNotFound, service.ErrNotFound.Error())
		return
	}

	var verr *service.ValidationError
	if errors.As(err, &verr) {
		status := http.StatusBadRequest
		if errors.Is(err, service.ErrFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse{Error: verr.Message, Field: verr.Field})
		return
	}

	slog.Error("request failed", "route", r.Pattern, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// consumingGet rejects anything but GET on routes that spend a view or a
// download. ServeMux routes HEAD to GET patterns, and a HEAD response has no
// body to deliver the content in.
func consumingGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// NotFound answers unmatched routes
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}
