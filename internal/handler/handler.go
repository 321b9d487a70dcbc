// Package handler provides HTTP request handlers.
package handler

import (
	"net/http"
)

// Version is reported by the service banner.
const Version = "1.0.0"

// Handler serves the endpoints outside /api/v1.
type Handler struct{}

// New creates a new Handler instance.
func New() *Handler {
	return &Handler{}
}

// Banner handles GET /.
func (h *Handler) Banner(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "DevInsight API", map[string]string{
		"name":    "devinsight",
		"version": Version,
		"docs":    "/api/v1",
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}
