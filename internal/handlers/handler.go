package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/eldtechnologies/chatcache/internal/orchestrator"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	cache *orchestrator.Orchestrator
}

// NewHandler creates a new Handler over the cache orchestrator.
func NewHandler(cache *orchestrator.Orchestrator) *Handler {
	return &Handler{cache: cache}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// decode parses a JSON request body into dst.
func decode(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
