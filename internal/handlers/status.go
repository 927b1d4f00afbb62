package handlers

import (
	"net/http"
)

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus reports connectivity and pending-queue state.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.cache.Status(r.Context()))
}

// GetMetrics reports aggregated cache metrics.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.cache.Metrics(r.Context()))
}

// PostOnline records a connectivity transition reported by the client; the
// offline-to-online edge kicks off pending-operation replay.
func (h *Handler) PostOnline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online bool `json:"online"`
	}
	if err := decode(r, &body); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.cache.SetOnline(r.Context(), body.Online)
	h.JSON(w, http.StatusOK, map[string]bool{"online": body.Online})
}

// PostOptimize runs a maintenance cycle now.
func (h *Handler) PostOptimize(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Optimize(r.Context()); err != nil {
		h.Error(w, http.StatusInternalServerError, "optimize failed")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"optimized": true})
}

// PostClear empties the in-memory tiers. Durable storage is untouched.
func (h *Handler) PostClear(w http.ResponseWriter, r *http.Request) {
	h.cache.ClearAll()
	h.JSON(w, http.StatusOK, map[string]bool{"cleared": true})
}
