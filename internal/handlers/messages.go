package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatcache/internal/models"
	"github.com/eldtechnologies/chatcache/internal/orchestrator"
)

// GetRoomMessages serves a room's cached messages. A miss returns an empty
// list with a miss marker; the client fetches from the remote backend and
// feeds the result back via PutRoomMessages.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		h.Error(w, http.StatusBadRequest, "room id required")
		return
	}

	msgs, err := h.cache.GetMessages(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "cache read failed")
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"room_id":  roomID,
		"messages": msgs,
		"miss":     len(msgs) == 0,
	})
}

// PutRoomMessages ingests a batch of messages for a room, typically a remote
// fetch result. Responds with the surviving (deduplicated) list.
func (h *Handler) PutRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	var body struct {
		Messages []*models.Message `json:"messages"`
	}
	if err := decode(r, &body); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cached, err := h.cache.CacheMessages(r.Context(), roomID, body.Messages, orchestrator.DefaultWriteOptions())
	if err != nil {
		// Memory tier is populated; durable persistence is advisory.
		h.JSON(w, http.StatusOK, map[string]interface{}{
			"messages": cached, "persisted": false,
		})
		return
	}
	if cached == nil {
		cached = []*models.Message{}
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"messages": cached, "persisted": true,
	})
}

// PostMessage ingests a single real-time arrival. Duplicates answer 409 so
// clients can skip downstream work, but carry no error payload semantics.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if err := decode(r, &msg); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accepted, err := h.cache.CacheMessage(r.Context(), &msg, orchestrator.DefaultWriteOptions())
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidMessage) {
			h.Error(w, http.StatusBadRequest, "message missing required fields")
			return
		}
		// Accepted into memory; durable write failed.
		h.JSON(w, http.StatusAccepted, map[string]interface{}{"accepted": accepted, "persisted": false})
		return
	}
	if !accepted {
		h.JSON(w, http.StatusConflict, map[string]interface{}{"accepted": false, "duplicate": true})
		return
	}
	h.JSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

// DeleteMessage removes a message from every tier.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	id := chi.URLParam(r, "id")
	if id == "" || roomID == "" {
		h.Error(w, http.StatusBadRequest, "room id and message id required")
		return
	}
	if err := h.cache.RemoveMessage(r.Context(), id, roomID); err != nil {
		h.Error(w, http.StatusInternalServerError, "delete failed")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"removed": true})
}

// PatchMessage applies a partial update to a cached message.
func (h *Handler) PatchMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var changes models.MessageChanges
	if err := decode(r, &changes); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.cache.UpdateMessage(r.Context(), id, &changes); err != nil {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// PostSyncPlan diffs a remote manifest against local state and reports
// whether an incremental patch or a full resync is cheaper.
func (h *Handler) PostSyncPlan(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	var remote models.SyncManifest
	if err := decode(r, &remote); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.JSON(w, http.StatusOK, h.cache.SyncPlan(roomID, remote))
}
