package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatcache/internal/models"
)

// GetUserRooms serves a user's cached room list.
func (h *Handler) GetUserRooms(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		h.Error(w, http.StatusBadRequest, "user id required")
		return
	}

	rooms, err := h.cache.Rooms(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "cache read failed")
		return
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"rooms":   rooms,
		"miss":    len(rooms) == 0,
	})
}

// PutUserRooms caches a user's room list as a unit.
func (h *Handler) PutUserRooms(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	var body struct {
		Rooms []models.Room `json:"rooms"`
	}
	if err := decode(r, &body); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.cache.CacheRooms(r.Context(), userID, body.Rooms); err != nil {
		h.JSON(w, http.StatusOK, map[string]bool{"cached": true, "persisted": false})
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"cached": true, "persisted": true})
}
