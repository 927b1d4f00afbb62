package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatcache/internal/cache"
	"github.com/eldtechnologies/chatcache/internal/dedup"
	"github.com/eldtechnologies/chatcache/internal/models"
	"github.com/eldtechnologies/chatcache/internal/orchestrator"
	"github.com/eldtechnologies/chatcache/internal/persist"
	"github.com/eldtechnologies/chatcache/internal/preload"
)

func testRouter(t *testing.T) *chi.Mux {
	t.Helper()
	primary, err := persist.NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { primary.Close() })

	o := orchestrator.New(
		zerolog.Nop(),
		cache.NewMessageStore(cache.MessageStoreConfig{}),
		dedup.New(),
		persist.NewStore(zerolog.Nop(), primary, persist.NewMemoryBackend()),
		preload.Config{},
		orchestrator.Config{},
	)
	h := NewHandler(o)

	r := chi.NewRouter()
	r.Route("/rooms/{id}", func(r chi.Router) {
		r.Get("/messages", h.GetRoomMessages)
		r.Put("/messages", h.PutRoomMessages)
		r.Post("/sync-plan", h.PostSyncPlan)
	})
	r.Post("/messages", h.PostMessage)
	r.Patch("/messages/{id}", h.PatchMessage)
	r.Delete("/rooms/{roomID}/messages/{id}", h.DeleteMessage)
	r.Get("/users/{id}/rooms", h.GetUserRooms)
	r.Put("/users/{id}/rooms", h.PutUserRooms)
	r.Get("/status", h.GetStatus)
	r.Get("/health", h.Health)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, testRouter(t), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestRoomMessagesMissThenHit(t *testing.T) {
	r := testRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/rooms/general/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["miss"])

	rec = doJSON(t, r, http.MethodPut, "/rooms/general/messages", map[string]any{
		"messages": []*models.Message{
			{ID: "01A", RoomID: "general", UserID: "u1", Content: "hello", CreatedAt: 1000},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["persisted"])

	rec = doJSON(t, r, http.MethodGet, "/rooms/general/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["miss"])
	assert.Len(t, body["messages"], 1)
}

func TestPostMessageAndDuplicate(t *testing.T) {
	r := testRouter(t)
	msg := map[string]any{
		"id": "01A", "room_id": "general", "from": "u1", "content": "hello", "ts": 10000,
	}

	rec := doJSON(t, r, http.MethodPost, "/messages", msg)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Same send echoed under a new id within the window.
	echo := map[string]any{
		"id": "01B", "room_id": "general", "from": "u1", "content": "hello", "ts": 12000,
	}
	rec = doJSON(t, r, http.MethodPost, "/messages", echo)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["duplicate"])
}

func TestPostMessageInvalid(t *testing.T) {
	rec := doJSON(t, testRouter(t), http.MethodPost, "/messages", map[string]any{"room_id": "general"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchAndDeleteMessage(t *testing.T) {
	r := testRouter(t)
	doJSON(t, r, http.MethodPost, "/messages", map[string]any{
		"id": "01A", "room_id": "general", "from": "u1", "content": "hello", "ts": 1000,
	})

	rec := doJSON(t, r, http.MethodPatch, "/messages/01A", map[string]any{"content": "edited"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/rooms/general/messages", nil)
	body := decodeBody(t, rec)
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Equal(t, "edited", msgs[0].(map[string]any)["content"])

	rec = doJSON(t, r, http.MethodDelete, "/rooms/general/messages/01A", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/rooms/general/messages", nil)
	assert.Equal(t, true, decodeBody(t, rec)["miss"])
}

func TestUserRoomsRoundTrip(t *testing.T) {
	r := testRouter(t)

	rec := doJSON(t, r, http.MethodPut, "/users/u1/rooms", map[string]any{
		"rooms": []models.Room{{ID: "r1", Name: "General", CreatedAt: 1000}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/users/u1/rooms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["miss"])
	assert.Len(t, body["rooms"], 1)
}

func TestSyncPlanEndpoint(t *testing.T) {
	r := testRouter(t)
	doJSON(t, r, http.MethodPut, "/rooms/general/messages", map[string]any{
		"messages": []*models.Message{
			{ID: "01A", RoomID: "general", UserID: "u1", Content: "hello", CreatedAt: 1000},
		},
	})

	// Empty remote manifest: the local copy is all extras.
	rec := doJSON(t, r, http.MethodPost, "/rooms/general/sync-plan", models.SyncManifest{RoomID: "general"})
	require.Equal(t, http.StatusOK, rec.Code)

	var diff dedup.ManifestDiff
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &diff))
	assert.Equal(t, []string{"01A"}, diff.ExtraMessages)
	assert.True(t, diff.NeedsFullSync)
}

func TestStatusEndpoint(t *testing.T) {
	rec := doJSON(t, testRouter(t), http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["online"])
	assert.EqualValues(t, 0, body["pending"])
}
