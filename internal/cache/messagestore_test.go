package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatcache/internal/models"
)

func msg(id, room string, ts int64) *models.Message {
	return &models.Message{
		ID:        id,
		RoomID:    room,
		UserID:    "user-1",
		Content:   "content " + id,
		CreatedAt: ts,
	}
}

func TestRoomRoundTripSorted(t *testing.T) {
	s := NewMessageStore(MessageStoreConfig{})

	m1 := msg("01A", "general", 1000)
	m2 := msg("01B", "general", 2000)
	m3 := msg("01C", "general", 3000)

	// Cached out of order, returned in creation order.
	s.CacheRoomMessages("general", []*models.Message{m3, m1, m2})

	got, ok := s.RoomMessages("general")
	require.True(t, ok)
	require.Len(t, got, 3)
	assert.Equal(t, "01A", got[0].ID)
	assert.Equal(t, "01B", got[1].ID)
	assert.Equal(t, "01C", got[2].ID)
}

func TestRoomMessagesMiss(t *testing.T) {
	s := NewMessageStore(MessageStoreConfig{})
	got, ok := s.RoomMessages("nope")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCacheRoomMessagesClonesInput(t *testing.T) {
	s := NewMessageStore(MessageStoreConfig{})
	m := msg("01A", "general", 1000)
	s.CacheRoomMessages("general", []*models.Message{m})

	m.Content = "mutated after caching"

	got, ok := s.RoomMessages("general")
	require.True(t, ok)
	assert.Equal(t, "content 01A", got[0].Content)
}

func TestCacheMessageUpsert(t *testing.T) {
	s := NewMessageStore(MessageStoreConfig{})
	s.CacheRoomMessages("general", []*models.Message{
		msg("01A", "general", 1000),
		msg("01C", "general", 3000),
	})

	// New message lands in order.
	s.CacheMessage(msg("01B", "general", 2000))
	got, _ := s.RoomMessages("general")
	require.Len(t, got, 3)
	assert.Equal(t, "01B", got[1].ID)

	// Same id again replaces, never duplicates.
	edited := msg("01B", "general", 2000)
	edited.Content = "edited"
	s.CacheMessage(edited)

	got, _ = s.RoomMessages("general")
	require.Len(t, got, 3)
	assert.Equal(t, "edited", got[1].Content)

	byID, ok := s.Message("01B")
	require.True(t, ok)
	assert.Equal(t, "edited", byID.Content)
}

func TestSortTieBreakByID(t *testing.T) {
	s := NewMessageStore(MessageStoreConfig{})
	s.CacheRoomMessages("general", []*models.Message{
		msg("01B", "general", 1000),
		msg("01A", "general", 1000),
	})
	got, _ := s.RoomMessages("general")
	require.Len(t, got, 2)
	assert.Equal(t, "01A", got[0].ID)
	assert.Equal(t, "01B", got[1].ID)
}

func TestRemoveMessage(t *testing.T) {
	s := NewMessageStore(MessageStoreConfig{})
	s.CacheRoomMessages("general", []*models.Message{
		msg("01A", "general", 1000),
		msg("01B", "general", 2000),
	})

	s.RemoveMessage("01A", "general")

	_, ok := s.Message("01A")
	assert.False(t, ok)
	got, _ := s.RoomMessages("general")
	require.Len(t, got, 1)
	assert.Equal(t, "01B", got[0].ID)
}

func TestUpdateMessage(t *testing.T) {
	s := NewMessageStore(MessageStoreConfig{})
	s.CacheRoomMessages("general", []*models.Message{
		msg("01A", "general", 1000),
		msg("01B", "general", 2000),
	})

	content := "rewritten"
	edited := int64(2500)
	ok := s.UpdateMessage("01A", &models.MessageChanges{Content: &content, EditedAt: &edited})
	require.True(t, ok)

	got, _ := s.RoomMessages("general")
	require.Len(t, got, 2)
	// Edit preserves list position.
	assert.Equal(t, "01A", got[0].ID)
	assert.Equal(t, "rewritten", got[0].Content)
	assert.Equal(t, int64(2500), got[0].EditedAt)

	assert.False(t, s.UpdateMessage("missing", &models.MessageChanges{Content: &content}))
}

func TestUserRoomsRoundTrip(t *testing.T) {
	s := NewMessageStore(MessageStoreConfig{})
	rooms := []models.Room{{ID: "r1", Name: "General"}, {ID: "r2", Name: "Random"}}
	s.CacheRooms("user-1", rooms)

	got, ok := s.Rooms("user-1")
	require.True(t, ok)
	assert.Equal(t, rooms, got)

	_, ok = s.Rooms("user-2")
	assert.False(t, ok)
}

func TestRoomEvictionKeepsStoreConsistent(t *testing.T) {
	s := NewMessageStore(MessageStoreConfig{MaxRooms: 2})
	for i := 0; i < 3; i++ {
		room := fmt.Sprintf("room-%d", i)
		s.CacheRoomMessages(room, []*models.Message{msg(fmt.Sprintf("m%d", i), room, int64(i*1000))})
	}

	_, ok := s.RoomMessages("room-0")
	assert.False(t, ok, "coldest room should be evicted")
	_, ok = s.RoomMessages("room-2")
	assert.True(t, ok)
}

func TestClear(t *testing.T) {
	s := NewMessageStore(MessageStoreConfig{})
	s.CacheRoomMessages("general", []*models.Message{msg("01A", "general", 1000)})
	s.CacheRooms("user-1", []models.Room{{ID: "r1"}})

	s.Clear()

	_, ok := s.RoomMessages("general")
	assert.False(t, ok)
	_, ok = s.Message("01A")
	assert.False(t, ok)
	_, ok = s.Rooms("user-1")
	assert.False(t, ok)
	assert.Zero(t, s.Stats().Rooms.Entries)
}
