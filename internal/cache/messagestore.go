package cache

import (
	"sort"
	"sync"

	"github.com/eldtechnologies/chatcache/internal/models"
)

// MessageStore is the in-memory tier: per-room message lists ordered by
// creation time, a per-id index for O(1) lookup, and a per-user room-list
// cache. All mutations are serialized by the store mutex, so two concurrent
// writers to the same room cannot interleave a read-modify-write.
type MessageStore struct {
	mu    sync.Mutex
	rooms *BoundedCache[string, []*models.Message]
	byID  *BoundedCache[string, *models.Message]
	users *BoundedCache[string, []models.Room]
}

// MessageStoreConfig bounds the three sub-caches.
type MessageStoreConfig struct {
	MaxRooms          int
	MaxRoomBytes      int64
	MaxMessages       int
	MaxUsers          int
	CompressThreshold int // applied to room lists only
}

// NewMessageStore creates a MessageStore with the given bounds.
func NewMessageStore(cfg MessageStoreConfig) *MessageStore {
	if cfg.MaxRooms <= 0 {
		cfg.MaxRooms = 50
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 5000
	}
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = 100
	}
	s := &MessageStore{
		rooms: New[string, []*models.Message](Config{
			MaxEntries:        cfg.MaxRooms,
			MaxBytes:          cfg.MaxRoomBytes,
			CompressThreshold: cfg.CompressThreshold,
		}),
		byID:  New[string, *models.Message](Config{MaxEntries: cfg.MaxMessages}),
		users: New[string, []models.Room](Config{MaxEntries: cfg.MaxUsers}),
	}
	return s
}

// CacheRoomMessages replaces the room's cached list. Input is cloned, never
// aliased, and re-sorted ascending by creation time.
func (s *MessageStore) CacheRoomMessages(roomID string, msgs []*models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		cloned = append(cloned, m.Clone())
	}
	sortMessages(cloned)
	s.rooms.Set(roomID, cloned)
	for _, m := range cloned {
		s.byID.Set(m.ID, m)
	}
}

// RoomMessages returns the cached list for a room, ordered ascending by
// creation time. The returned slice is the caller's to iterate, not mutate.
func (s *MessageStore) RoomMessages(roomID string) ([]*models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, false
	}
	out := make([]*models.Message, len(msgs))
	copy(out, msgs)
	return out, true
}

// HasRoom reports whether a room is warm, without touching recency.
func (s *MessageStore) HasRoom(roomID string) bool {
	return s.rooms.Has(roomID)
}

// CacheMessage upserts a single message into its room list and the id index.
// An existing id is replaced in place; a new message is inserted in order.
func (s *MessageStore) CacheMessage(msg *models.Message) {
	if msg == nil || msg.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m := msg.Clone()
	list, ok := s.rooms.Get(m.RoomID)
	if !ok {
		list = nil
	}
	replaced := false
	next := make([]*models.Message, len(list))
	copy(next, list)
	for i, existing := range next {
		if existing.ID == m.ID {
			next[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, m)
	}
	sortMessages(next)
	s.rooms.Set(m.RoomID, next)
	s.byID.Set(m.ID, m)
}

// Message returns a single message by id.
func (s *MessageStore) Message(id string) (*models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID.Get(id)
}

// RemoveMessage deletes a message from the id index and its room list.
func (s *MessageStore) RemoveMessage(id, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID.Delete(id)
	list, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	next := make([]*models.Message, 0, len(list))
	for _, m := range list {
		if m.ID != id {
			next = append(next, m)
		}
	}
	s.rooms.Set(roomID, next)
}

// UpdateMessage merges changes into the cached message, preserving its list
// position. Returns false when the id is not cached.
func (s *MessageStore) UpdateMessage(id string, changes *models.MessageChanges) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID.Get(id)
	if !ok {
		return false
	}
	updated := cur.Clone()
	changes.Apply(updated)
	s.byID.Set(id, updated)

	if list, ok := s.rooms.Get(updated.RoomID); ok {
		next := make([]*models.Message, len(list))
		copy(next, list)
		for i, m := range next {
			if m.ID == id {
				next[i] = updated
				break
			}
		}
		s.rooms.Set(updated.RoomID, next)
	}
	return true
}

// CacheRooms caches a user's room list as a unit.
func (s *MessageStore) CacheRooms(userID string, rooms []models.Room) {
	cloned := make([]models.Room, len(rooms))
	copy(cloned, rooms)
	s.users.Set(userID, cloned)
}

// Rooms returns a user's cached room list.
func (s *MessageStore) Rooms(userID string) ([]models.Room, bool) {
	return s.users.Get(userID)
}

// Clear drops all three sub-caches and their counters.
func (s *MessageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms.Clear()
	s.byID.Clear()
	s.users.Clear()
}

// StoreStats groups the sub-cache snapshots.
type StoreStats struct {
	Rooms    Stats `json:"rooms"`
	Messages Stats `json:"messages"`
	Users    Stats `json:"users"`
}

// Stats returns a snapshot across the three sub-caches.
func (s *MessageStore) Stats() StoreStats {
	return StoreStats{
		Rooms:    s.rooms.Stats(),
		Messages: s.byID.Stats(),
		Users:    s.users.Stats(),
	}
}

// sortMessages orders ascending by creation time, tie-broken by id so repeated
// upserts stay deterministic.
func sortMessages(msgs []*models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt != msgs[j].CreatedAt {
			return msgs[i].CreatedAt < msgs[j].CreatedAt
		}
		return msgs[i].ID < msgs[j].ID
	})
}
