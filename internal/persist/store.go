// Package persist is the durable tier of the cache: a structured primary
// backend with transparent fallback to a simple key-value backend, plus a
// queue of writes captured while offline and replayed on reconnect.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatcache/internal/metrics"
	"github.com/eldtechnologies/chatcache/internal/models"
)

const (
	maxOpRetries   = 3
	syncBatchLimit = 100
)

// Store is the durable persistence façade. Primary-backend failures never
// propagate to callers of the read/write paths; they engage the key-value
// fallback instead. Safe for concurrent use.
type Store struct {
	log      zerolog.Logger
	primary  StructuredBackend
	fallback KVBackend

	online  atomic.Bool
	syncing atomic.Bool
}

// SyncStatus reports connectivity and the state of the pending queue.
type SyncStatus struct {
	Online     bool `json:"online"`
	Pending    int  `json:"pending"`
	InProgress bool `json:"in_progress"`
}

// NewStore composes the durable tier from injected backends. Both are chosen
// once at construction; there is no environment branching in call paths.
func NewStore(log zerolog.Logger, primary StructuredBackend, fallback KVBackend) *Store {
	s := &Store{
		log:      log.With().Str("component", "persist").Logger(),
		primary:  primary,
		fallback: fallback,
	}
	s.online.Store(true)
	return s
}

func roomKey(roomID string) string { return "kv:room:" + roomID + ":messages" }
func userKey(userID string) string { return "kv:user:" + userID + ":rooms" }

// StoreMessages durably stores a room's messages. Invalid records are
// dropped, missing ids are synthesized. While offline the write is queued as
// a pending operation instead.
func (s *Store) StoreMessages(ctx context.Context, roomID string, msgs []*models.Message) error {
	clean := RepairMessages(roomID, msgs)
	if len(clean) == 0 {
		return nil
	}

	if !s.online.Load() {
		return s.enqueue(ctx, models.OpStoreMessages, storeMessagesPayload{RoomID: roomID, Messages: clean})
	}

	if err := s.primary.StoreMessages(ctx, roomID, clean); err != nil {
		s.log.Warn().Err(err).Str("room_id", roomID).Msg("primary write failed, using fallback")
		metrics.StorageFallbacks.WithLabelValues("store_messages").Inc()
		return s.fallbackStoreMessages(ctx, roomID, clean)
	}
	return nil
}

// fallbackStoreMessages replaces the room's whole list in the KV tier. The
// existing fallback blob is merged so a partial batch does not erase older
// messages.
func (s *Store) fallbackStoreMessages(ctx context.Context, roomID string, msgs []*models.Message) error {
	existing, _ := s.kvRoomMessages(ctx, roomID)
	byID := make(map[string]*models.Message, len(existing)+len(msgs))
	for _, m := range existing {
		byID[m.ID] = m
	}
	for _, m := range msgs {
		byID[m.ID] = m
	}
	merged := make([]*models.Message, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, m)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	if err := s.fallback.Set(ctx, roomKey(roomID), data); err != nil {
		s.log.Error().Err(err).Str("room_id", roomID).Msg("fallback write failed, message batch not persisted")
		return fmt.Errorf("persist messages room %s: %w", roomID, err)
	}
	return nil
}

// RoomMessages reads a room's messages: primary first, key-value fallback on
// error, empty on a clean miss.
func (s *Store) RoomMessages(ctx context.Context, roomID string) ([]*models.Message, error) {
	msgs, err := s.primary.RoomMessages(ctx, roomID)
	if err != nil {
		s.log.Warn().Err(err).Str("room_id", roomID).Msg("primary read failed, using fallback")
		metrics.StorageFallbacks.WithLabelValues("room_messages").Inc()
		return s.kvRoomMessages(ctx, roomID)
	}
	return msgs, nil
}

func (s *Store) kvRoomMessages(ctx context.Context, roomID string) ([]*models.Message, error) {
	data, err := s.fallback.Get(ctx, roomKey(roomID))
	if err != nil {
		return nil, nil // miss or fallback failure, either way: empty
	}
	var msgs []*models.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		s.log.Warn().Err(err).Str("room_id", roomID).Msg("malformed fallback blob dropped")
		_ = s.fallback.Delete(ctx, roomKey(roomID))
		return nil, nil
	}
	return msgs, nil
}

// DeleteMessage removes a message durably, queueing while offline.
func (s *Store) DeleteMessage(ctx context.Context, id, roomID string) error {
	if !s.online.Load() {
		return s.enqueue(ctx, models.OpDeleteMessage, deleteMessagePayload{ID: id, RoomID: roomID})
	}
	if err := s.primary.DeleteMessage(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("message_id", id).Msg("primary delete failed")
		metrics.StorageFallbacks.WithLabelValues("delete_message").Inc()
		// Fallback blobs are whole-list; rewrite without the message.
		msgs, _ := s.kvRoomMessages(ctx, roomID)
		next := make([]*models.Message, 0, len(msgs))
		for _, m := range msgs {
			if m.ID != id {
				next = append(next, m)
			}
		}
		data, merr := json.Marshal(next)
		if merr != nil {
			return merr
		}
		return s.fallback.Set(ctx, roomKey(roomID), data)
	}
	return nil
}

// UpdateMessage applies a change-set durably, queueing while offline.
func (s *Store) UpdateMessage(ctx context.Context, id string, changes *models.MessageChanges) error {
	if !s.online.Load() {
		return s.enqueue(ctx, models.OpUpdateMessage, updateMessagePayload{ID: id, Changes: changes})
	}
	if err := s.primary.UpdateMessage(ctx, id, changes); err != nil {
		metrics.StorageFallbacks.WithLabelValues("update_message").Inc()
		s.log.Warn().Err(err).Str("message_id", id).Msg("primary update failed")
		return err
	}
	return nil
}

// StoreRooms durably stores a user's room list, queueing while offline.
func (s *Store) StoreRooms(ctx context.Context, userID string, rooms []models.Room) error {
	clean := RepairRooms(rooms)
	if !s.online.Load() {
		return s.enqueue(ctx, models.OpStoreRooms, storeRoomsPayload{UserID: userID, Rooms: clean})
	}
	if err := s.primary.StoreRooms(ctx, userID, clean); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("primary room write failed, using fallback")
		metrics.StorageFallbacks.WithLabelValues("store_rooms").Inc()
		data, merr := json.Marshal(clean)
		if merr != nil {
			return merr
		}
		return s.fallback.Set(ctx, userKey(userID), data)
	}
	return nil
}

// Rooms reads a user's room list: primary first, fallback on error.
func (s *Store) Rooms(ctx context.Context, userID string) ([]models.Room, error) {
	rooms, err := s.primary.Rooms(ctx, userID)
	if err != nil {
		metrics.StorageFallbacks.WithLabelValues("rooms").Inc()
		data, kerr := s.fallback.Get(ctx, userKey(userID))
		if kerr != nil {
			return nil, nil
		}
		var out []models.Room
		if json.Unmarshal(data, &out) != nil {
			return nil, nil
		}
		return out, nil
	}
	return rooms, nil
}

// RecentRooms returns room ids ordered by most recent durable message.
func (s *Store) RecentRooms(ctx context.Context, limit int) ([]string, error) {
	return s.primary.RecentRooms(ctx, limit)
}

// ExpireMessages drops durable messages older than the cutoff (Unix ms).
func (s *Store) ExpireMessages(ctx context.Context, olderThan int64) (int64, error) {
	return s.primary.ExpireMessages(ctx, olderThan)
}

// SetMeta stores a free-form metadata value in the primary backend.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	return s.primary.SetMeta(ctx, key, value)
}

// Meta retrieves a metadata value. ErrNotFound when the key was never set.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	return s.primary.Meta(ctx, key)
}

// Reset wipes the durable tier. Explicit opt-in; never run automatically.
func (s *Store) Reset(ctx context.Context) error {
	return s.primary.Reset(ctx)
}

// SetOnline records a connectivity transition. The offline-to-online edge is
// the caller's cue to invoke SyncPending.
func (s *Store) SetOnline(online bool) (wasOffline bool) {
	return !s.online.Swap(online) && online
}

// Online reports current connectivity.
func (s *Store) Online() bool {
	return s.online.Load()
}

// Status reports connectivity, queue depth and whether a sync pass is running.
func (s *Store) Status(ctx context.Context) SyncStatus {
	pending := 0
	if ops, err := s.primary.PendingOps(ctx, syncBatchLimit); err == nil {
		pending = len(ops)
	}
	return SyncStatus{
		Online:     s.online.Load(),
		Pending:    pending,
		InProgress: s.syncing.Load(),
	}
}

// SyncPending replays queued offline operations. Each op gets up to
// maxOpRetries attempts across passes, then is dropped for good. A single
// in-progress flag prevents overlapping passes.
func (s *Store) SyncPending(ctx context.Context) error {
	if !s.syncing.CompareAndSwap(false, true) {
		return nil // a pass is already running
	}
	defer s.syncing.Store(false)

	ops, err := s.primary.PendingOps(ctx, syncBatchLimit)
	if err != nil {
		return fmt.Errorf("load pending ops: %w", err)
	}

	for _, op := range ops {
		if err := s.replay(ctx, op); err != nil {
			op.Retries++
			if op.Retries >= maxOpRetries {
				s.log.Warn().Int64("op_id", op.ID).Str("kind", string(op.Kind)).
					Msg("pending op dropped after max retries")
				metrics.PendingOps.WithLabelValues("dropped").Inc()
				_ = s.primary.DeleteOp(ctx, op.ID)
			} else {
				metrics.PendingOps.WithLabelValues("retried").Inc()
				_ = s.primary.SetOpRetries(ctx, op.ID, op.Retries)
			}
			continue
		}
		metrics.PendingOps.WithLabelValues("replayed").Inc()
		if err := s.primary.DeleteOp(ctx, op.ID); err != nil {
			s.log.Warn().Err(err).Int64("op_id", op.ID).Msg("replayed op not dequeued")
		}
	}
	return nil
}

func (s *Store) replay(ctx context.Context, op *models.PendingOp) error {
	switch op.Kind {
	case models.OpStoreMessages:
		var p storeMessagesPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return err
		}
		return s.primary.StoreMessages(ctx, p.RoomID, p.Messages)
	case models.OpStoreRooms:
		var p storeRoomsPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return err
		}
		return s.primary.StoreRooms(ctx, p.UserID, p.Rooms)
	case models.OpDeleteMessage:
		var p deleteMessagePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return err
		}
		return s.primary.DeleteMessage(ctx, p.ID)
	case models.OpUpdateMessage:
		var p updateMessagePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return err
		}
		return s.primary.UpdateMessage(ctx, p.ID, p.Changes)
	default:
		return fmt.Errorf("unknown pending op kind %q", op.Kind)
	}
}

func (s *Store) enqueue(ctx context.Context, kind models.PendingOpKind, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := s.primary.EnqueueOp(ctx, kind, data); err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	metrics.PendingOps.WithLabelValues("queued").Inc()
	return nil
}

type storeMessagesPayload struct {
	RoomID   string            `json:"room_id"`
	Messages []*models.Message `json:"messages"`
}

type storeRoomsPayload struct {
	UserID string        `json:"user_id"`
	Rooms  []models.Room `json:"rooms"`
}

type deleteMessagePayload struct {
	ID     string `json:"id"`
	RoomID string `json:"room_id"`
}

type updateMessagePayload struct {
	ID      string                 `json:"id"`
	Changes *models.MessageChanges `json:"changes"`
}

// RepairMessages drops records missing required fields and synthesizes ids
// for the rest so storage never rejects a repairable write.
func RepairMessages(roomID string, msgs []*models.Message) []*models.Message {
	clean := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.RoomID == "" {
			m.RoomID = roomID
		}
		if !m.Valid() {
			continue
		}
		if m.ID == "" {
			m.ID = ulid.Make().String()
		}
		if m.CreatedAt == 0 {
			m.CreatedAt = nowMillis()
		}
		clean = append(clean, m)
	}
	return clean
}

// RepairRooms drops invalid rooms and synthesizes missing ids.
func RepairRooms(rooms []models.Room) []models.Room {
	clean := make([]models.Room, 0, len(rooms))
	for _, r := range rooms {
		if !r.Valid() {
			continue
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt == 0 {
			r.CreatedAt = nowMillis()
		}
		clean = append(clean, r)
	}
	return clean
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
