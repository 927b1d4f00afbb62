package persist

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatcache/internal/models"
)

var errBackendDown = errors.New("backend down")

// downBackend fails every structured operation, standing in for a primary
// store that is unreachable or corrupt.
type downBackend struct{}

func (downBackend) Close() error               { return nil }
func (downBackend) Ping(context.Context) error { return errBackendDown }
func (downBackend) StoreMessages(context.Context, string, []*models.Message) error {
	return errBackendDown
}
func (downBackend) RoomMessages(context.Context, string) ([]*models.Message, error) {
	return nil, errBackendDown
}
func (downBackend) DeleteMessage(context.Context, string) error { return errBackendDown }
func (downBackend) UpdateMessage(context.Context, string, *models.MessageChanges) error {
	return errBackendDown
}
func (downBackend) RecentRooms(context.Context, int) ([]string, error) {
	return nil, errBackendDown
}
func (downBackend) ExpireMessages(context.Context, int64) (int64, error) {
	return 0, errBackendDown
}
func (downBackend) StoreRooms(context.Context, string, []models.Room) error {
	return errBackendDown
}
func (downBackend) Rooms(context.Context, string) ([]models.Room, error) {
	return nil, errBackendDown
}
func (downBackend) SetMeta(context.Context, string, string) error { return errBackendDown }
func (downBackend) Meta(context.Context, string) (string, error)  { return "", errBackendDown }
func (downBackend) EnqueueOp(context.Context, models.PendingOpKind, []byte) (int64, error) {
	return 0, errBackendDown
}
func (downBackend) PendingOps(context.Context, int) ([]*models.PendingOp, error) {
	return nil, errBackendDown
}
func (downBackend) DeleteOp(context.Context, int64) error          { return errBackendDown }
func (downBackend) SetOpRetries(context.Context, int64, int) error { return errBackendDown }
func (downBackend) Reset(context.Context) error                    { return errBackendDown }

// flakyWrites wraps a working backend but fails message writes, so queued ops
// fail replay while the queue itself keeps working.
type flakyWrites struct {
	*SQLiteBackend
}

func (f flakyWrites) StoreMessages(context.Context, string, []*models.Message) error {
	return errBackendDown
}

func newStore(t *testing.T, primary StructuredBackend, fallback KVBackend) *Store {
	t.Helper()
	return NewStore(zerolog.Nop(), primary, fallback)
}

func testMessages(room string) []*models.Message {
	return []*models.Message{
		{ID: "01A", RoomID: room, UserID: "u1", Content: "hello", CreatedAt: 1000},
		{ID: "01B", RoomID: room, UserID: "u1", Content: "world", CreatedAt: 2000},
	}
}

func TestStoreRoundTripThroughPrimary(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, openSQLite(t), NewMemoryBackend())

	require.NoError(t, s.StoreMessages(ctx, "general", testMessages("general")))

	got, err := s.RoomMessages(ctx, "general")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "01A", got[0].ID)
}

func TestStoreFallbackEngagesOnPrimaryFailure(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryBackend()
	s := newStore(t, downBackend{}, kv)

	// Write path: primary fails, the batch lands in the key-value tier and the
	// caller sees no error.
	require.NoError(t, s.StoreMessages(ctx, "general", testMessages("general")))

	// Read path: primary fails, the fallback blob serves the room.
	got, err := s.RoomMessages(ctx, "general")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStoreFallbackMergesBatches(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, downBackend{}, NewMemoryBackend())

	require.NoError(t, s.StoreMessages(ctx, "general", []*models.Message{
		{ID: "01A", RoomID: "general", UserID: "u1", Content: "first", CreatedAt: 1000},
	}))
	require.NoError(t, s.StoreMessages(ctx, "general", []*models.Message{
		{ID: "01B", RoomID: "general", UserID: "u1", Content: "second", CreatedAt: 2000},
	}))

	got, err := s.RoomMessages(ctx, "general")
	require.NoError(t, err)
	assert.Len(t, got, 2, "a later partial batch must not erase the earlier one")
}

func TestStoreRoomsFallback(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, downBackend{}, NewMemoryBackend())

	require.NoError(t, s.StoreRooms(ctx, "u1", []models.Room{{ID: "r1", Name: "General", CreatedAt: 1000}}))

	rooms, err := s.Rooms(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "r1", rooms[0].ID)
}

func TestStoreOfflineQueuesAndReplays(t *testing.T) {
	ctx := context.Background()
	primary := openSQLite(t)
	s := newStore(t, primary, NewMemoryBackend())

	assert.False(t, s.SetOnline(false))

	require.NoError(t, s.StoreMessages(ctx, "general", testMessages("general")))

	// Nothing reaches the message table while offline.
	got, err := primary.RoomMessages(ctx, "general")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, s.Status(ctx).Pending)

	// The offline-to-online edge is reported exactly once.
	assert.True(t, s.SetOnline(true))
	assert.False(t, s.SetOnline(true))

	require.NoError(t, s.SyncPending(ctx))

	got, err = primary.RoomMessages(ctx, "general")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 0, s.Status(ctx).Pending)
}

func TestStorePendingOpDroppedAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	primary := flakyWrites{openSQLite(t)}
	s := newStore(t, primary, NewMemoryBackend())

	s.SetOnline(false)
	require.NoError(t, s.StoreMessages(ctx, "general", testMessages("general")))
	s.SetOnline(true)

	for i := 1; i < maxOpRetries; i++ {
		require.NoError(t, s.SyncPending(ctx))
		assert.Equal(t, 1, s.Status(ctx).Pending, "op must survive failed pass %d", i)
	}
	require.NoError(t, s.SyncPending(ctx))
	assert.Equal(t, 0, s.Status(ctx).Pending, "op must be dropped for good after the last retry")
}

func TestStoreRepairsBeforeWriting(t *testing.T) {
	ctx := context.Background()
	primary := openSQLite(t)
	s := newStore(t, primary, NewMemoryBackend())

	require.NoError(t, s.StoreMessages(ctx, "general", []*models.Message{
		{UserID: "u1", Content: "no id, no room"},    // repairable
		{ID: "01X", RoomID: "general", UserID: "u1"}, // no content, dropped
		nil,
	}))

	got, err := primary.RoomMessages(ctx, "general")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, "general", got[0].RoomID)
	assert.NotZero(t, got[0].CreatedAt)
}

func TestRepairMessages(t *testing.T) {
	in := []*models.Message{
		nil,
		{UserID: "u1", Content: "needs id and room"},
		{RoomID: "other", UserID: "u1", Content: "keeps its room", ID: "01A", CreatedAt: 500},
		{RoomID: "general", Content: "no sender"},
	}
	out := RepairMessages("general", in)

	require.Len(t, out, 2)
	assert.NotEmpty(t, out[0].ID)
	assert.Equal(t, "general", out[0].RoomID)
	assert.Equal(t, "other", out[1].RoomID)
	assert.Equal(t, "01A", out[1].ID)
}

func TestRepairRooms(t *testing.T) {
	out := RepairRooms([]models.Room{
		{Name: "General"},
		{ID: "r2"}, // no name, dropped
	})
	require.Len(t, out, 1)
	assert.NotEmpty(t, out[0].ID)
	assert.NotZero(t, out[0].CreatedAt)
}

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	_, err := b.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Set(ctx, "k", []byte("v")))
	v, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	// Mutating a returned slice must not touch the stored copy.
	v[0] = 'x'
	v2, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v2)

	require.NoError(t, b.Delete(ctx, "k"))
	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}
