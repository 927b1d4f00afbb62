package persist

import (
	"context"
	"errors"

	"github.com/eldtechnologies/chatcache/internal/models"
)

// ErrNotFound is returned by reads that matched nothing.
var ErrNotFound = errors.New("persist: not found")

// StructuredBackend is the schema-versioned primary store: messages indexed
// by room and creation time, per-user room lists, free-form metadata and the
// offline pending-operation queue. SQLiteBackend and PostgresBackend
// implement it; selection happens once at construction.
type StructuredBackend interface {
	Close() error
	Ping(ctx context.Context) error

	// Message operations
	StoreMessages(ctx context.Context, roomID string, msgs []*models.Message) error
	RoomMessages(ctx context.Context, roomID string) ([]*models.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	UpdateMessage(ctx context.Context, id string, changes *models.MessageChanges) error
	RecentRooms(ctx context.Context, limit int) ([]string, error)
	ExpireMessages(ctx context.Context, olderThan int64) (int64, error)

	// Room list operations
	StoreRooms(ctx context.Context, userID string, rooms []models.Room) error
	Rooms(ctx context.Context, userID string) ([]models.Room, error)

	// Metadata operations
	SetMeta(ctx context.Context, key, value string) error
	Meta(ctx context.Context, key string) (string, error)

	// Pending operation queue
	EnqueueOp(ctx context.Context, kind models.PendingOpKind, payload []byte) (int64, error)
	PendingOps(ctx context.Context, limit int) ([]*models.PendingOp, error)
	DeleteOp(ctx context.Context, id int64) error
	SetOpRetries(ctx context.Context, id int64, retries int) error

	// Reset wipes and recreates every collection. Explicit opt-in only;
	// schema upgrades migrate additively instead.
	Reset(ctx context.Context) error
}

// KVBackend is the simple fallback store: whole lists as opaque blobs under
// explicit keys. RedisBackend and MemoryBackend implement it.
type KVBackend interface {
	Close() error
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
