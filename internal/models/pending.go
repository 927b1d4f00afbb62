package models

// PendingOpKind discriminates queued offline write operations.
type PendingOpKind string

const (
	OpStoreMessages PendingOpKind = "store_messages"
	OpStoreRooms    PendingOpKind = "store_rooms"
	OpDeleteMessage PendingOpKind = "delete_message"
	OpUpdateMessage PendingOpKind = "update_message"
)

// PendingOp is a durable write captured while offline, replayed on reconnect.
type PendingOp struct {
	ID        int64         `json:"id"` // assigned by storage
	Kind      PendingOpKind `json:"kind"`
	Payload   []byte        `json:"payload"` // JSON body, shape depends on Kind
	Retries   int           `json:"retries"`
	CreatedAt int64         `json:"created_at"` // Unix ms
}
