package models

// DeltaKind discriminates the three incremental change shapes.
type DeltaKind string

const (
	DeltaAdd    DeltaKind = "add"
	DeltaUpdate DeltaKind = "update"
	DeltaDelete DeltaKind = "delete"
)

// Delta describes a single pending change to one message.
// Message is set for adds, Changes for updates, neither for deletes.
type Delta struct {
	Kind      DeltaKind       `json:"kind"`
	MessageID string          `json:"message_id"`
	Changes   *MessageChanges `json:"changes,omitempty"`
	Message   *Message        `json:"message,omitempty"`
	Timestamp int64           `json:"ts"` // Unix ms
}
