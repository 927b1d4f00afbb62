package models

// Room represents a channel or group for messaging.
type Room struct {
	ID        string `json:"id"` // UUID
	Name      string `json:"name"`
	Code      string `json:"code"` // short join code
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt int64  `json:"created_at"` // Unix ms
}

// Valid reports whether the room carries the fields required for storage.
// A missing ID is repairable and does not make a room invalid.
func (r *Room) Valid() bool {
	return r != nil && r.Name != ""
}
