package models

// Message represents a chat message mirrored from the remote backend.
type Message struct {
	ID        string         `json:"id"` // ULID
	RoomID    string         `json:"room_id"`
	UserID    string         `json:"from"` // User UUID
	Content   string         `json:"content"`
	CreatedAt int64          `json:"ts"`                  // Unix ms
	EditedAt  int64          `json:"edited_ts,omitempty"` // Unix ms, zero when never edited
	ReplyToID string         `json:"reply_to,omitempty"`  // For threading
	Reactions map[string]int `json:"reactions,omitempty"` // emoji -> count
}

// Valid reports whether the message carries the fields required for storage.
// A missing ID is repairable and does not make a message invalid.
func (m *Message) Valid() bool {
	return m != nil && m.RoomID != "" && m.UserID != "" && m.Content != ""
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Reactions != nil {
		c.Reactions = make(map[string]int, len(m.Reactions))
		for k, v := range m.Reactions {
			c.Reactions[k] = v
		}
	}
	return &c
}

// MessageChanges describes a partial update to a message.
// Nil fields are left untouched when the change-set is applied.
type MessageChanges struct {
	Content   *string        `json:"content,omitempty"`
	EditedAt  *int64         `json:"edited_ts,omitempty"`
	Reactions map[string]int `json:"reactions,omitempty"`
}

// Apply merges the change-set into msg.
func (c *MessageChanges) Apply(msg *Message) {
	if c == nil || msg == nil {
		return
	}
	if c.Content != nil {
		msg.Content = *c.Content
	}
	if c.EditedAt != nil {
		msg.EditedAt = *c.EditedAt
	}
	if c.Reactions != nil {
		msg.Reactions = c.Reactions
	}
}

// Merge folds newer on top of c, field by field. Newer values win.
func (c *MessageChanges) Merge(newer *MessageChanges) {
	if c == nil || newer == nil {
		return
	}
	if newer.Content != nil {
		c.Content = newer.Content
	}
	if newer.EditedAt != nil {
		c.EditedAt = newer.EditedAt
	}
	if newer.Reactions != nil {
		c.Reactions = newer.Reactions
	}
}
