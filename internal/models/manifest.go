package models

// Fingerprint identifies the logical content of one retained message.
// ContentHash covers content, user and room so the same text resent under a
// different generated id still collides.
type Fingerprint struct {
	MessageID   string `json:"message_id"`
	ContentHash string `json:"hash"`
	Timestamp   int64  `json:"ts"` // message CreatedAt, Unix ms
	UserID      string `json:"from"`
	RoomID      string `json:"room_id"`
}

// SyncManifest is a compact summary of a room's message set, used to decide
// how much synchronization work is needed. It never carries message content.
type SyncManifest struct {
	RoomID       string        `json:"room_id"`
	LastSync     int64         `json:"last_sync"` // Unix ms
	MessageCount int           `json:"count"`
	LatestID     string        `json:"latest_id"`
	Fingerprints []Fingerprint `json:"fingerprints"`
}
