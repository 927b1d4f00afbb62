// Package dedup recognizes messages that arrive more than once over
// overlapping network paths. Ids catch exact repeats; content fingerprints
// catch the same text resent under a different generated id, such as an
// optimistic send racing its server echo.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/eldtechnologies/chatcache/internal/models"
)

const (
	// nearWindowMillis bounds how far apart two creations can be and still
	// count as the same send.
	nearWindowMillis = 5000

	// maxFingerprintsPerRoom caps retained fingerprints per room; oldest by
	// timestamp are evicted beyond it.
	maxFingerprintsPerRoom = 1000
)

// Deduplicator tracks fingerprints of retained messages and a queue of
// pending deltas per room. Safe for concurrent use.
type Deduplicator struct {
	mu      sync.Mutex
	byID    map[string]*models.Fingerprint   // message id -> fingerprint
	byRoom  map[string][]*models.Fingerprint // room id -> fingerprints
	pending map[string]map[string]*models.Delta
}

// New creates an empty Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{
		byID:    make(map[string]*models.Fingerprint),
		byRoom:  make(map[string][]*models.Fingerprint),
		pending: make(map[string]map[string]*models.Delta),
	}
}

// ContentHash hashes content together with user and room. Creation time is
// deliberately excluded so the near-duplicate window can match a resend that
// carries a slightly later timestamp.
func ContentHash(m *models.Message) string {
	h := sha256.New()
	h.Write([]byte(m.Content))
	h.Write([]byte{0})
	h.Write([]byte(m.UserID))
	h.Write([]byte{0})
	h.Write([]byte(m.RoomID))
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint derives the retained fingerprint for a message.
func Fingerprint(m *models.Message) models.Fingerprint {
	return models.Fingerprint{
		MessageID:   m.ID,
		ContentHash: ContentHash(m),
		Timestamp:   m.CreatedAt,
		UserID:      m.UserID,
		RoomID:      m.RoomID,
	}
}

// IsDuplicate reports whether the message has been seen before: either its id
// has a stored fingerprint, or the same room+user produced the same content
// within the near-duplicate window.
func (d *Deduplicator) IsDuplicate(m *models.Message) bool {
	if m == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byID[m.ID]; ok && m.ID != "" {
		return true
	}
	hash := ContentHash(m)
	for _, fp := range d.byRoom[m.RoomID] {
		if fp.UserID != m.UserID || fp.ContentHash != hash {
			continue
		}
		if absDiff(fp.Timestamp, m.CreatedAt) <= nearWindowMillis {
			return true
		}
	}
	return false
}

// AddFingerprint registers a message's fingerprint, evicting the oldest in
// the room past the per-room cap.
func (d *Deduplicator) AddFingerprint(m *models.Message) {
	if m == nil || m.ID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byID[m.ID]; ok {
		return
	}
	fp := Fingerprint(m)
	d.byID[m.ID] = &fp
	d.byRoom[m.RoomID] = append(d.byRoom[m.RoomID], &fp)
	d.enforceCap(m.RoomID)
}

// RemoveFingerprint drops a message's fingerprint from both indexes.
func (d *Deduplicator) RemoveFingerprint(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fp, ok := d.byID[id]
	if !ok {
		return
	}
	delete(d.byID, id)
	room := d.byRoom[fp.RoomID]
	for i, other := range room {
		if other.MessageID == id {
			d.byRoom[fp.RoomID] = append(room[:i], room[i+1:]...)
			break
		}
	}
	if len(d.byRoom[fp.RoomID]) == 0 {
		delete(d.byRoom, fp.RoomID)
	}
}

// FingerprintCount returns the number of retained fingerprints for a room.
func (d *Deduplicator) FingerprintCount(roomID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byRoom[roomID])
}

// DeduplicateMessages performs an offline batch pass: exact id repeats are
// dropped, and for content repeats within the same room+user the earlier
// creation survives.
func (d *Deduplicator) DeduplicateMessages(msgs []*models.Message) []*models.Message {
	seenID := make(map[string]bool, len(msgs))
	earliest := make(map[string]*models.Message, len(msgs))

	ordered := make([]*models.Message, len(msgs))
	copy(ordered, msgs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt < ordered[j].CreatedAt
	})

	keep := make(map[string]bool, len(msgs))
	for _, m := range ordered {
		if m == nil || (m.ID != "" && seenID[m.ID]) {
			continue
		}
		if m.ID != "" {
			seenID[m.ID] = true
		}
		hash := ContentHash(m)
		if _, ok := earliest[hash]; ok {
			continue
		}
		earliest[hash] = m
		keep[m.ID] = true
	}

	out := make([]*models.Message, 0, len(keep))
	for _, m := range msgs {
		if m != nil && keep[m.ID] {
			out = append(out, m)
			keep[m.ID] = false // keep only the first occurrence
		}
	}
	return out
}

// Clear drops all fingerprints and pending deltas.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID = make(map[string]*models.Fingerprint)
	d.byRoom = make(map[string][]*models.Fingerprint)
	d.pending = make(map[string]map[string]*models.Delta)
}

// enforceCap trims the room to the newest fingerprints. Caller holds the lock.
func (d *Deduplicator) enforceCap(roomID string) {
	room := d.byRoom[roomID]
	if len(room) <= maxFingerprintsPerRoom {
		return
	}
	sort.Slice(room, func(i, j int) bool { return room[i].Timestamp > room[j].Timestamp })
	for _, evicted := range room[maxFingerprintsPerRoom:] {
		delete(d.byID, evicted.MessageID)
	}
	d.byRoom[roomID] = room[:maxFingerprintsPerRoom]
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
