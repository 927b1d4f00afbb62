package dedup

import (
	"sort"
	"time"

	"github.com/eldtechnologies/chatcache/internal/models"
)

// CreateDelta builds a pending delta record for one message change.
func CreateDelta(kind models.DeltaKind, m *models.Message, changes *models.MessageChanges) models.Delta {
	delta := models.Delta{
		Kind:      kind,
		Timestamp: time.Now().UnixMilli(),
	}
	switch kind {
	case models.DeltaAdd:
		delta.Message = m.Clone()
		delta.MessageID = m.ID
	case models.DeltaUpdate:
		delta.Changes = changes
		if m != nil {
			delta.MessageID = m.ID
		}
	case models.DeltaDelete:
		if m != nil {
			delta.MessageID = m.ID
		}
	}
	return delta
}

// QueueDelta records a pending delta for a room, collapsing it with any delta
// already pending for the same message: two updates merge their change-sets
// with the newer timestamp, any other combination is replaced outright (a
// delete after an update discards the update).
func (d *Deduplicator) QueueDelta(roomID string, delta models.Delta) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room := d.pending[roomID]
	if room == nil {
		room = make(map[string]*models.Delta)
		d.pending[roomID] = room
	}

	existing, ok := room[delta.MessageID]
	if ok && existing.Kind == models.DeltaUpdate && delta.Kind == models.DeltaUpdate {
		if existing.Changes == nil {
			existing.Changes = &models.MessageChanges{}
		}
		existing.Changes.Merge(delta.Changes)
		if delta.Timestamp > existing.Timestamp {
			existing.Timestamp = delta.Timestamp
		}
		return
	}
	room[delta.MessageID] = &delta
}

// PendingDeltas returns the room's pending deltas ordered by timestamp,
// without draining them.
func (d *Deduplicator) PendingDeltas(roomID string) []models.Delta {
	d.mu.Lock()
	defer d.mu.Unlock()

	room := d.pending[roomID]
	out := make([]models.Delta, 0, len(room))
	for _, delta := range room {
		out = append(out, *delta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// DrainDeltas returns and clears the room's pending deltas.
func (d *Deduplicator) DrainDeltas(roomID string) []models.Delta {
	out := d.PendingDeltas(roomID)
	d.mu.Lock()
	delete(d.pending, roomID)
	d.mu.Unlock()
	return out
}
