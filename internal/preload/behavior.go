// Package preload predicts which rooms the user will visit next and warms
// the memory tier for them under a rolling byte budget.
package preload

import (
	"sort"
	"sync"
	"time"

	"github.com/eldtechnologies/chatcache/internal/models"
)

const (
	// preferredRoomCount is how many top rooms the tracker keeps ranked.
	preferredRoomCount = 5

	// EWMA weights for reading speed: heavy on history to resist bursts.
	speedKeepWeight = 0.8
	speedNewWeight  = 0.2
)

// Tracker accumulates per-room usage behavior. All derived state here is
// discardable; losing it only degrades prediction quality.
type Tracker struct {
	mu      sync.Mutex
	pattern models.BehaviorPattern
	now     func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pattern: models.BehaviorPattern{
			VisitCounts: make(map[string]int),
			ActiveHours: make(map[int]bool),
		},
		now: time.Now,
	}
}

// TrackVisit records a room visit: bumps the counter, marks the current hour
// active, refreshes last-active and re-ranks the preferred rooms.
func (t *Tracker) TrackVisit(roomID string) {
	if roomID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.pattern.VisitCounts[roomID]++
	t.pattern.ActiveHours[now.Hour()] = true
	t.pattern.LastActive = now.UnixMilli()
	t.pattern.PreferredRooms = topRooms(t.pattern.VisitCounts, preferredRoomCount)
}

// TrackReading folds a reading-speed sample (messages read over elapsed time)
// into the exponential moving average.
func (t *Tracker) TrackReading(count int, elapsed time.Duration) {
	if count <= 0 || elapsed <= 0 {
		return
	}
	sample := float64(count) / elapsed.Minutes()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pattern.ReadingSpeed == 0 {
		t.pattern.ReadingSpeed = sample
		return
	}
	t.pattern.ReadingSpeed = t.pattern.ReadingSpeed*speedKeepWeight + sample*speedNewWeight
}

// Pattern returns a snapshot of the accumulated behavior.
func (t *Tracker) Pattern() models.BehaviorPattern {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.pattern
	snap.VisitCounts = make(map[string]int, len(t.pattern.VisitCounts))
	for k, v := range t.pattern.VisitCounts {
		snap.VisitCounts[k] = v
	}
	snap.ActiveHours = make(map[int]bool, len(t.pattern.ActiveHours))
	for k, v := range t.pattern.ActiveHours {
		snap.ActiveHours[k] = v
	}
	snap.PreferredRooms = append([]string(nil), t.pattern.PreferredRooms...)
	return snap
}

// Restore replaces the tracker state, used when loading persisted behavior.
func (t *Tracker) Restore(p models.BehaviorPattern) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.VisitCounts == nil {
		p.VisitCounts = make(map[string]int)
	}
	if p.ActiveHours == nil {
		p.ActiveHours = make(map[int]bool)
	}
	p.PreferredRooms = topRooms(p.VisitCounts, preferredRoomCount)
	t.pattern = p
}

// topRooms ranks room ids by visit count, tie-broken by id for determinism.
func topRooms(counts map[string]int, n int) []string {
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}
