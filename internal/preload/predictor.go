package preload

import (
	"sort"
	"time"
)

// Scoring weights. A warm room is de-prioritized, not excluded: a refresh may
// still be due.
const (
	visitWeight     = 10.0
	preferredBonus  = 50.0
	activeHourBonus = 20.0
	recencyBonusMax = 30.0
	recencyHorizon  = 24 * time.Hour
	warmRoomFactor  = 0.3
)

// Candidate is a room considered for preloading.
type Candidate struct {
	RoomID        string `json:"room_id"`
	LastMessageAt int64  `json:"last_message_at"` // Unix ms, zero when unknown
}

// ScoredRoom is a candidate with its computed priority.
type ScoredRoom struct {
	RoomID string  `json:"room_id"`
	Score  float64 `json:"score"`
}

// Predictor scores candidate rooms from tracked behavior.
type Predictor struct {
	tracker *Tracker
	isWarm  func(roomID string) bool
	now     func() time.Time
}

// NewPredictor creates a Predictor. isWarm reports whether a room is already
// cached in the memory tier.
func NewPredictor(tracker *Tracker, isWarm func(roomID string) bool) *Predictor {
	if isWarm == nil {
		isWarm = func(string) bool { return false }
	}
	return &Predictor{tracker: tracker, isWarm: isWarm, now: time.Now}
}

// Score computes a candidate's preload priority.
func (p *Predictor) Score(c Candidate) float64 {
	pattern := p.tracker.Pattern()
	now := p.now()

	score := float64(pattern.VisitCounts[c.RoomID]) * visitWeight
	for _, id := range pattern.PreferredRooms {
		if id == c.RoomID {
			score += preferredBonus
			break
		}
	}
	if pattern.ActiveHours[now.Hour()] {
		score += activeHourBonus
	}
	if c.LastMessageAt > 0 {
		age := now.Sub(time.UnixMilli(c.LastMessageAt))
		if age >= 0 && age < recencyHorizon {
			score += recencyBonusMax * (1 - age.Seconds()/recencyHorizon.Seconds())
		}
	}
	if p.isWarm(c.RoomID) {
		score *= warmRoomFactor
	}
	return score
}

// Rank returns the top-n candidates by score, highest first. Zero-scored
// rooms are dropped; there is nothing to predict from.
func (p *Predictor) Rank(cands []Candidate, n int) []ScoredRoom {
	scored := make([]ScoredRoom, 0, len(cands))
	for _, c := range cands {
		if s := p.Score(c); s > 0 {
			scored = append(scored, ScoredRoom{RoomID: c.RoomID, Score: s})
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].RoomID < scored[j].RoomID
	})
	if n > 0 && len(scored) > n {
		scored = scored[:n]
	}
	return scored
}
