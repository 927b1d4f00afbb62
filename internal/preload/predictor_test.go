package preload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func predictorAt(t *testing.T, at time.Time, isWarm func(string) bool) (*Tracker, *Predictor) {
	t.Helper()
	tr := trackerAt(t, at)
	p := NewPredictor(tr, isWarm)
	p.now = func() time.Time { return at }
	return tr, p
}

func TestScoreComponents(t *testing.T) {
	at := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	tr, p := predictorAt(t, at, nil)

	// 3 visits puts the room in the preferred set and marks hour 14 active.
	tr.TrackVisit("general")
	tr.TrackVisit("general")
	tr.TrackVisit("general")

	// visits*10 + preferred 50 + active hour 20, no recency signal.
	assert.InDelta(t, 3*visitWeight+preferredBonus+activeHourBonus, p.Score(Candidate{RoomID: "general"}), 1e-9)

	// A never-visited room still earns the active-hour bonus.
	assert.InDelta(t, activeHourBonus, p.Score(Candidate{RoomID: "unknown"}), 1e-9)
}

func TestScoreRecencyDecay(t *testing.T) {
	at := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	_, p := predictorAt(t, at, nil)

	fresh := p.Score(Candidate{RoomID: "r", LastMessageAt: at.UnixMilli()})
	assert.InDelta(t, recencyBonusMax, fresh, 1e-6)

	halfway := p.Score(Candidate{RoomID: "r", LastMessageAt: at.Add(-12 * time.Hour).UnixMilli()})
	assert.InDelta(t, recencyBonusMax/2, halfway, 1e-6)

	stale := p.Score(Candidate{RoomID: "r", LastMessageAt: at.Add(-25 * time.Hour).UnixMilli()})
	assert.Zero(t, stale)
}

func TestScoreWarmRoomDeprioritized(t *testing.T) {
	at := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	warm := map[string]bool{"general": true}
	tr, p := predictorAt(t, at, func(id string) bool { return warm[id] })

	tr.TrackVisit("general")

	score := p.Score(Candidate{RoomID: "general"})
	full := 1*visitWeight + preferredBonus + activeHourBonus
	assert.InDelta(t, full*warmRoomFactor, score, 1e-9)
}

func TestRankOrdersAndTruncates(t *testing.T) {
	at := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	tr, p := predictorAt(t, at, nil)

	tr.TrackVisit("a")
	tr.TrackVisit("a")
	tr.TrackVisit("b")

	ranked := p.Rank([]Candidate{{RoomID: "b"}, {RoomID: "a"}, {RoomID: "c"}}, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].RoomID)
	assert.Equal(t, "b", ranked[1].RoomID)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestRankDropsZeroScores(t *testing.T) {
	// An hour the user has never been active in, no visits, no recency:
	// nothing to predict from.
	at := time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)
	_, p := predictorAt(t, at, nil)

	ranked := p.Rank([]Candidate{{RoomID: "a"}, {RoomID: "b"}}, 5)
	assert.Empty(t, ranked)
}
