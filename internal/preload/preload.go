package preload

import (
	"context"

	"github.com/rs/zerolog"
)

// Config bounds the preload engine.
type Config struct {
	TopN            int   // candidates admitted per planning pass
	MessagesPerRoom int   // expected messages loaded per room
	AvgMessageBytes int64 // rough per-message cost estimate
	Queue           QueueConfig
}

// Preloader composes behavior tracking, prediction and the admission-
// controlled job queue.
type Preloader struct {
	Tracker   *Tracker
	Predictor *Predictor
	Queue     *Queue
	cfg       Config
}

// New wires a Preloader. isWarm reports whether a room is already cached in
// memory; fetch warms one room.
func New(log zerolog.Logger, cfg Config, isWarm func(roomID string) bool, fetch FetchFunc) *Preloader {
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	if cfg.MessagesPerRoom <= 0 {
		cfg.MessagesPerRoom = 50
	}
	if cfg.AvgMessageBytes <= 0 {
		cfg.AvgMessageBytes = 512
	}
	tracker := NewTracker()
	return &Preloader{
		Tracker:   tracker,
		Predictor: NewPredictor(tracker, isWarm),
		Queue:     NewQueue(log, cfg.Queue, fetch),
		cfg:       cfg,
	}
}

// Plan scores the candidates and queues preload jobs for the top-N.
// Returns how many jobs were queued.
func (p *Preloader) Plan(cands []Candidate) int {
	ranked := p.Predictor.Rank(cands, p.cfg.TopN)
	for _, r := range ranked {
		p.Queue.Enqueue(Job{
			RoomID:   r.RoomID,
			Priority: r.Score,
			EstBytes: int64(p.cfg.MessagesPerRoom) * p.cfg.AvgMessageBytes,
		})
	}
	return len(ranked)
}

// Run drains the job queue until ctx is cancelled.
func (p *Preloader) Run(ctx context.Context) {
	p.Queue.Run(ctx)
}
