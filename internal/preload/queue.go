package preload

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatcache/internal/metrics"
)

// FetchFunc warms one room, typically loading it from durable storage into
// the memory tier.
type FetchFunc func(ctx context.Context, roomID string) error

// Job is one queued preload request.
type Job struct {
	RoomID   string
	Priority float64
	EstBytes int64

	index int // heap bookkeeping
}

// Outcome of a single queue step.
type Outcome int

const (
	// Processed: a job was consumed, either run with its cost charged or
	// discarded as infeasible.
	Processed Outcome = iota
	// Deferred: the top job would blow the current window's budget.
	Deferred
	// Empty: no jobs queued.
	Empty
)

// QueueConfig bounds the admission-controlled queue.
type QueueConfig struct {
	BudgetBytesPerMinute int64         // spend allowed per tumbling window
	InterJobDelay        time.Duration // pause between dequeued jobs
}

// Queue runs preload jobs by descending priority under a tumbling one-minute
// byte budget: spend resets at each window boundary rather than decaying.
type Queue struct {
	mu          sync.Mutex
	jobs        jobHeap
	byRoom      map[string]*Job
	cfg         QueueConfig
	windowStart time.Time
	spent       int64

	fetch FetchFunc
	now   func() time.Time
	wake  chan struct{}
	log   zerolog.Logger
}

// NewQueue creates a Queue that warms rooms via fetch.
func NewQueue(log zerolog.Logger, cfg QueueConfig, fetch FetchFunc) *Queue {
	if cfg.BudgetBytesPerMinute <= 0 {
		cfg.BudgetBytesPerMinute = 512 << 10 // 512 KiB/min
	}
	if cfg.InterJobDelay <= 0 {
		cfg.InterJobDelay = 100 * time.Millisecond
	}
	q := &Queue{
		byRoom: make(map[string]*Job),
		cfg:    cfg,
		fetch:  fetch,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		log:    log.With().Str("component", "preload").Logger(),
	}
	q.windowStart = q.now()
	return q
}

// Enqueue adds a job, replacing any queued job for the same room with the
// higher of the two priorities.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	if existing, ok := q.byRoom[job.RoomID]; ok {
		if job.Priority > existing.Priority {
			existing.Priority = job.Priority
			existing.EstBytes = job.EstBytes
			heap.Fix(&q.jobs, existing.index)
		}
		q.mu.Unlock()
		return
	}
	j := job
	heap.Push(&q.jobs, &j)
	q.byRoom[j.RoomID] = &j
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Clear drops all unstarted jobs. A job already mid-flight is not cancelled.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = nil
	q.byRoom = make(map[string]*Job)
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Step attempts one job and reports what happened. Exposed so tests and
// maintenance code can drive the queue without the worker loop.
func (q *Queue) Step(ctx context.Context) Outcome {
	q.mu.Lock()
	now := q.now()
	if now.Sub(q.windowStart) >= time.Minute {
		q.windowStart = now
		q.spent = 0
	}
	if len(q.jobs) == 0 {
		q.mu.Unlock()
		return Empty
	}
	top := q.jobs[0]
	if top.EstBytes > q.cfg.BudgetBytesPerMinute {
		// No window will ever admit this job; waiting would pin it at the
		// head and starve everything behind it.
		heap.Pop(&q.jobs)
		delete(q.byRoom, top.RoomID)
		q.mu.Unlock()
		q.log.Warn().Str("room_id", top.RoomID).Int64("est_bytes", top.EstBytes).
			Msg("preload job larger than the whole window budget, dropped")
		metrics.PreloadJobs.WithLabelValues("dropped").Inc()
		return Processed
	}
	if q.spent+top.EstBytes > q.cfg.BudgetBytesPerMinute {
		q.mu.Unlock()
		metrics.PreloadJobs.WithLabelValues("deferred").Inc()
		return Deferred
	}
	heap.Pop(&q.jobs)
	delete(q.byRoom, top.RoomID)
	q.spent += top.EstBytes
	q.mu.Unlock()

	metrics.PreloadBytesSpent.Add(float64(top.EstBytes))
	if err := q.fetch(ctx, top.RoomID); err != nil {
		q.log.Warn().Err(err).Str("room_id", top.RoomID).Msg("preload fetch failed")
		metrics.PreloadJobs.WithLabelValues("failed").Inc()
		return Processed
	}
	metrics.PreloadJobs.WithLabelValues("done").Inc()
	return Processed
}

// Run drains the queue until ctx is cancelled, pausing between jobs and
// sleeping out the window when the budget is spent.
func (q *Queue) Run(ctx context.Context) {
	for {
		switch q.Step(ctx) {
		case Processed:
			if !sleepCtx(ctx, q.cfg.InterJobDelay) {
				return
			}
		case Deferred:
			if !sleepCtx(ctx, q.untilWindowReset()) {
				return
			}
		case Empty:
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
		}
	}
}

func (q *Queue) untilWindowReset() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	remaining := time.Minute - q.now().Sub(q.windowStart)
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}
	return remaining
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// jobHeap is a max-heap by priority.
type jobHeap []*Job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].Priority > h[j].Priority }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *jobHeap) Push(x any)        { j := x.(*Job); j.index = len(*h); *h = append(*h, j) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}
