// Package orchestrator is the public façade of the cache layer. Reads walk
// memory, then durable storage, then report a miss; the caller owns fetching
// from the remote backend and feeding the result back in. Writes fan out to
// deduplication, the memory tier, durable storage and behavior tracking.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatcache/internal/cache"
	"github.com/eldtechnologies/chatcache/internal/dedup"
	"github.com/eldtechnologies/chatcache/internal/metrics"
	"github.com/eldtechnologies/chatcache/internal/models"
	"github.com/eldtechnologies/chatcache/internal/persist"
	"github.com/eldtechnologies/chatcache/internal/preload"
	"github.com/eldtechnologies/chatcache/internal/ticker"
)

// ErrInvalidMessage rejects a write whose record is missing required fields.
var ErrInvalidMessage = errors.New("orchestrator: message missing required fields")

// behaviorMetaKey is where the tracked usage pattern lives in durable
// metadata, so prediction quality survives a restart.
const behaviorMetaKey = "behavior_pattern"

// WriteOptions tune the write fan-out. DefaultWriteOptions enables the full
// pipeline.
type WriteOptions struct {
	Dedupe        bool
	Persist       bool
	TrackBehavior bool
}

// DefaultWriteOptions enables deduplication, persistence and behavior
// tracking.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{Dedupe: true, Persist: true, TrackBehavior: true}
}

// Config bounds the orchestrator's maintenance behavior.
type Config struct {
	MessageTTL      time.Duration // durable messages older than this expire
	CleanupInterval time.Duration
	MetricsInterval time.Duration
	WarmRooms       int // rooms loaded into memory on WarmUp
}

// Orchestrator composes the memory tier, deduplicator, durable store and
// preload engine behind one API. Construct once at application start and
// pass by reference; there is no package-level instance.
type Orchestrator struct {
	log     zerolog.Logger
	store   *cache.MessageStore
	dedup   *dedup.Deduplicator
	persist *persist.Store
	preload *preload.Preloader
	cfg     Config

	hits        atomic.Uint64
	offlineHits atomic.Uint64
	misses      atomic.Uint64

	cleanupTicker *ticker.Ticker
	metricsTicker *ticker.Ticker
	cancelWorkers context.CancelFunc
}

// New wires an Orchestrator from its parts.
func New(log zerolog.Logger, store *cache.MessageStore, dd *dedup.Deduplicator,
	ps *persist.Store, preloadCfg preload.Config, cfg Config) *Orchestrator {

	if cfg.MessageTTL <= 0 {
		cfg.MessageTTL = 7 * 24 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = 30 * time.Second
	}
	if cfg.WarmRooms <= 0 {
		cfg.WarmRooms = 3
	}

	o := &Orchestrator{
		log:     log.With().Str("component", "orchestrator").Logger(),
		store:   store,
		dedup:   dd,
		persist: ps,
		cfg:     cfg,
	}
	o.preload = preload.New(log, preloadCfg, store.HasRoom, o.warmRoom)
	o.cleanupTicker = ticker.New(cfg.CleanupInterval, func(ctx context.Context) {
		if err := o.Optimize(ctx); err != nil {
			o.log.Warn().Err(err).Msg("maintenance cycle failed")
		}
	})
	o.metricsTicker = ticker.New(cfg.MetricsInterval, func(ctx context.Context) {
		m := o.Metrics(ctx)
		o.log.Debug().
			Uint64("hits", m.Hits).
			Uint64("offline_hits", m.OfflineHits).
			Uint64("misses", m.Misses).
			Float64("hit_rate", m.HitRate).
			Int("memory_entries", m.Memory.Messages.Entries).
			Msg("cache metrics")
	})
	return o
}

// Start launches background maintenance and the preload worker.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancelWorkers = context.WithCancel(ctx)
	o.cleanupTicker.Start(ctx)
	o.metricsTicker.Start(ctx)
	go o.preload.Run(ctx)
}

// Stop halts background work. In-flight preload jobs finish on their own.
func (o *Orchestrator) Stop() {
	if o.cancelWorkers != nil {
		o.cancelWorkers()
	}
	o.cleanupTicker.Stop()
	o.metricsTicker.Stop()
}

// GetMessages returns a room's messages from the fastest tier that has them:
// memory, then durable storage. A durable hit re-populates memory. On a full
// miss it returns an empty list; the caller fetches remotely and calls
// CacheMessages with the result.
func (o *Orchestrator) GetMessages(ctx context.Context, roomID string) ([]*models.Message, error) {
	if msgs, ok := o.store.RoomMessages(roomID); ok {
		o.hits.Add(1)
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		o.preload.Tracker.TrackVisit(roomID)
		return msgs, nil
	}

	msgs, err := o.persist.RoomMessages(ctx, roomID)
	if err == nil && len(msgs) > 0 {
		o.offlineHits.Add(1)
		metrics.CacheLookups.WithLabelValues("offline_hit").Inc()
		o.store.CacheRoomMessages(roomID, msgs)
		o.preload.Tracker.TrackVisit(roomID)
		cached, _ := o.store.RoomMessages(roomID)
		return cached, nil
	}

	o.misses.Add(1)
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	return nil, err
}

// CacheMessages ingests a batch for a room: validate, deduplicate, cache in
// memory, persist, update behavior. Returns the surviving list so callers can
// reconcile local state. A durable-tier failure is advisory; the memory tier
// is already populated when it is reported.
func (o *Orchestrator) CacheMessages(ctx context.Context, roomID string, msgs []*models.Message, opts WriteOptions) ([]*models.Message, error) {
	clean := persist.RepairMessages(roomID, msgs)
	if opts.Dedupe {
		clean = o.dedup.DeduplicateMessages(clean)
		for _, m := range clean {
			o.dedup.AddFingerprint(m)
		}
	}
	if len(clean) == 0 {
		return nil, nil
	}

	o.store.CacheRoomMessages(roomID, clean)
	metrics.MessagesCached.Add(float64(len(clean)))

	var err error
	if opts.Persist {
		err = o.persist.StoreMessages(ctx, roomID, clean)
	}
	if opts.TrackBehavior {
		o.preload.Tracker.TrackVisit(roomID)
	}
	return clean, err
}

// CacheMessage handles a single real-time arrival. Returns false with no side
// effects when the deduplicator has seen it before; duplicates are expected
// traffic, not errors.
func (o *Orchestrator) CacheMessage(ctx context.Context, msg *models.Message, opts WriteOptions) (bool, error) {
	repaired := persist.RepairMessages("", []*models.Message{msg})
	if len(repaired) == 0 {
		return false, ErrInvalidMessage
	}
	m := repaired[0]

	if opts.Dedupe && o.dedup.IsDuplicate(m) {
		metrics.DuplicatesRejected.Inc()
		return false, nil
	}

	o.store.CacheMessage(m)
	metrics.MessagesCached.Inc()
	o.dedup.AddFingerprint(m)
	o.dedup.QueueDelta(m.RoomID, dedup.CreateDelta(models.DeltaAdd, m, nil))

	var err error
	if opts.Persist {
		err = o.persist.StoreMessages(ctx, m.RoomID, []*models.Message{m})
	}
	if opts.TrackBehavior {
		o.preload.Tracker.TrackVisit(m.RoomID)
	}
	return true, err
}

// RemoveMessage fans a deletion out to every tier.
func (o *Orchestrator) RemoveMessage(ctx context.Context, id, roomID string) error {
	o.store.RemoveMessage(id, roomID)
	o.dedup.RemoveFingerprint(id)
	o.dedup.QueueDelta(roomID, dedup.CreateDelta(models.DeltaDelete, &models.Message{ID: id, RoomID: roomID}, nil))
	return o.persist.DeleteMessage(ctx, id, roomID)
}

// UpdateMessage fans a change-set out to every tier. The update delta is only
// queued when the room is known; a delta filed under no room would never be
// drained.
func (o *Orchestrator) UpdateMessage(ctx context.Context, id string, changes *models.MessageChanges) error {
	updated := o.store.UpdateMessage(id, changes)
	if m, ok := o.store.Message(id); ok {
		o.dedup.QueueDelta(m.RoomID, dedup.CreateDelta(models.DeltaUpdate, &models.Message{ID: id, RoomID: m.RoomID}, changes))
	}

	err := o.persist.UpdateMessage(ctx, id, changes)
	if err != nil && !updated {
		return err
	}
	return nil
}

// CacheRooms caches a user's room list in memory and durably.
func (o *Orchestrator) CacheRooms(ctx context.Context, userID string, rooms []models.Room) error {
	clean := persist.RepairRooms(rooms)
	o.store.CacheRooms(userID, clean)
	return o.persist.StoreRooms(ctx, userID, clean)
}

// Rooms returns a user's room list, memory first, durable second.
func (o *Orchestrator) Rooms(ctx context.Context, userID string) ([]models.Room, error) {
	if rooms, ok := o.store.Rooms(userID); ok {
		o.hits.Add(1)
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return rooms, nil
	}
	rooms, err := o.persist.Rooms(ctx, userID)
	if err == nil && len(rooms) > 0 {
		o.offlineHits.Add(1)
		metrics.CacheLookups.WithLabelValues("offline_hit").Inc()
		o.store.CacheRooms(userID, rooms)
		return rooms, nil
	}
	o.misses.Add(1)
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	return nil, err
}

// SyncPlan compares the room's local state against a remote manifest and
// reports what to fetch, or that a full resync is cheaper.
func (o *Orchestrator) SyncPlan(roomID string, remote models.SyncManifest) dedup.ManifestDiff {
	msgs, _ := o.store.RoomMessages(roomID)
	local := dedup.GenerateManifest(roomID, msgs)
	return dedup.CompareManifests(local, remote)
}

// TrackReading forwards a reading-speed sample to the behavior tracker.
func (o *Orchestrator) TrackReading(count int, elapsed time.Duration) {
	o.preload.Tracker.TrackReading(count, elapsed)
}

// PlanPreloads scores candidate rooms and queues warm-up jobs for the best.
func (o *Orchestrator) PlanPreloads(cands []preload.Candidate) int {
	return o.preload.Plan(cands)
}

// SetOnline records a connectivity transition; the offline-to-online edge
// replays queued durable writes in the background.
func (o *Orchestrator) SetOnline(ctx context.Context, online bool) {
	if o.persist.SetOnline(online) {
		// The replay must outlive the request that reported the transition;
		// a cancelled caller would otherwise burn replay retries.
		ctx := context.WithoutCancel(ctx)
		go func() {
			if err := o.persist.SyncPending(ctx); err != nil {
				o.log.Warn().Err(err).Msg("pending sync failed")
			}
		}()
	}
}

// WarmUp restores the tracked behavior pattern and loads the most recently
// active rooms from durable storage into memory. Run once at startup.
func (o *Orchestrator) WarmUp(ctx context.Context) error {
	if v, err := o.persist.Meta(ctx, behaviorMetaKey); err == nil {
		var pattern models.BehaviorPattern
		if err := json.Unmarshal([]byte(v), &pattern); err == nil {
			o.preload.Tracker.Restore(pattern)
		}
	}

	rooms, err := o.persist.RecentRooms(ctx, o.cfg.WarmRooms)
	if err != nil {
		return err
	}
	for _, roomID := range rooms {
		if err := o.warmRoom(ctx, roomID); err != nil {
			o.log.Warn().Err(err).Str("room_id", roomID).Msg("warm-up skipped room")
		}
	}
	o.log.Info().Int("rooms", len(rooms)).Msg("cache warmed")
	return nil
}

// warmRoom loads one room from durable storage into memory. Already-warm
// rooms are left alone.
func (o *Orchestrator) warmRoom(ctx context.Context, roomID string) error {
	if o.store.HasRoom(roomID) {
		metrics.PreloadJobs.WithLabelValues("skipped_warm").Inc()
		return nil
	}
	msgs, err := o.persist.RoomMessages(ctx, roomID)
	if err != nil {
		return err
	}
	if len(msgs) > 0 {
		o.store.CacheRoomMessages(roomID, msgs)
		for _, m := range msgs {
			o.dedup.AddFingerprint(m)
		}
	}
	return nil
}

// Optimize expires durable messages past their TTL. Best-effort maintenance,
// not correctness-critical.
func (o *Orchestrator) Optimize(ctx context.Context) error {
	cutoff := time.Now().Add(-o.cfg.MessageTTL).UnixMilli()
	expired, err := o.persist.ExpireMessages(ctx, cutoff)
	if err != nil {
		return err
	}
	if expired > 0 {
		metrics.MessagesExpired.Add(float64(expired))
		o.log.Info().Int64("expired", expired).Msg("durable messages expired")
	}

	// Checkpoint the behavior pattern alongside cleanup; losing it only costs
	// prediction quality, so failures are logged and swallowed.
	if data, merr := json.Marshal(o.preload.Tracker.Pattern()); merr == nil {
		if serr := o.persist.SetMeta(ctx, behaviorMetaKey, string(data)); serr != nil {
			o.log.Warn().Err(serr).Msg("behavior checkpoint failed")
		}
	}
	return nil
}

// DeepClean runs Optimize and additionally drops the memory tier so it
// repopulates from durable storage with fresh access bookkeeping.
func (o *Orchestrator) DeepClean(ctx context.Context) error {
	err := o.Optimize(ctx)
	o.store.Clear()
	if werr := o.WarmUp(ctx); werr != nil && err == nil {
		err = werr
	}
	return err
}

// ClearAll empties the memory tier, fingerprints, pending deltas and the
// preload queue, and resets the orchestrator counters. Durable storage is
// untouched; wiping it is the explicit ResetDurable operation.
func (o *Orchestrator) ClearAll() {
	o.store.Clear()
	o.dedup.Clear()
	o.preload.Queue.Clear()
	o.hits.Store(0)
	o.offlineHits.Store(0)
	o.misses.Store(0)
}

// ResetDurable wipes and recreates durable storage. Opt-in data loss.
func (o *Orchestrator) ResetDurable(ctx context.Context) error {
	return o.persist.Reset(ctx)
}

// Metrics is an aggregated snapshot across tiers.
type Metrics struct {
	Memory       cache.StoreStats   `json:"memory"`
	Hits         uint64             `json:"hits"`
	OfflineHits  uint64             `json:"offline_hits"`
	Misses       uint64             `json:"misses"`
	HitRate      float64            `json:"hit_rate"`
	PreloadQueue int                `json:"preload_queue"`
	Sync         persist.SyncStatus `json:"sync"`
}

// Metrics aggregates sub-cache stats with the orchestrator counters and sync
// state. Before the orchestrator has seen traffic it reports the memory tier's
// own rate, so a freshly warmed cache does not read as all-zero.
func (o *Orchestrator) Metrics(ctx context.Context) Metrics {
	m := Metrics{
		Memory:       o.store.Stats(),
		Hits:         o.hits.Load(),
		OfflineHits:  o.offlineHits.Load(),
		Misses:       o.misses.Load(),
		PreloadQueue: o.preload.Queue.Len(),
		Sync:         o.persist.Status(ctx),
	}
	total := m.Hits + m.OfflineHits + m.Misses
	if total > 0 {
		m.HitRate = float64(m.Hits+m.OfflineHits) / float64(total)
	} else {
		m.HitRate = m.Memory.Rooms.HitRate
	}
	return m
}

// Status reports connectivity and pending-queue state.
func (o *Orchestrator) Status(ctx context.Context) persist.SyncStatus {
	return o.persist.Status(ctx)
}

// TriggerMaintenance runs one cleanup cycle immediately.
func (o *Orchestrator) TriggerMaintenance() {
	o.cleanupTicker.TriggerNow()
}
