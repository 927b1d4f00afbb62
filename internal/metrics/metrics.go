package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcache_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcache_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcache_lookups_total",
			Help: "Cache lookups by outcome",
		},
		[]string{"outcome"}, // "hit", "offline_hit", "miss"
	)

	DuplicatesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcache_duplicates_rejected_total",
			Help: "Messages rejected as duplicates",
		},
	)

	MessagesCached = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcache_messages_cached_total",
			Help: "Messages admitted to the memory tier",
		},
	)

	// Storage metrics
	StorageFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcache_storage_fallbacks_total",
			Help: "Primary backend failures absorbed by the key-value fallback",
		},
		[]string{"op"},
	)

	PendingOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcache_pending_ops_total",
			Help: "Offline pending operations by outcome",
		},
		[]string{"outcome"}, // "queued", "replayed", "retried", "dropped"
	)

	// Preload metrics
	PreloadJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcache_preload_jobs_total",
			Help: "Preload jobs by outcome",
		},
		[]string{"outcome"}, // "done", "skipped_warm", "failed", "deferred"
	)

	PreloadBytesSpent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcache_preload_bytes_spent_total",
			Help: "Estimated bytes spent by preload jobs",
		},
	)

	// Maintenance metrics
	MessagesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcache_messages_expired_total",
			Help: "Durable messages removed by TTL cleanup",
		},
	)
)
