package cache

import (
	"bytes"
	"container/list"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Config bounds a BoundedCache. Zero values fall back to the defaults.
type Config struct {
	MaxEntries        int   // entry count limit
	MaxBytes          int64 // total estimated size limit
	CompressThreshold int   // values encoding larger than this are gzip-packed; 0 disables
}

const (
	defaultMaxEntries = 1000
	defaultMaxBytes   = 32 << 20 // 32 MiB
)

// Stats is a point-in-time snapshot of cache counters.
// Hit and miss counters only reset on Clear.
type Stats struct {
	Entries    int     `json:"entries"`
	TotalBytes int64   `json:"total_bytes"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	Evictions  uint64  `json:"evictions"`
	HitRate    float64 `json:"hit_rate"`
	MissRate   float64 `json:"miss_rate"`
}

// entry is a single cached value. Exactly one of value/packed is live:
// packed holds the gzip form when the encoded value crossed the threshold.
type entry[K comparable, V any] struct {
	key        K
	value      V
	packed     []byte
	size       int64
	createdAt  time.Time
	accessedAt time.Time
}

// BoundedCache is a fixed-capacity LRU cache bounded by both entry count and
// total estimated byte size. The eviction list doubles as the recency order:
// front is most recent. Safe for concurrent use.
type BoundedCache[K comparable, V any] struct {
	mu        sync.Mutex
	cfg       Config
	evictList *list.List
	items     map[K]*list.Element

	totalBytes int64
	hits       uint64
	misses     uint64
	evictions  uint64

	// OnEvict, when set, observes capacity evictions (not Delete or Clear).
	OnEvict func(key K)
}

// New creates a BoundedCache with the given bounds.
func New[K comparable, V any](cfg Config) *BoundedCache[K, V] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	return &BoundedCache[K, V]{
		cfg:       cfg,
		evictList: list.New(),
		items:     make(map[K]*list.Element),
	}
}

// Get retrieves a value and marks it as recently used.
func (c *BoundedCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.evictList.MoveToFront(elem)
	ent := elem.Value.(*entry[K, V])
	ent.accessedAt = time.Now()

	if ent.packed != nil {
		v, err := unpack[V](ent.packed)
		if err != nil {
			// Unreadable packed entry, treat as gone.
			c.removeElement(elem)
			var zero V
			return zero, false
		}
		return v, true
	}
	return ent.value, true
}

// Set inserts or replaces a value, refreshes its recency and evicts from the
// cold end until both bounds hold again.
func (c *BoundedCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	encoded, _ := json.Marshal(value)
	size := int64(len(encoded))
	var packed []byte
	if c.cfg.CompressThreshold > 0 && len(encoded) > c.cfg.CompressThreshold {
		if p, err := pack(encoded); err == nil && len(p) < len(encoded) {
			packed = p
			size = int64(len(p))
		}
	}
	if size == 0 {
		size = 1
	}

	now := time.Now()
	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry[K, V])
		c.totalBytes += size - ent.size
		ent.value = value
		ent.packed = packed
		ent.size = size
		ent.accessedAt = now
		c.evictList.MoveToFront(elem)
	} else {
		ent := &entry[K, V]{key: key, value: value, packed: packed, size: size, createdAt: now, accessedAt: now}
		c.items[key] = c.evictList.PushFront(ent)
		c.totalBytes += size
	}

	for c.evictList.Len() > c.cfg.MaxEntries || c.totalBytes > c.cfg.MaxBytes {
		elem := c.evictList.Back()
		if elem == nil {
			break
		}
		ent := elem.Value.(*entry[K, V])
		c.removeElement(elem)
		c.evictions++
		if c.OnEvict != nil {
			c.OnEvict(ent.key)
		}
	}
}

// Delete removes a key. Returns true if it was present.
func (c *BoundedCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// Has reports presence without touching recency or the hit/miss counters.
func (c *BoundedCache[K, V]) Has(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Keys returns all cached keys, most recently used first.
func (c *BoundedCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.evictList.Len())
	for elem := c.evictList.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry[K, V]).key)
	}
	return keys
}

// Len returns the number of cached entries.
func (c *BoundedCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Clear drops all entries and resets the counters.
func (c *BoundedCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element)
	c.evictList.Init()
	c.totalBytes = 0
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// Stats returns a snapshot of the cache counters.
func (c *BoundedCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries:    c.evictList.Len(),
		TotalBytes: c.totalBytes,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
		s.MissRate = float64(c.misses) / float64(total)
	}
	return s
}

func (c *BoundedCache[K, V]) removeElement(elem *list.Element) {
	c.evictList.Remove(elem)
	ent := elem.Value.(*entry[K, V])
	c.totalBytes -= ent.size
	delete(c.items, ent.key)
}

func pack(encoded []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(encoded); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unpack[V any](packed []byte) (V, error) {
	var v V
	zr, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		return v, err
	}
	defer zr.Close()
	encoded, err := io.ReadAll(zr)
	if err != nil {
		return v, err
	}
	err = json.Unmarshal(encoded, &v)
	return v, err
}
