package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvictionByEntryCount(t *testing.T) {
	c := New[string, string](Config{MaxEntries: 2})

	c.Set("k1", "v1")
	c.Set("k2", "v2")
	c.Set("k3", "v3")

	_, ok := c.Get("k1")
	assert.False(t, ok, "k1 should have been evicted")

	v2, ok := c.Get("k2")
	require.True(t, ok)
	assert.Equal(t, "v2", v2)

	v3, ok := c.Get("k3")
	require.True(t, ok)
	assert.Equal(t, "v3", v3)
}

func TestGetRefreshesRecency(t *testing.T) {
	c := New[string, int](Config{MaxEntries: 2})

	c.Set("k1", 1)
	c.Set("k2", 2)
	_, _ = c.Get("k1") // k2 is now coldest
	c.Set("k3", 3)

	assert.True(t, c.Has("k1"))
	assert.False(t, c.Has("k2"))
	assert.True(t, c.Has("k3"))
}

func TestEvictionByByteSize(t *testing.T) {
	// Each ~100-byte value; bound total to roughly two of them.
	c := New[string, string](Config{MaxEntries: 100, MaxBytes: 250})

	big := make([]byte, 100)
	for i := range big {
		big[i] = 'x'
	}
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), string(big))
	}

	assert.False(t, c.Has("k0"), "oldest entry should fall to the byte bound")
	assert.True(t, c.Has("k2"))
	assert.LessOrEqual(t, c.Stats().TotalBytes, int64(250))
}

func TestHasDoesNotTouchRecencyOrCounters(t *testing.T) {
	c := New[string, int](Config{MaxEntries: 2})

	c.Set("k1", 1)
	c.Set("k2", 2)
	c.Has("k1") // must not promote k1
	c.Set("k3", 3)

	assert.False(t, c.Has("k1"))
	assert.Equal(t, uint64(0), c.Stats().Hits)
	assert.Equal(t, uint64(0), c.Stats().Misses)
}

func TestStatsRates(t *testing.T) {
	c := New[string, int](Config{MaxEntries: 10})
	c.Set("a", 1)

	c.Get("a")
	c.Get("a")
	c.Get("b")
	c.Get("c")

	s := c.Stats()
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(2), s.Misses)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
	assert.InDelta(t, 0.5, s.MissRate, 1e-9)

	c.Clear()
	s = c.Stats()
	assert.Zero(t, s.Hits)
	assert.Zero(t, s.Misses)
	assert.Zero(t, s.Entries)
}

func TestSetReplacesAndAdjustsSize(t *testing.T) {
	c := New[string, string](Config{MaxEntries: 10})

	c.Set("k", "short")
	first := c.Stats().TotalBytes
	c.Set("k", "a considerably longer replacement value")
	second := c.Stats().TotalBytes

	assert.Equal(t, 1, c.Stats().Entries)
	assert.Greater(t, second, first)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "a considerably longer replacement value", v)
}

func TestCompressionRoundTrip(t *testing.T) {
	type payload struct {
		Body string `json:"body"`
	}
	c := New[string, payload](Config{MaxEntries: 10, CompressThreshold: 64})

	// Highly repetitive content compresses well past the threshold.
	body := ""
	for i := 0; i < 200; i++ {
		body += "repeat "
	}
	c.Set("big", payload{Body: body})

	got, ok := c.Get("big")
	require.True(t, ok)
	assert.Equal(t, body, got.Body)

	// The accounted size should reflect the packed form.
	assert.Less(t, c.Stats().TotalBytes, int64(len(body)))
}

func TestOnEvictObserver(t *testing.T) {
	c := New[string, int](Config{MaxEntries: 1})
	var evicted []string
	c.OnEvict = func(key string) { evicted = append(evicted, key) }

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("b") // explicit delete must not notify

	assert.Equal(t, []string{"a"}, evicted)
}

func TestKeysMostRecentFirst(t *testing.T) {
	c := New[string, int](Config{MaxEntries: 10})
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")

	assert.Equal(t, []string{"a", "b"}, c.Keys())
}
