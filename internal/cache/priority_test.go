package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityCache_BoundsHold(t *testing.T) {
	c := NewPriorityCache(10, 10_000, 0.001)

	// Insert far more than fits, with varying sizes.
	for i := 0; i < 100; i++ {
		size := int64(100 + (i%7)*400)
		c.Set(fmt.Sprintf("k%03d", i), i, size)

		s := c.Stats()
		assert.LessOrEqual(t, s.Entries, 10, "entry bound violated at insert %d", i)
		assert.LessOrEqual(t, s.CurrentBytes, int64(10_000), "byte bound violated at insert %d", i)
	}

	s := c.Stats()
	assert.GreaterOrEqual(t, s.Evictions, int64(90), "evictions grow at least linearly in the excess")
}

func TestPriorityCache_FrequentSmallEntriesSurvive(t *testing.T) {
	c := NewPriorityCache(100, 5_000, 0.001)

	c.Set("hot", "small", 100)
	for i := 0; i < 50; i++ {
		_, ok := c.Get("hot")
		assert.True(t, ok)
	}

	// Large cold entries force evictions; the hot small entry must survive.
	for i := 0; i < 20; i++ {
		c.Set(fmt.Sprintf("cold%d", i), "big", 1_000)
	}

	_, ok := c.Get("hot")
	assert.True(t, ok, "frequently accessed small entry evicted before cold large ones")
}

func TestPriorityCache_OversizeValueRejected(t *testing.T) {
	c := NewPriorityCache(10, 1_000, 0.001)
	c.Set("huge", "x", 2_000)
	_, ok := c.Get("huge")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestPriorityCache_HitMissCounters(t *testing.T) {
	c := NewPriorityCache(10, 1_000, 0.001)
	c.Set("a", 1, 10)

	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	s := c.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
}

func TestPriorityCache_DeleteFunc(t *testing.T) {
	c := NewPriorityCache(10, 1_000, 0.001)
	c.Set("repoA|x", 1, 10)
	c.Set("repoA|y", 2, 10)
	c.Set("repoB|z", 3, 10)

	removed := c.DeleteFunc(func(k string) bool { return k[:5] == "repoA" })
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())
}
