package cache

import (
	"expvar"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusmdf/core"
)

func col(vals ...float64) Column {
	return Column{Samples: core.FloatSamples(vals)}
}

func TestColumnCachePutAndGet(t *testing.T) {
	c := NewColumnCache(3)

	k1 := Key{Group: 0, Channel: 1, Cycles: 10}
	k2 := Key{Group: 0, Channel: 2, Cycles: 10}
	k3 := Key{Group: 1, Channel: 1, Cycles: 5}

	c.Put(k1, col(1))
	c.Put(k2, col(2))
	c.Put(k3, col(3))
	require.Equal(t, 3, c.Len())

	got, ok := c.Get(k2)
	require.True(t, ok)
	assert.Equal(t, []float64{2}, got.Samples.Floats)

	_, ok = c.Get(Key{Group: 9, Channel: 9})
	assert.False(t, ok)
}

func TestColumnCacheEvictsLRU(t *testing.T) {
	c := NewColumnCache(2)
	k1 := Key{Channel: 1}
	k2 := Key{Channel: 2}
	k3 := Key{Channel: 3}

	c.Put(k1, col(1))
	c.Put(k2, col(2))
	// touch k1 so k2 becomes the eviction victim
	_, ok := c.Get(k1)
	require.True(t, ok)
	c.Put(k3, col(3))

	_, ok = c.Get(k2)
	assert.False(t, ok)
	_, ok = c.Get(k1)
	assert.True(t, ok)
	_, ok = c.Get(k3)
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestColumnCacheCyclesKeyMisses(t *testing.T) {
	c := NewColumnCache(4)
	c.Put(Key{Group: 0, Channel: 1, Cycles: 10}, col(1))

	// the same channel after an extend carries a new cycle count
	_, ok := c.Get(Key{Group: 0, Channel: 1, Cycles: 12})
	assert.False(t, ok)
}

func TestColumnCacheDisabled(t *testing.T) {
	c := NewColumnCache(0)
	c.Put(Key{Channel: 1}, col(1))
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get(Key{Channel: 1})
	assert.False(t, ok)
}

func TestColumnCacheDropGroup(t *testing.T) {
	c := NewColumnCache(8)
	c.Put(Key{Group: 0, Channel: 1}, col(1))
	c.Put(Key{Group: 0, Channel: 2}, col(2))
	c.Put(Key{Group: 1, Channel: 1}, col(3))

	c.DropGroup(0)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(Key{Group: 1, Channel: 1})
	assert.True(t, ok)
}

func TestColumnCacheUpdateExisting(t *testing.T) {
	c := NewColumnCache(2)
	k := Key{Channel: 1}
	c.Put(k, col(1))
	c.Put(k, col(9))

	got, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, []float64{9}, got.Samples.Floats)
	assert.Equal(t, 1, c.Len())
}

func TestColumnCacheMetrics(t *testing.T) {
	c := NewColumnCache(2)
	hits := new(expvar.Int)
	misses := new(expvar.Int)
	c.SetMetrics(hits, misses)

	k := Key{Channel: 1}
	c.Put(k, col(1))
	c.Get(k)
	c.Get(Key{Channel: 2})
	c.Get(Key{Channel: 3})

	assert.Equal(t, int64(1), hits.Value())
	assert.Equal(t, int64(2), misses.Value())
	assert.InDelta(t, 1.0/3.0, c.HitRate(), 1e-9)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), hits.Value())
	assert.InDelta(t, 0.0, c.HitRate(), 1e-9)
}

func TestColumnCacheManyGroups(t *testing.T) {
	c := NewColumnCache(64)
	for g := 0; g < 8; g++ {
		for ch := 0; ch < 8; ch++ {
			c.Put(Key{Group: g, Channel: ch}, col(float64(g*8+ch)))
		}
	}
	require.Equal(t, 64, c.Len())
	for g := 0; g < 8; g++ {
		got, ok := c.Get(Key{Group: g, Channel: g})
		require.True(t, ok, fmt.Sprintf("group %d", g))
		assert.Equal(t, []float64{float64(g*8 + g)}, got.Samples.Floats)
	}
}
