package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_BasicGetPut(t *testing.T) {
	c := NewLRU[string, bool](10, 5*time.Minute)

	c.Put("aave-v3:base", true)
	c.Put("kamino:solana", false)

	v, ok := c.Get("aave-v3:base")
	require.True(t, ok)
	assert.True(t, v)

	v, ok = c.Get("kamino:solana")
	require.True(t, ok)
	assert.False(t, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU[string, int](3, 5*time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch "a" so "b" becomes the eviction candidate.
	c.Get("a")
	c.Put("d", 4)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 3, c.Len())
}

func TestLRU_ZeroCapacityHoldsOne(t *testing.T) {
	c := NewLRU[string, int](0, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)

	assert.Equal(t, 1, c.Len())
	v, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLRU_TTLExpiration(t *testing.T) {
	c := NewLRU[string, bool](10, 5*time.Minute)

	now := time.Now()
	c.nowFn = func() time.Time { return now }
	c.Put("a", true)

	_, ok := c.Get("a")
	assert.True(t, ok)

	c.nowFn = func() time.Time { return now.Add(5 * time.Minute) }
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should expire at its deadline")
	assert.Equal(t, 0, c.Len())
}

func TestLRU_UpdateExistingRefreshesTTL(t *testing.T) {
	c := NewLRU[string, int](10, time.Minute)

	now := time.Now()
	c.nowFn = func() time.Time { return now }
	c.Put("a", 1)

	c.nowFn = func() time.Time { return now.Add(50 * time.Second) }
	c.Put("a", 2)

	c.nowFn = func() time.Time { return now.Add(90 * time.Second) }
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestLRU_RemoveAndPurge(t *testing.T) {
	c := NewLRU[string, int](10, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)

	c.Remove("a")
	c.Remove("never-there")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestLRU_GetOrLoad(t *testing.T) {
	c := NewLRU[string, bool](10, time.Minute)

	calls := 0
	load := func() (bool, error) {
		calls++
		return true, nil
	}

	v, err := c.GetOrLoad("k", load)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = c.GetOrLoad("k", load)
	require.NoError(t, err)
	assert.True(t, v)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err = c.GetOrLoad("other", func() (bool, error) { return false, boom })
	require.ErrorIs(t, err, boom)
	_, ok := c.Get("other")
	assert.False(t, ok, "failed loads are not cached")
}

func TestLRU_Stats(t *testing.T) {
	c := NewLRU[string, bool](10, 5*time.Minute)

	c.Put("a", true)
	c.Get("a")
	c.Get("a")
	c.Get("miss")

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}
