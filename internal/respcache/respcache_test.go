package respcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGetPurge(t *testing.T) {
	c := New[string](4, time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", "alpha")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "alpha", v)
	assert.Equal(t, 1, c.Len())

	c.Purge()
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestCache_Expires(t *testing.T) {
	c := New[int](2, 20*time.Millisecond)
	c.Set("a", 1)
	assert.Eventually(t, func() bool {
		_, ok := c.Get("a")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCache_ZeroSizeStoresNothing(t *testing.T) {
	c := New[int](0, time.Minute)
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	c.Purge()
}

func TestCache_Resize(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Set("a", 1)

	c.Resize(2, time.Minute)
	assert.Equal(t, 1, c.Len(), "same bounds keep entries")

	c.Resize(8, time.Minute)
	assert.Equal(t, 0, c.Len())
	c.Set("a", 1)
	assert.Equal(t, 1, c.Len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "clustered|3|2024|true", Key("clustered", "3", "2024", "true"))
}
