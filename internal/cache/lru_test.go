package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestLRUCacheExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[[]int](4, time.Minute).WithClock(clock.now)

	c.Set("all", []int{1, 2})
	got, ok := c.Get("all")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, got)

	clock.advance(2 * time.Minute)
	_, ok = c.Get("all")
	assert.False(t, ok)
	assert.Zero(t, c.Size())
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[string](2, time.Hour)
	c.Set("a", "1")
	c.Set("b", "2")
	_, _ = c.Get("a")
	c.Set("c", "3")

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())
}

func TestLRUCacheDeleteAndPurge(t *testing.T) {
	c := NewLRUCache[int](10, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Purge()
	assert.Zero(t, c.Size())
	c.Set("c", 3)
	assert.Equal(t, 1, c.Size())
}

func TestManagerCleanNow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	short := NewLRUCache[int](10, time.Second).WithClock(clock.now)
	long := NewLRUCache[int](10, time.Hour).WithClock(clock.now)
	short.Set("x", 1)
	short.Set("y", 2)
	long.Set("z", 3)

	m := NewManager()
	m.Register(short)
	m.Register(long)

	clock.advance(time.Minute)
	assert.Equal(t, 2, m.CleanNow())
	assert.Equal(t, 1, long.Size())
}

func TestManagerStopIsIdempotent(t *testing.T) {
	m := NewManager()
	m.StartCleanup(10 * time.Millisecond)
	m.Stop()
	m.Stop()
}
