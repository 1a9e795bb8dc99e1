package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time { return f.t }

func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestCache_GetSet(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)}
	c := New[string](5*time.Minute, WithClock[string](clock.Now))

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("https://canvas.example", "10000000000001")
	got, ok := c.Get("https://canvas.example")
	assert.True(t, ok)
	assert.Equal(t, "10000000000001", got)
}

func TestCache_Expiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)}
	c := New[int](5*time.Minute, WithClock[int](clock.Now))

	c.Set("k", 42)
	clock.Advance(4*time.Minute + 59*time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry must expire exactly at ttl")
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := New[string](time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_ExpiredEntriesAreRemoved(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)}
	c := New[int](5*time.Minute, WithClock[int](clock.Now))

	c.Set("a", 1)
	c.Set("b", 2)
	clock.Advance(3 * time.Minute)
	c.Set("c", 3)
	clock.Advance(2 * time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len(), "expired entry dropped on read")

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	v, ok := c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}
