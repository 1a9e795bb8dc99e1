package onetime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func TestMemoryStore_TakeOnce(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Minute))

	val, ok, err := s.TakeIfPresent(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	for i := 0; i < 3; i++ {
		_, ok, err = s.TakeIfPresent(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("v"), 10*time.Minute))
	clock.Advance(10 * time.Minute)

	_, ok, err := s.TakeIfPresent(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, s.Put(ctx, "long", []byte("1"), time.Hour))
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, s.Sweep())
	_, ok, _ := s.TakeIfPresent(ctx, "long")
	assert.True(t, ok)
}

func TestMemoryStore_ConcurrentTake(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Minute))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := s.TakeIfPresent(ctx, "k"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestMemoryStore_GetKeepsEntry(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "lti:session:a", []byte("claims"), time.Hour))

	for i := 0; i < 2; i++ {
		val, ok, err := s.Get(ctx, "lti:session:a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("claims"), val)
	}

	clock.Advance(time.Hour)
	_, ok, err := s.Get(ctx, "lti:session:a")
	require.NoError(t, err)
	assert.False(t, ok)
}
