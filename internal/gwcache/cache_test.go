package gwcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usenet-gateway/nntpgate/internal/gwclock"
)

func TestCacheGetSet(t *testing.T) {
	clock := gwclock.Fake(time.Unix(0, 0))
	cache := New[string](clock, time.Minute, 0)

	cache.Set("a", "value-a")
	value, ok := cache.Get("a")
	require.True(t, ok)
	require.Equal(t, "value-a", value)

	_, ok = cache.Get("missing")
	require.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	clock := gwclock.Fake(time.Unix(0, 0))
	cache := New[string](clock, time.Minute, 0)

	cache.Set("a", "value-a")
	clock.Advance(2 * time.Minute)

	_, ok := cache.Get("a")
	require.False(t, ok, "entry should have expired")
	require.Equal(t, 0, cache.Len())
}

func TestCacheSetTTLOverridesDefault(t *testing.T) {
	clock := gwclock.Fake(time.Unix(0, 0))
	cache := New[string](clock, time.Hour, 0)

	cache.SetTTL("a", "value-a", time.Second)
	clock.Advance(2 * time.Second)

	_, ok := cache.Get("a")
	require.False(t, ok)
}

func TestCacheLRUEviction(t *testing.T) {
	clock := gwclock.Fake(time.Unix(0, 0))
	cache := New[int](clock, time.Hour, 2)

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Get("a") // promote a to most-recently-used
	cache.Set("c", 3)

	_, ok := cache.Get("b")
	require.False(t, ok, "b should have been evicted as least recently used")

	_, ok = cache.Get("a")
	require.True(t, ok)
	_, ok = cache.Get("c")
	require.True(t, ok)
	require.Equal(t, 2, cache.Len())
}

func TestCacheDelete(t *testing.T) {
	clock := gwclock.Fake(time.Unix(0, 0))
	cache := New[string](clock, time.Minute, 0)

	cache.Set("a", "value-a")
	cache.Delete("a")

	_, ok := cache.Get("a")
	require.False(t, ok)
}
