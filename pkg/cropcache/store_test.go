package cropcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/crop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// backends returns a constructor for every Backend implementation.
func backends() map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend {
			return NewMemoryBackend()
		},
		"badger-inmemory": func(t *testing.T) Backend {
			b, err := OpenBadger("")
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })
			return b
		},
		"badger-disk": func(t *testing.T) Backend {
			b, err := OpenBadger(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })
			return b
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, store *Store, clock *fakeClock)) {
	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			store := NewStore(newBackend(t), WithClock(clock.Now))
			fn(t, store, clock)
		})
	}
}

func testCoords(x float64) crop.Coordinates {
	return crop.Coordinates{X: x, Y: 0, Width: 0.5, Height: 1, Confidence: 0.7, Strategy: crop.StrategyRuleOfThirds}
}

func record(t *testing.T, store *Store, url string, size crop.Size) Entry {
	t.Helper()
	e, err := store.Record(url, size, crop.DefaultSettings(), testCoords(0.25))
	require.NoError(t, err)
	return e
}

func TestStoreGetBumpsAccess(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store, clock *fakeClock) {
		size := crop.Size{Width: 1920, Height: 1080}
		put := record(t, store, "img://a", size)
		assert.NotEmpty(t, put.ID)
		assert.Equal(t, 1, put.AccessCount)

		_, ok, err := store.Get("missing")
		require.NoError(t, err)
		assert.False(t, ok)

		clock.Advance(time.Minute)
		got, ok, err := store.Get(put.CacheKey)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 2, got.AccessCount)
		assert.True(t, got.LastAccessedAt.Equal(clock.Now()))
		assert.Equal(t, put.Coordinates, got.Coordinates)

		// The bump was persisted, not just returned.
		got, ok, err = store.Get(put.CacheKey)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 3, got.AccessCount)
		assert.False(t, got.LastAccessedAt.Before(got.CreatedAt))

		st, err := store.Stats()
		require.NoError(t, err)
		assert.Equal(t, int64(2), st.Hits)
		assert.Equal(t, int64(1), st.Misses)
	})
}

func TestStorePutIsUpsert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store, clock *fakeClock) {
		size := crop.Size{Width: 1920, Height: 1080}
		first := record(t, store, "img://a", size)

		clock.Advance(time.Second)
		second, err := store.Record("img://a", size, crop.DefaultSettings(), testCoords(0.5))
		require.NoError(t, err)
		assert.Equal(t, first.CacheKey, second.CacheKey)

		st, err := store.Stats()
		require.NoError(t, err)
		assert.Equal(t, 1, st.TotalEntries)

		got, ok, err := store.Get(first.CacheKey)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 0.5, got.Coordinates.X)

		byImage, err := store.GetByImage("img://a")
		require.NoError(t, err)
		assert.Len(t, byImage, 1)
	})
}

func TestStoreKeysIncludeTuning(t *testing.T) {
	backend := NewMemoryBackend()
	def := crop.DefaultTuningConfig()
	tuned := def
	tuned.EntropyWeight = 0.1

	before := NewStore(backend, WithTuningFingerprint(def.Fingerprint()))
	after := NewStore(backend, WithTuningFingerprint(tuned.Fingerprint()))
	size := crop.Size{Width: 1920, Height: 1080}

	e := record(t, before, "img://a", size)
	assert.Equal(t, before.Key("img://a", size, crop.DefaultSettings()), e.CacheKey)

	_, ok, err := before.Get(e.CacheKey)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = after.Get(after.Key("img://a", size, crop.DefaultSettings()))
	require.NoError(t, err)
	assert.False(t, ok, "entries computed under other tuning must not be served")
}

func TestStoreConcurrentPutsKeepOneRow(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store, _ *fakeClock) {
		size := crop.Size{Width: 800, Height: 600}
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.Record("img://same", size, crop.DefaultSettings(), testCoords(float64(i%2)*0.5))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		entries, err := store.GetByImage("img://same")
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestStoreGetByImageOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store, clock *fakeClock) {
		a := record(t, store, "img://a", crop.Size{Width: 100, Height: 100})
		clock.Advance(time.Second)
		b := record(t, store, "img://a", crop.Size{Width: 200, Height: 100})
		clock.Advance(time.Second)
		record(t, store, "img://other", crop.Size{Width: 100, Height: 100})
		clock.Advance(time.Second)

		// Touch a so it becomes the most recently accessed.
		_, ok, err := store.Get(a.CacheKey)
		require.NoError(t, err)
		require.True(t, ok)

		entries, err := store.GetByImage("img://a")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, a.CacheKey, entries[0].CacheKey)
		assert.Equal(t, b.CacheKey, entries[1].CacheKey)
	})
}

func TestStoreDeleteExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store, clock *fakeClock) {
		ttl := 7 * 24 * time.Hour
		record(t, store, "img://a", crop.Size{Width: 100, Height: 100})

		clock.Advance(24 * time.Hour)
		n, err := store.DeleteExpired(ttl)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		clock.Advance(9 * 24 * time.Hour)
		n, err = store.DeleteExpired(ttl)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = store.DeleteExpired(-time.Second)
		assert.ErrorIs(t, err, ErrInvalidLimit)
	})
}

func TestStoreEvictLRU(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store, clock *fakeClock) {
		var keys []string
		for i := 0; i < 5; i++ {
			e := record(t, store, fmt.Sprintf("img://%d", i), crop.Size{Width: 100, Height: 100})
			keys = append(keys, e.CacheKey)
			clock.Advance(time.Minute)
		}
		// Access the oldest two so entries 2 and 3 become least recently used.
		for _, k := range []string{keys[0], keys[1]} {
			_, ok, err := store.Get(k)
			require.NoError(t, err)
			require.True(t, ok)
			clock.Advance(time.Minute)
		}

		n, err := store.EvictLRU(3)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for i, k := range keys {
			_, err := store.Backend().FindByKey(k)
			if i == 2 || i == 3 {
				assert.ErrorIs(t, err, ErrNotFound, "entry %d", i)
			} else {
				assert.NoError(t, err, "entry %d", i)
			}
		}

		n, err = store.EvictLRU(3)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestStorePerformMaintenance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store, clock *fakeClock) {
		sizes := []crop.Size{{Width: 1920, Height: 1080}, {Width: 1280, Height: 720}}
		for i := 0; i < 5; i++ {
			record(t, store, fmt.Sprintf("img://%d", i/2), sizes[i%2])
			clock.Advance(time.Second)
		}

		res := store.PerformMaintenance(7*24*time.Hour, 2)
		assert.True(t, res.Success)
		assert.Equal(t, 0, res.ExpiredDeleted)
		assert.Equal(t, 3, res.LRUEvicted)
		assert.Equal(t, 3, res.TotalDeleted)

		st, err := store.Stats()
		require.NoError(t, err)
		assert.Equal(t, 2, st.TotalEntries)
	})
}

func TestStoreInvalidateAndClear(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store, _ *fakeClock) {
		record(t, store, "img://a", crop.Size{Width: 100, Height: 100})
		record(t, store, "img://a", crop.Size{Width: 200, Height: 100})
		record(t, store, "img://b", crop.Size{Width: 100, Height: 100})

		n, err := store.InvalidateByImage("img://a")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = store.InvalidateByImage("img://a")
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = store.Clear()
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		st, err := store.Stats()
		require.NoError(t, err)
		assert.Equal(t, 0, st.TotalEntries)
		assert.True(t, st.OldestEntry.IsZero())
	})
}

func TestStoreStats(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store, clock *fakeClock) {
		first := record(t, store, "img://a", crop.Size{Width: 100, Height: 100})
		clock.Advance(time.Hour)
		last := record(t, store, "img://b", crop.Size{Width: 100, Height: 100})
		_, _, err := store.Get(first.CacheKey)
		require.NoError(t, err)

		st, err := store.Stats()
		require.NoError(t, err)
		assert.Equal(t, 2, st.TotalEntries)
		assert.Greater(t, st.TotalSizeBytes, int64(0))
		assert.InDelta(t, 1.5, st.AverageAccessCount, 1e-9)
		assert.True(t, st.OldestEntry.Equal(first.CreatedAt))
		assert.True(t, st.NewestEntry.Equal(last.CreatedAt))
	})
}

func TestStorePreloadCommonSizes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store, _ *fakeClock) {
		var calls int
		analyze := func(_ context.Context, target crop.Size) (crop.Coordinates, error) {
			calls++
			return crop.CenterCrop(crop.Size{Width: 1000, Height: 1000}, target, 0.5, crop.StrategyCenterWeighted), nil
		}

		// One size is already cached.
		record(t, store, "img://a", CommonSizes[0])

		res, err := store.PreloadCommonSizes(context.Background(), "img://a", crop.DefaultSettings(), analyze)
		require.NoError(t, err)
		assert.Equal(t, len(CommonSizes)-1, res.Computed)
		assert.Equal(t, 1, res.Skipped)
		assert.Equal(t, len(CommonSizes)-1, calls)

		res, err = store.PreloadCommonSizes(context.Background(), "img://a", crop.DefaultSettings(), analyze)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Computed)
		assert.Equal(t, len(CommonSizes), res.Skipped)

		entries, err := store.GetByImage("img://a")
		require.NoError(t, err)
		assert.Len(t, entries, len(CommonSizes))
	})
}

func TestStorePreloadFailuresAndCancel(t *testing.T) {
	store := NewStore(NewMemoryBackend(),
		WithCommonSizes([]crop.Size{{Width: 10, Height: 10}, {Width: 20, Height: 10}}),
		WithPreloadLimiter(rate.NewLimiter(rate.Inf, 1)),
	)
	analyze := func(_ context.Context, target crop.Size) (crop.Coordinates, error) {
		if target.Width == 10 {
			return crop.Coordinates{}, errors.New("decode failed")
		}
		return crop.CenterCrop(crop.Size{Width: 10, Height: 10}, target, 0.5, crop.StrategyEntropy), nil
	}
	res, err := store.PreloadCommonSizes(context.Background(), "img://x", crop.DefaultSettings(), analyze)
	require.NoError(t, err)
	assert.Equal(t, PreloadResult{Computed: 1, Failed: 1}, res)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.PreloadCommonSizes(ctx, "img://y", crop.DefaultSettings(), analyze)
	assert.ErrorIs(t, err, context.Canceled)
}
