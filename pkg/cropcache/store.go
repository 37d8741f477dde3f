// Package cropcache persists crop decisions keyed by image, target size and settings.
package cropcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/crop"
	"github.com/dlevesque1980/dailywallpaper-sub001/util"
	"github.com/dlevesque1980/dailywallpaper-sub001/util/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrInvalidLimit is returned for a negative entry limit or TTL.
var ErrInvalidLimit = errors.New("invalid cache limit")

// CommonSizes are the screen sizes precomputed by PreloadCommonSizes.
var CommonSizes = []crop.Size{
	{Width: 1920, Height: 1080},
	{Width: 2560, Height: 1440},
	{Width: 3840, Height: 2160},
	{Width: 1366, Height: 768},
	{Width: 1440, Height: 900},
	{Width: 3440, Height: 1440},
	{Width: 1080, Height: 1920},
	{Width: 1170, Height: 2532},
}

// gcDiscardRatio is passed to backends that support value-log garbage collection.
const gcDiscardRatio = 0.5

// Stats summarizes the cache contents.
type Stats struct {
	TotalEntries       int       `json:"total_entries"`
	TotalSizeBytes     int64     `json:"total_size_bytes"`
	AverageAccessCount float64   `json:"average_access_count"`
	OldestEntry        time.Time `json:"oldest_entry"`
	NewestEntry        time.Time `json:"newest_entry"`
	Hits               int64     `json:"hits"`
	Misses             int64     `json:"misses"`
}

// MaintenanceResult reports what one maintenance run removed.
type MaintenanceResult struct {
	ExpiredDeleted int    `json:"expired_deleted"`
	LRUEvicted     int    `json:"lru_evicted"`
	TotalDeleted   int    `json:"total_deleted"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

// PreloadResult reports the outcome of PreloadCommonSizes.
type PreloadResult struct {
	Computed int `json:"computed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// AnalyzeFunc computes the crop for one target size of an already decoded image.
type AnalyzeFunc func(ctx context.Context, target crop.Size) (crop.Coordinates, error)

// Store implements the crop cache on top of a Backend.
type Store struct {
	backend Backend
	now     func() time.Time
	limiter *rate.Limiter
	sizes   []crop.Size
	tuning  string

	writeMu sync.Mutex // serializes upserts so key lookups and inserts are atomic
	maintMu sync.Mutex // one maintenance run at a time

	hits   util.Counter
	misses util.Counter
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPreloadLimiter paces the analyses started by PreloadCommonSizes.
func WithPreloadLimiter(l *rate.Limiter) Option {
	return func(s *Store) { s.limiter = l }
}

// WithCommonSizes replaces the preload size list.
func WithCommonSizes(sizes []crop.Size) Option {
	return func(s *Store) { s.sizes = sizes }
}

// WithTuningFingerprint folds an analyzer tuning fingerprint into every key,
// so entries computed under other tuning values are never served.
func WithTuningFingerprint(fp string) Option {
	return func(s *Store) { s.tuning = fp }
}

// NewStore creates a store over backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
		sizes:   CommonSizes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying row store.
func (s *Store) Backend() Backend {
	return s.backend
}

// Key returns the cache key for one crop under this store's tuning.
func (s *Store) Key(imageURL string, target crop.Size, settings crop.Settings) string {
	return DeriveTunedKey(imageURL, target, settings, s.tuning)
}

// Get returns the entry for key. On a hit the access statistics are bumped and
// persisted before the updated entry is returned.
func (s *Store) Get(key string) (Entry, bool, error) {
	e, err := s.backend.FindByKey(key)
	if errors.Is(err, ErrNotFound) {
		s.misses.Increment()
		return Entry{}, false, nil
	}
	if err != nil {
		s.misses.Increment()
		return Entry{}, false, fmt.Errorf("reading cache entry: %w", err)
	}

	e = e.touched(s.now())
	if err := s.backend.Update(e); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Removed by a concurrent maintenance run.
			s.misses.Increment()
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("updating cache entry: %w", err)
	}
	s.hits.Increment()
	return e, true, nil
}

// Put upserts e by CacheKey. The last writer wins.
func (s *Store) Put(e Entry) (Entry, error) {
	if e.CacheKey == "" {
		return Entry{}, fmt.Errorf("%w: empty cache key", ErrInvalidEntry)
	}
	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastAccessedAt.Before(e.CreatedAt) {
		e.LastAccessedAt = e.CreatedAt
	}
	if e.AccessCount < 1 {
		e.AccessCount = 1
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.backend.FindByKey(e.CacheKey)
	switch {
	case err == nil:
		e.ID = existing.ID
		err = s.backend.Update(e)
		if errors.Is(err, ErrNotFound) {
			err = s.backend.Insert(e)
		}
	case errors.Is(err, ErrNotFound):
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		err = s.backend.Insert(e)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("writing cache entry: %w", err)
	}
	return e, nil
}

// Record builds and stores the entry for a freshly computed decision.
func (s *Store) Record(imageURL string, target crop.Size, settings crop.Settings, coords crop.Coordinates) (Entry, error) {
	e := NewEntry(imageURL, target, settings, coords, s.now())
	e.CacheKey = s.Key(imageURL, target, settings)
	return s.Put(e)
}

// GetByImage returns every entry for imageURL, most recently accessed first.
func (s *Store) GetByImage(imageURL string) ([]Entry, error) {
	entries, err := s.backend.FindByImage(imageURL)
	if err != nil {
		return nil, fmt.Errorf("listing entries for image: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastAccessedAt.After(entries[j].LastAccessedAt)
	})
	return entries, nil
}

// DeleteExpired removes entries created more than ttl ago.
func (s *Store) DeleteExpired(ttl time.Duration) (int, error) {
	if ttl < 0 {
		return 0, fmt.Errorf("%w: ttl %s", ErrInvalidLimit, ttl)
	}
	entries, err := s.backend.List()
	if err != nil {
		return 0, fmt.Errorf("listing entries: %w", err)
	}
	now := s.now()
	var victims []Entry
	for _, e := range entries {
		if now.Sub(e.CreatedAt) > ttl {
			victims = append(victims, e)
		}
	}
	return s.deleteAll(victims)
}

// EvictLRU removes the least recently accessed entries until at most maxEntries remain.
func (s *Store) EvictLRU(maxEntries int) (int, error) {
	if maxEntries < 0 {
		return 0, fmt.Errorf("%w: max entries %d", ErrInvalidLimit, maxEntries)
	}
	entries, err := s.backend.List()
	if err != nil {
		return 0, fmt.Errorf("listing entries: %w", err)
	}
	excess := len(entries) - maxEntries
	if excess <= 0 {
		return 0, nil
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
			return a.LastAccessedAt.Before(b.LastAccessedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return s.deleteAll(entries[:excess])
}

// InvalidateByImage removes every entry for imageURL.
func (s *Store) InvalidateByImage(imageURL string) (int, error) {
	entries, err := s.backend.FindByImage(imageURL)
	if err != nil {
		return 0, fmt.Errorf("listing entries for image: %w", err)
	}
	return s.deleteAll(entries)
}

// Clear removes every entry.
func (s *Store) Clear() (int, error) {
	entries, err := s.backend.List()
	if err != nil {
		return 0, fmt.Errorf("listing entries: %w", err)
	}
	n, err := s.deleteAll(entries)
	s.hits.Reset()
	s.misses.Reset()
	return n, err
}

// deleteAll removes entries by id. Rows already gone are not counted.
func (s *Store) deleteAll(entries []Entry) (int, error) {
	removed := 0
	for _, e := range entries {
		err := s.backend.Delete(e.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("deleting entry %s: %w", e.ID, err)
		}
		removed++
	}
	return removed, nil
}

// Stats summarizes the cache contents and the hit/miss counters.
func (s *Store) Stats() (Stats, error) {
	entries, err := s.backend.List()
	if err != nil {
		return Stats{}, fmt.Errorf("listing entries: %w", err)
	}
	st := Stats{
		TotalEntries: len(entries),
		Hits:         s.hits.Value(),
		Misses:       s.misses.Value(),
	}
	var accesses int
	for i, e := range entries {
		st.TotalSizeBytes += e.approxSize()
		accesses += e.AccessCount
		if i == 0 || e.CreatedAt.Before(st.OldestEntry) {
			st.OldestEntry = e.CreatedAt
		}
		if i == 0 || e.CreatedAt.After(st.NewestEntry) {
			st.NewestEntry = e.CreatedAt
		}
	}
	if len(entries) > 0 {
		st.AverageAccessCount = float64(accesses) / float64(len(entries))
	}
	return st, nil
}

// PerformMaintenance deletes expired entries and then evicts down to maxEntries.
func (s *Store) PerformMaintenance(ttl time.Duration, maxEntries int) MaintenanceResult {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()

	var res MaintenanceResult
	expired, err := s.DeleteExpired(ttl)
	res.ExpiredDeleted = expired
	if err == nil {
		res.LRUEvicted, err = s.EvictLRU(maxEntries)
	}
	res.TotalDeleted = res.ExpiredDeleted + res.LRUEvicted
	if err != nil {
		res.Error = err.Error()
		log.Printf("CropCache: maintenance failed after deleting %d entries: %v", res.TotalDeleted, err)
		return res
	}
	res.Success = true

	if gc, ok := s.backend.(interface{ RunGC(float64) error }); ok && res.TotalDeleted > 0 {
		if err := gc.RunGC(gcDiscardRatio); err != nil {
			log.Printf("CropCache: value log GC failed: %v", err)
		}
	}
	log.Debugf("CropCache: maintenance removed %d expired and %d LRU entries", res.ExpiredDeleted, res.LRUEvicted)
	return res
}

// PreloadCommonSizes computes and stores crops for every common size not yet cached.
func (s *Store) PreloadCommonSizes(ctx context.Context, imageURL string, settings crop.Settings, analyze AnalyzeFunc) (PreloadResult, error) {
	var res PreloadResult
	for _, size := range s.sizes {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		key := s.Key(imageURL, size, settings)
		_, err := s.backend.FindByKey(key)
		if err == nil {
			res.Skipped++
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			log.Printf("CropCache: preload lookup for %s failed: %v", size, err)
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return res, err
			}
		}
		coords, err := analyze(ctx, size)
		if err != nil {
			res.Failed++
			log.Printf("CropCache: preload analysis for %s %s failed: %v", imageURL, size, err)
			continue
		}
		if _, err := s.Record(imageURL, size, settings, coords); err != nil {
			res.Failed++
			log.Printf("CropCache: preload write for %s %s failed: %v", imageURL, size, err)
			continue
		}
		res.Computed++
	}
	return res, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
