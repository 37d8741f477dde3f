// Package smartfit resolves crop decisions through the crop cache.
package smartfit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/crop"
	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/cropcache"
	"github.com/dlevesque1980/dailywallpaper-sub001/util"
	"github.com/dlevesque1980/dailywallpaper-sub001/util/log"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoSource is returned when a request misses the cache and carries no image or loader.
	ErrNoSource = errors.New("no image source for uncached crop")
	// ErrLoadTimeout is returned when the resolve budget runs out before the image is loaded.
	ErrLoadTimeout = errors.New("image not loaded within the resolve budget")
)

// Options tunes a Service.
type Options struct {
	Timeout    time.Duration // default resolve budget
	TTL        time.Duration // maintenance expiry
	MaxEntries int           // maintenance LRU bound
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:    5 * time.Second,
		TTL:        7 * 24 * time.Hour,
		MaxEntries: 500,
	}
}

// Request asks for the crop of one image at one target size.
type Request struct {
	ImageURL string
	Source   *crop.Source                                    // needed only on a cache miss
	Load     func(ctx context.Context) (*crop.Source, error) // used when Source is nil
	Target   crop.Size
	Settings crop.Settings
	Timeout  time.Duration // zero uses the service default
}

// Result is a resolved crop.
type Result struct {
	Coordinates crop.Coordinates `json:"coordinates"`
	FromCache   bool             `json:"from_cache"`
	Fallback    bool             `json:"fallback"`
	CacheKey    string           `json:"cache_key"`
}

// Event is emitted after every resolution.
type Event struct {
	Type      string        `json:"type"`
	ImageURL  string        `json:"image_url"`
	Target    crop.Size     `json:"target"`
	Result    Result        `json:"result"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventCropResolved is the Type of resolution events.
const EventCropResolved = "crop_resolved"

// Counters are the service-level resolution counters.
type Counters struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Computed  int64 `json:"computed"`
	Shared    int64 `json:"shared"`
	Fallbacks int64 `json:"fallbacks"`
}

// Stats combines cache contents with resolution counters.
type Stats struct {
	Cache       cropcache.Stats `json:"cache"`
	Counters    Counters        `json:"counters"`
	Maintaining bool            `json:"maintaining"`
}

// Service is the crop orchestrator: cache lookup, single-flight analysis and write-back.
type Service struct {
	store *cropcache.Store
	agg   *crop.Aggregator
	opts  Options

	group   singleflight.Group
	sources sync.Map // cache key -> *crop.Source loaded by the in-flight analysis

	hits      util.Counter
	misses    util.Counter
	computed  util.Counter
	shared    util.Counter
	fallbacks util.Counter

	maintaining util.Flag

	mu        sync.RWMutex
	listeners []func(Event)

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewService creates a service. Zero option fields take their defaults.
func NewService(store *cropcache.Store, agg *crop.Aggregator, opts Options) *Service {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = def.MaxEntries
	}
	return &Service{
		store:  store,
		agg:    agg,
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// OnResolved registers a listener called after every resolution.
// Listeners run on the resolving goroutine and must not block.
func (s *Service) OnResolved(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Resolve returns the crop for req, from the cache when possible.
// Cache failures degrade to a miss. The budget covers loading the image as well
// as analyzing it. When it runs out after the image is loaded, the center
// fallback is returned; when it runs out before, ErrLoadTimeout is. Either way
// the shared load and analysis keep running and their result is cached for
// later requests.
func (s *Service) Resolve(ctx context.Context, req Request) (Result, error) {
	if err := req.Target.Validate(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	key := s.store.Key(req.ImageURL, req.Target, req.Settings)

	entry, ok, err := s.store.Get(key)
	if err != nil {
		log.Printf("SmartFit: cache read failed for %s, treating as miss: %v", req.ImageURL, err)
	}
	if ok {
		s.hits.Increment()
		res := Result{Coordinates: entry.Coordinates, FromCache: true, CacheKey: key}
		s.emit(req, res, start)
		return res, nil
	}
	s.misses.Increment()

	if req.Source == nil && req.Load == nil {
		return Result{}, ErrNoSource
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.opts.Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.compute(ctx, req, key)
	})

	select {
	case r := <-ch:
		return s.finish(req, r, start)
	case <-timer.C:
		log.Printf("SmartFit: resolving %s for %s exceeded %v", req.ImageURL, req.Target, timeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return Result{}, ctx.Err()
		}
		log.Printf("SmartFit: deadline reached for %s %s", req.ImageURL, req.Target)
	}

	src := req.Source
	if src == nil {
		if v, ok := s.sources.Load(key); ok {
			src = v.(*crop.Source)
		}
	}
	if src == nil {
		select {
		case r := <-ch:
			return s.finish(req, r, start)
		default:
		}
		return Result{}, fmt.Errorf("%w: %s after %v", ErrLoadTimeout, req.ImageURL, timeout)
	}

	s.fallbacks.Increment()
	res := Result{Coordinates: s.agg.Fallback(src, req.Target), Fallback: true, CacheKey: key}
	s.emit(req, res, start)
	return res, nil
}

func (s *Service) finish(req Request, r singleflight.Result, start time.Time) (Result, error) {
	if r.Err != nil {
		return Result{}, r.Err
	}
	if r.Shared {
		s.shared.Increment()
	}
	res := r.Val.(Result)
	s.emit(req, res, start)
	return res, nil
}

// compute loads the image if needed, runs the analysis and writes the decision
// back. Cancellation of the caller's context is ignored so that one caller
// giving up does not abort a shared flight.
func (s *Service) compute(ctx context.Context, req Request, key string) (Result, error) {
	src := req.Source
	if src == nil {
		var err error
		src, err = req.Load(context.WithoutCancel(ctx))
		if err != nil {
			return Result{}, fmt.Errorf("loading %s: %w", req.ImageURL, err)
		}
		s.sources.Store(key, src)
		defer s.sources.Delete(key)
	}

	s.computed.Increment()
	decision, err := s.agg.Decide(context.Background(), src, req.Target, req.Settings)
	if err != nil {
		return Result{}, fmt.Errorf("deciding crop: %w", err)
	}
	if decision.Fallback {
		s.fallbacks.Increment()
	}

	if _, err := s.store.Record(req.ImageURL, req.Target, req.Settings, decision.Coordinates); err != nil {
		log.Printf("SmartFit: failed to cache crop for %s: %v", req.ImageURL, err)
	}
	return Result{Coordinates: decision.Coordinates, Fallback: decision.Fallback, CacheKey: key}, nil
}

func (s *Service) emit(req Request, res Result, start time.Time) {
	s.mu.RLock()
	listeners := make([]func(Event), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	if len(listeners) == 0 {
		return
	}

	ev := Event{
		Type:      EventCropResolved,
		ImageURL:  req.ImageURL,
		Target:    req.Target,
		Result:    res,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}
	for _, fn := range listeners {
		fn(ev)
	}
}

// Preload caches crops for the common screen sizes of one image.
func (s *Service) Preload(ctx context.Context, imageURL string, src *crop.Source, settings crop.Settings) (cropcache.PreloadResult, error) {
	if src == nil {
		return cropcache.PreloadResult{}, ErrNoSource
	}
	return s.store.PreloadCommonSizes(ctx, imageURL, settings, func(ctx context.Context, target crop.Size) (crop.Coordinates, error) {
		decision, err := s.agg.Decide(ctx, src, target, settings)
		if err != nil {
			return crop.Coordinates{}, err
		}
		return decision.Coordinates, nil
	})
}

// Invalidate drops every cached crop of imageURL.
func (s *Service) Invalidate(imageURL string) (int, error) {
	return s.store.InvalidateByImage(imageURL)
}

// Clear drops every cached crop and resets the counters.
func (s *Service) Clear() (int, error) {
	n, err := s.store.Clear()
	for _, c := range []*util.Counter{&s.hits, &s.misses, &s.computed, &s.shared, &s.fallbacks} {
		c.Reset()
	}
	return n, err
}

// Stats reports cache contents and resolution counters.
func (s *Service) Stats() (Stats, error) {
	cache, err := s.store.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Cache: cache, Counters: s.Counters(), Maintaining: s.maintaining.Value()}, nil
}

// Counters returns a snapshot of the resolution counters.
func (s *Service) Counters() Counters {
	return Counters{
		Hits:      s.hits.Value(),
		Misses:    s.misses.Value(),
		Computed:  s.computed.Value(),
		Shared:    s.shared.Value(),
		Fallbacks: s.fallbacks.Value(),
	}
}

// Maintain runs one maintenance pass with the configured TTL and entry bound.
// A pass requested while another is running is skipped.
func (s *Service) Maintain() cropcache.MaintenanceResult {
	if !s.maintaining.TrySet() {
		return cropcache.MaintenanceResult{Error: "maintenance already running"}
	}
	defer s.maintaining.Clear()
	return s.store.PerformMaintenance(s.opts.TTL, s.opts.MaxEntries)
}

// StartMaintenance runs Maintain every interval until Stop is called.
func (s *Service) StartMaintenance(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("Starting crop cache maintenance every %v", interval)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				res := s.Maintain()
				if res.TotalDeleted > 0 {
					log.Printf("Crop cache maintenance removed %d entries", res.TotalDeleted)
				}
			case <-s.stopCh:
				log.Print("Stopping crop cache maintenance.")
				return
			}
		}
	}()
}

// Stop ends the maintenance loop and waits for it to exit.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
