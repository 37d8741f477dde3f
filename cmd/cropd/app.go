package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dlevesque1980/dailywallpaper-sub001/config"
	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/api"
	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/crop"
	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/cropcache"
	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/imagesource"
	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/smartfit"
	"github.com/dlevesque1980/dailywallpaper-sub001/util/log"
	"golang.org/x/time/rate"
)

// app bundles the components built from one configuration.
type app struct {
	cfg     *config.Config
	tuning  crop.TuningConfig
	store   *cropcache.Store
	service *smartfit.Service
	loader  *imagesource.Loader
}

func newApp(cfg *config.Config) (*app, error) {
	tuning, err := crop.ParseTuning(cfg.Tuning)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(cfg.Cache)
	if err != nil {
		return nil, err
	}

	storeOpts := []cropcache.Option{cropcache.WithTuningFingerprint(tuning.Fingerprint())}
	if cfg.Cache.PreloadPerSecond > 0 {
		storeOpts = append(storeOpts, cropcache.WithPreloadLimiter(rate.NewLimiter(rate.Limit(cfg.Cache.PreloadPerSecond), 1)))
	}
	store := cropcache.NewStore(backend, storeOpts...)

	agg := crop.NewAggregator(tuning, crop.DefaultAnalyzers(tuning, loadFaceDetector(cfg.FaceModelPath, tuning))...)
	for _, an := range agg.Analyzers() {
		log.Debugf("Analyzer %s registered (weight %.2f, enabled by default: %v)", an.Strategy(), an.Weight(), an.EnabledByDefault())
	}
	svc := smartfit.NewService(store, agg, smartfit.Options{
		Timeout:    cfg.Resolve.Timeout.Duration(),
		TTL:        cfg.Cache.TTL.Duration(),
		MaxEntries: cfg.Cache.MaxEntries,
	})

	var limiter *rate.Limiter
	if cfg.Fetch.RequestsPerSecond > 0 {
		burst := cfg.Fetch.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Fetch.RequestsPerSecond), burst)
	}
	loader := imagesource.NewLoader(imagesource.NewClient(cfg.UserAgent), limiter, tuning.AnalysisMaxDim)

	return &app{cfg: cfg, tuning: tuning, store: store, service: svc, loader: loader}, nil
}

// analyze resolves one crop of ref. The image is only decoded on a cache miss,
// or when preload asks for the common screen sizes as well.
func (a *app) analyze(ctx context.Context, ref string, target crop.Size, settings crop.Settings, preload bool) (smartfit.Result, error) {
	res, err := a.service.Resolve(ctx, smartfit.Request{
		ImageURL: ref,
		Load: func(ctx context.Context) (*crop.Source, error) {
			return a.loader.Load(ctx, ref)
		},
		Target:   target,
		Settings: settings,
	})
	if err != nil || !preload {
		return res, err
	}

	src, err := a.loader.Load(ctx, ref)
	if err != nil {
		return res, err
	}
	pre, err := a.service.Preload(ctx, ref, src, settings)
	if err != nil {
		return res, err
	}
	log.Printf("Preloaded %d sizes (%d already cached, %d failed)", pre.Computed, pre.Skipped, pre.Failed)
	return res, nil
}

// newServer builds the API server and registers the configured local image directories.
func newServer(a *app) *api.Server {
	srv := api.NewServer(a.service, a.loader, config.Version())
	for name, dir := range a.cfg.Namespaces {
		srv.RegisterNamespace(name, dir)
		log.Printf("Serving local images from %s as %q", dir, name)
	}
	return srv
}

func openBackend(c config.CacheConfig) (cropcache.Backend, error) {
	switch c.Backend {
	case config.BackendMemory:
		b := cropcache.NewMemoryBackend()
		if c.Dir != "" {
			if err := os.MkdirAll(c.Dir, 0755); err != nil {
				return nil, fmt.Errorf("creating cache directory: %w", err)
			}
			b.SetCacheFile(filepath.Join(c.Dir, "cropcache.json"))
			if err := b.LoadCache(); err != nil {
				log.Printf("CropCache: starting empty, could not load %s: %v", c.Dir, err)
			} else {
				log.Printf("CropCache: loaded %d entries from %s", b.Count(), c.Dir)
			}
		}
		return b, nil
	case config.BackendBadger, "":
		return cropcache.OpenBadger(c.Dir)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", c.Backend)
	}
}

// loadFaceDetector returns nil when no model is configured or it cannot be read;
// the face analyzer then reports itself unavailable.
func loadFaceDetector(path string, tuning crop.TuningConfig) crop.FaceDetector {
	if path == "" {
		return nil
	}
	cascade, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Warning: Failed to read face detection model: %v. Face analysis will be disabled.", err)
		return nil
	}
	d, err := crop.NewPigoDetector(cascade, tuning)
	if err != nil {
		log.Printf("Warning: Failed to unpack face detection model: %v. Face analysis will be disabled.", err)
		return nil
	}
	return d
}

func (a *app) Close() {
	a.service.Stop()
	if err := a.store.Close(); err != nil {
		log.Printf("Error closing crop cache: %v", err)
	}
}
