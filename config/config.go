// Package config provides configuration management for the crop service.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"
)

// Config holds all configuration data.
type Config struct {
	Listen        string          `json:"listen"`
	UserAgent     string          `json:"user_agent"`
	FaceModelPath string          `json:"face_model_path,omitempty"`
	Cache         CacheConfig     `json:"cache"`
	Resolve       ResolveConfig   `json:"resolve"`
	Fetch         FetchConfig     `json:"fetch"`
	Tuning        json.RawMessage `json:"tuning,omitempty"` // partial crop.TuningConfig overrides

	// Namespaces maps a name to a local image directory served under /local/{name}/.
	Namespaces map[string]string `json:"namespaces,omitempty"`
}

// CacheConfig selects and bounds the crop cache.
type CacheConfig struct {
	Backend             string   `json:"backend"` // "badger" or "memory"
	Dir                 string   `json:"dir"`
	TTL                 Duration `json:"ttl"`
	MaxEntries          int      `json:"max_entries"`
	MaintenanceInterval Duration `json:"maintenance_interval"`
	PreloadPerSecond    float64  `json:"preload_per_second"`
}

// ResolveConfig bounds a single crop resolution.
type ResolveConfig struct {
	Timeout Duration `json:"timeout"`
}

// FetchConfig throttles remote image downloads.
type FetchConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

var (
	instance *Config
	once     sync.Once
)

// GetConfig returns the singleton instance of Config.
func GetConfig() *Config {
	once.Do(func() {
		cfg, err := Load(GetFilename())
		if err != nil {
			log.Printf("Error loading config, using defaults: %v", err)
			cfg = Default()
		}
		instance = cfg
	})
	return instance
}

// GetPath returns the path to the user's config directory.
func GetPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Error getting user home directory: %v", err)
	}
	return filepath.Join(homeDir, "."+strings.ToLower(AppName))
}

// GetFilename returns the path to the user's config file.
func GetFilename() string {
	return filepath.Join(GetPath(), "config.json")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:    "127.0.0.1:49453",
		UserAgent: AppName + "/" + Version(),
		Cache: CacheConfig{
			Backend:             BackendBadger,
			Dir:                 filepath.Join(GetPath(), "cropcache"),
			TTL:                 Duration(7 * 24 * time.Hour),
			MaxEntries:          500,
			MaintenanceInterval: Duration(time.Hour),
			PreloadPerSecond:    2,
		},
		Resolve: ResolveConfig{Timeout: Duration(5 * time.Second)},
		Fetch:   FetchConfig{RequestsPerSecond: 4, Burst: 4},
	}
}

// Version returns AppVersion in canonical semver form, or "dev" for
// builds without a valid version.
func Version() string {
	v := AppVersion
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "dev"
	}
	return semver.Canonical(v)
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendBadger, BackendMemory:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("negative cache ttl %v", c.Cache.TTL)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("negative cache max entries %d", c.Cache.MaxEntries)
	}
	if c.Resolve.Timeout < 0 {
		return fmt.Errorf("negative resolve timeout %v", c.Resolve.Timeout)
	}
	for name, dir := range c.Namespaces {
		if name == "" || strings.ContainsAny(name, "/\\") {
			return fmt.Errorf("invalid namespace name %q", name)
		}
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("namespace %q: directory %q is not absolute", name, dir)
		}
	}
	return nil
}

// Save writes the configuration to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}
