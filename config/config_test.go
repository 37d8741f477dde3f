package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, BackendBadger, cfg.Cache.Backend)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.TTL.Duration())
	assert.Equal(t, 500, cfg.Cache.MaxEntries)
	assert.Equal(t, 5*time.Second, cfg.Resolve.Timeout.Duration())
	assert.Equal(t, time.Hour, cfg.Cache.MaintenanceInterval.Duration())
	assert.Equal(t, "127.0.0.1:49453", cfg.Listen)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	photos, err := json.Marshal(t.TempDir())
	require.NoError(t, err)
	data := `{"listen": ":9000", "cache": {"backend": "memory", "max_entries": 10, "maintenance_interval": "30m"},
		"resolve": {"timeout": "2.5s"}, "namespaces": {"photos": ` + string(photos) + `}, "tuning": {"center_weight": 0.9}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 10, cfg.Cache.MaxEntries)
	assert.Equal(t, 30*time.Minute, cfg.Cache.MaintenanceInterval.Duration())
	assert.Equal(t, 2500*time.Millisecond, cfg.Resolve.Timeout.Duration())
	assert.Contains(t, cfg.Namespaces, "photos")
	// Fields absent from the file keep their defaults.
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.TTL.Duration())
	assert.JSONEq(t, `{"center_weight": 0.9}`, string(cfg.Tuning))
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	_, err := Load(bad)
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.json")
	require.NoError(t, os.WriteFile(unknown, []byte(`{"cache": {"backend": "redis"}}`), 0644))
	_, err = Load(unknown)
	assert.ErrorContains(t, err, "unknown cache backend")

	for name, data := range map[string]string{
		"negative.json":     `{"cache": {"max_entries": -1}}`,
		"bad-duration.json": `{"resolve": {"timeout": "soon"}}`,
		"negative-ttl.json": `{"cache": {"ttl": "-1h"}}`,
		"relative-ns.json":  `{"namespaces": {"photos": "photos"}}`,
		"nested-ns.json":    `{"namespaces": {"a/b": "photos"}}`,
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(data), 0644))
		_, err = Load(path)
		assert.Error(t, err, name)
	}
}

func TestDurationJSON(t *testing.T) {
	data, err := json.Marshal(ResolveConfig{Timeout: Duration(1500 * time.Millisecond)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"timeout": "1.5s"}`, string(data))

	var rc ResolveConfig
	require.NoError(t, json.Unmarshal([]byte(`{"timeout": "168h"}`), &rc))
	assert.Equal(t, 7*24*time.Hour, rc.Timeout.Duration())

	// Nanosecond numbers from older files still load.
	require.NoError(t, json.Unmarshal([]byte(`{"timeout": 5000000000}`), &rc))
	assert.Equal(t, 5*time.Second, rc.Timeout.Duration())

	assert.Error(t, json.Unmarshal([]byte(`{"timeout": true}`), &rc))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Cache.Backend = BackendMemory
	cfg.Resolve.Timeout = Duration(2 * time.Second)

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Cache, loaded.Cache)
	assert.Equal(t, cfg.Resolve, loaded.Resolve)
}

func TestVersion(t *testing.T) {
	defer func(v string) { AppVersion = v }(AppVersion)

	for in, want := range map[string]string{
		"":            "dev",
		"garbage":     "dev",
		"1.4.2":       "v1.4.2",
		"v2.0":        "v2.0.0",
		"v1.0.0-rc.1": "v1.0.0-rc.1",
	} {
		AppVersion = in
		assert.Equal(t, want, Version(), in)
	}
}
