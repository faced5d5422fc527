package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MODELDEPS_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, cfg.Backend.Type)
	assert.Equal(t, 8, cfg.Fetch.MaxConcurrent)

	limits, err := cfg.Cache.Limits()
	require.NoError(t, err)
	assert.Equal(t, int64(50<<20), limits.MaxItemSize)
	assert.Equal(t, int64(500<<20), limits.MaxTotalSize)
	assert.Equal(t, 7*24*time.Hour, limits.TTL)

	life, err := cfg.Resolver.CacheLife()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, life)
	assert.True(t, cfg.Resolver.Heuristics.IsTexture("a.PNG"))
}

func TestLoad_File(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	p := writeConfig(t, `
backend:
  type: http
  http:
    base_url: https://files.example.com
    timeout: 10s
    retry:
      max_attempts: 5
cache:
  ttl: 2h
  max_item_size: 1024
  max_total_size: 4096
fetch:
  max_concurrent: 3
resolver:
  listing_cache_life: "0"
  heuristics:
    probe_folders: [tex]
    texture_extensions: [.png, .ktx2]
log:
  level: debug
`)

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, BackendHTTP, cfg.Backend.Type)
	assert.Equal(t, "https://files.example.com", cfg.Backend.HTTP.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Backend.HTTP.Timeout)
	assert.Equal(t, 5, cfg.Backend.HTTP.RetryConfig.MaxAttempts)
	assert.Equal(t, 3, cfg.Fetch.MaxConcurrent)
	assert.Equal(t, "debug", cfg.Log.Level)

	limits, err := cfg.Cache.Limits()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, limits.TTL)
	assert.Equal(t, int64(1024), limits.MaxItemSize)

	life, _ := cfg.Resolver.CacheLife()
	assert.Zero(t, life)

	h := cfg.Resolver.Heuristics
	assert.Equal(t, []string{"tex"}, h.ProbeFolders)
	assert.True(t, h.IsTexture("a.ktx2"))
	assert.False(t, h.IsTexture("a.jpg"))
	// Fields not in the file keep their defaults.
	assert.Equal(t, 0.5, h.GeneralRatio)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	p := writeConfig(t, "backend:\n  type: local\n  local:\n    root_path: /srv/models\n")
	t.Setenv("MODELDEPS_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "assets")
	t.Setenv("S3_PREFIX", "tenants/a")
	t.Setenv("MODELDEPS_MAX_CONCURRENT", "12")
	t.Setenv("MODELDEPS_CACHE_TTL", "30m")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, BackendS3, cfg.Backend.Type)
	assert.Equal(t, "assets", cfg.Backend.S3.Bucket)
	assert.Equal(t, "tenants/a", cfg.Backend.S3.Prefix)
	assert.Equal(t, 12, cfg.Fetch.MaxConcurrent)
	assert.Equal(t, "30m", cfg.Cache.TTL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/srv/models", cfg.Backend.Local.RootPath)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")

	_, err = Load(writeConfig(t, "backend: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "backend:\n  type: ftp\n"))
	assert.ErrorContains(t, err, "unknown backend type")

	_, err = Load(writeConfig(t, "backend:\n  type: s3\n"))
	assert.ErrorContains(t, err, "bucket is required")

	_, err = Load(writeConfig(t, "cache:\n  ttl: forever\n"))
	assert.ErrorContains(t, err, "cache.ttl")

	_, err = Load(writeConfig(t, "cache:\n  max_item_size: 10\n  max_total_size: 5\n"))
	assert.ErrorContains(t, err, "exceeds")

	_, err = Load(writeConfig(t, "resolver:\n  heuristics:\n    version_pattern: \"[\"\n"))
	assert.ErrorContains(t, err, "resolver.heuristics")
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"7d":    7 * 24 * time.Hour,
		"24h":   24 * time.Hour,
		"30m":   30 * time.Minute,
		"60s":   60 * time.Second,
		"1h30m": 90 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "d", "7w", "-1h", "abc"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}
