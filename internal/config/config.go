// Package config loads modeldeps configuration from an optional YAML file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/modeldeps/internal/backend/httpapi"
	"github.com/rcliao/modeldeps/internal/backend/localfs"
	"github.com/rcliao/modeldeps/internal/backend/s3"
	"github.com/rcliao/modeldeps/internal/fetch"
	"github.com/rcliao/modeldeps/internal/logging"
	"github.com/rcliao/modeldeps/internal/resolve"
	"github.com/rcliao/modeldeps/internal/store"
)

// Backend types.
const (
	BackendLocal = "local"
	BackendHTTP  = "http"
	BackendS3    = "s3"
)

// Config holds all modeldeps configuration.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Cache    CacheConfig    `yaml:"cache"`
	Fetch    fetch.Config   `yaml:"fetch"`
	Resolver ResolverConfig `yaml:"resolver"`
	Log      logging.Config `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// BackendConfig selects and configures the storage backend.
type BackendConfig struct {
	Type  string         `yaml:"type"` // local, http or s3
	Local localfs.Config `yaml:"local"`
	HTTP  httpapi.Config `yaml:"http"`
	S3    s3.Config      `yaml:"s3"`
}

// CacheConfig locates and bounds the dependency cache.
type CacheConfig struct {
	Disabled     bool   `yaml:"disabled"`
	DBPath       string `yaml:"db_path"`
	MaxItemSize  int64  `yaml:"max_item_size"`
	MaxTotalSize int64  `yaml:"max_total_size"`
	TTL          string `yaml:"ttl"`
}

// ResolverConfig tunes name resolution.
type ResolverConfig struct {
	Heuristics       resolve.Heuristics `yaml:"heuristics"`
	ListingCacheLife string             `yaml:"listing_cache_life"` // 0 disables
}

// MetricsConfig controls the metrics endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables
}

// Default returns the built-in configuration.
func Default() *Config {
	limits := store.DefaultLimits()
	return &Config{
		Backend: BackendConfig{
			Type:  BackendLocal,
			Local: localfs.Config{RootPath: "."},
		},
		Cache: CacheConfig{
			DBPath:       DefaultDBPath(),
			MaxItemSize:  limits.MaxItemSize,
			MaxTotalSize: limits.MaxTotalSize,
			TTL:          "7d",
		},
		Fetch: fetch.Config{MaxConcurrent: fetch.DefaultMaxConcurrent},
		Resolver: ResolverConfig{
			Heuristics:       *resolve.DefaultHeuristics(),
			ListingCacheLife: "30s",
		},
		Log: logging.DefaultConfig(),
	}
}

// DefaultDBPath returns ~/.modeldeps/cache.db.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".modeldeps", "cache.db")
}

// DefaultPath returns ~/.modeldeps/config.yaml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".modeldeps", "config.yaml")
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path reads DefaultPath when it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = envOr("MODELDEPS_CONFIG", DefaultPath())
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Backend.Type = envOr("MODELDEPS_BACKEND", c.Backend.Type)
	c.Backend.Local.RootPath = envOr("MODELDEPS_ROOT", c.Backend.Local.RootPath)
	c.Backend.HTTP.BaseURL = envOr("MODELDEPS_API_URL", c.Backend.HTTP.BaseURL)
	c.Backend.HTTP.AuthToken = envOr("MODELDEPS_API_TOKEN", c.Backend.HTTP.AuthToken)

	c.Backend.S3.Endpoint = envOr("S3_ENDPOINT", c.Backend.S3.Endpoint)
	c.Backend.S3.Bucket = envOr("S3_BUCKET", c.Backend.S3.Bucket)
	c.Backend.S3.Prefix = envOr("S3_PREFIX", c.Backend.S3.Prefix)
	c.Backend.S3.AccessKey = envOr("S3_ACCESS_KEY", c.Backend.S3.AccessKey)
	c.Backend.S3.SecretKey = envOr("S3_SECRET_KEY", c.Backend.S3.SecretKey)
	c.Backend.S3.Region = envOr("S3_REGION", c.Backend.S3.Region)

	c.Cache.DBPath = envOr("MODELDEPS_DB", c.Cache.DBPath)
	c.Cache.TTL = envOr("MODELDEPS_CACHE_TTL", c.Cache.TTL)
	c.Cache.MaxItemSize = envInt64("MODELDEPS_CACHE_MAX_ITEM", c.Cache.MaxItemSize)
	c.Cache.MaxTotalSize = envInt64("MODELDEPS_CACHE_MAX_TOTAL", c.Cache.MaxTotalSize)
	c.Cache.Disabled = envBool("MODELDEPS_CACHE_DISABLED", c.Cache.Disabled)

	c.Fetch.MaxConcurrent = envInt("MODELDEPS_MAX_CONCURRENT", c.Fetch.MaxConcurrent)
	c.Metrics.Addr = envOr("MODELDEPS_METRICS_ADDR", c.Metrics.Addr)

	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("LOG_FORMAT", c.Log.Format)
	c.Log.OutputPath = envOr("LOG_OUTPUT", c.Log.OutputPath)
}

// Validate checks values that cannot be checked by the YAML decoder and
// compiles the resolver heuristics.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case BackendLocal:
		if c.Backend.Local.RootPath == "" {
			return fmt.Errorf("backend.local.root_path is required")
		}
	case BackendHTTP:
		if c.Backend.HTTP.BaseURL == "" {
			return fmt.Errorf("backend.http.base_url is required")
		}
	case BackendS3:
		if c.Backend.S3.Bucket == "" {
			return fmt.Errorf("backend.s3.bucket is required")
		}
	default:
		return fmt.Errorf("unknown backend type %q (use local, http or s3)", c.Backend.Type)
	}

	if _, err := c.Cache.Limits(); err != nil {
		return err
	}
	if _, err := c.Resolver.CacheLife(); err != nil {
		return err
	}
	if c.Fetch.MaxConcurrent < 0 {
		return fmt.Errorf("fetch.max_concurrent must not be negative")
	}
	if err := c.Resolver.Heuristics.Compile(); err != nil {
		return fmt.Errorf("resolver.heuristics: %w", err)
	}
	return nil
}

// Limits converts the cache section into store limits.
func (c CacheConfig) Limits() (store.Limits, error) {
	ttl, err := ParseDuration(c.TTL)
	if err != nil {
		return store.Limits{}, fmt.Errorf("cache.ttl: %w", err)
	}
	if c.MaxItemSize > c.MaxTotalSize && c.MaxTotalSize > 0 {
		return store.Limits{}, fmt.Errorf("cache.max_item_size %d exceeds cache.max_total_size %d", c.MaxItemSize, c.MaxTotalSize)
	}
	return store.Limits{MaxItemSize: c.MaxItemSize, MaxTotalSize: c.MaxTotalSize, TTL: ttl}, nil
}

// CacheLife parses the listing cache life. Zero disables the listing cache.
func (r ResolverConfig) CacheLife() (time.Duration, error) {
	if r.ListingCacheLife == "" || r.ListingCacheLife == "0" {
		return 0, nil
	}
	d, err := ParseDuration(r.ListingCacheLife)
	if err != nil {
		return 0, fmt.Errorf("resolver.listing_cache_life: %w", err)
	}
	return d, nil
}

var durationRegex = regexp.MustCompile(`^(\d+)([dhms])$`)

// ParseDuration accepts a count with a single d, h, m or s unit, or
// anything time.ParseDuration accepts.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRegex.FindStringSubmatch(s)
	if m == nil {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d, nil
		}
		return 0, fmt.Errorf("invalid duration %q (use e.g. 7d, 24h, 30m, 60s)", s)
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("unknown unit %q", m[2])
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
