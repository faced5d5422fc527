// Package store provides the dependency cache interface and SQLite implementation.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rcliao/modeldeps/internal/model"
)

var (
	// ErrTooLarge is returned by Set for payloads above the item ceiling.
	ErrTooLarge = errors.New("entry exceeds cache item size limit")

	// ErrSchemaVersion is returned when a database was written by a newer
	// schema than this build understands.
	ErrSchemaVersion = errors.New("unsupported cache schema version")
)

// Limits bounds what the cache holds.
type Limits struct {
	MaxItemSize  int64         `yaml:"max_item_size"`
	MaxTotalSize int64         `yaml:"max_total_size"`
	TTL          time.Duration `yaml:"ttl"`
}

// DefaultLimits returns a 50 MiB item ceiling, a 500 MiB total ceiling and
// a seven day expiration window.
func DefaultLimits() Limits {
	return Limits{
		MaxItemSize:  50 << 20,
		MaxTotalSize: 500 << 20,
		TTL:          7 * 24 * time.Hour,
	}
}

// ListParams holds parameters for listing cache entries.
type ListParams struct {
	Prefix         string
	IncludeExpired bool
	Limit          int
}

// Store defines the dependency cache interface.
type Store interface {
	// Get returns the entry for key. Expired entries are reported as
	// misses and removed in the background.
	Get(ctx context.Context, key string) (*model.CacheEntry, bool, error)

	// Set stores e under key, evicting the oldest entries as needed.
	// Returns ErrTooLarge when the payload exceeds the item ceiling.
	Set(ctx context.Context, key string, e model.CacheEntry) error

	// Remove deletes key. Reports whether an entry existed.
	Remove(ctx context.Context, key string) (bool, error)

	// ClearExpired deletes every expired entry and returns how many.
	ClearExpired(ctx context.Context) (int, error)

	// ClearAll deletes every entry and returns how many.
	ClearAll(ctx context.Context) (int, error)

	// Stats reports entry counts and sizes.
	Stats(ctx context.Context) (*Stats, error)

	// List returns entry metadata, newest first, without payloads.
	List(ctx context.Context, p ListParams) ([]model.CacheEntry, error)

	// Close closes the store.
	Close() error
}

// DependencyKey derives the cache key for a dependency of a main file.
// The filename is lower-cased so differently cased references share an entry.
func DependencyKey(mainFileID, filename string) string {
	return mainFileID + "::" + strings.ToLower(strings.TrimSpace(filename))
}
