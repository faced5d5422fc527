package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/rcliao/modeldeps/internal/metrics"
	"github.com/rcliao/modeldeps/internal/model"
)

// schemaVersion is the version written by this build. migrations[i]
// upgrades a database from version i to i+1.
const schemaVersion = 1

var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS cache_entries (
		cache_key  TEXT PRIMARY KEY,
		file_id    TEXT NOT NULL,
		filename   TEXT NOT NULL,
		data       BLOB,
		mime_type  TEXT NOT NULL,
		size       INTEGER NOT NULL,
		timestamp  INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_timestamp ON cache_entries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
	`,
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	limits Limits
	now    func() time.Time
	log    *zap.Logger

	purges sync.WaitGroup
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// WithLogger sets the logger for background purges.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStore) { s.log = l }
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, limits Limits, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes writers, so concurrent Sets are last-write-wins.
	db.SetMaxOpenConns(1)

	def := DefaultLimits()
	if limits.MaxItemSize <= 0 {
		limits.MaxItemSize = def.MaxItemSize
	}
	if limits.MaxTotalSize <= 0 {
		limits.MaxTotalSize = def.MaxTotalSize
	}
	if limits.TTL <= 0 {
		limits.TTL = def.TTL
	}
	// An item may never be larger than the whole cache.
	if limits.MaxItemSize > limits.MaxTotalSize {
		limits.MaxItemSize = limits.MaxTotalSize
	}

	s := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		limits: limits,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return err
	}

	version := 0
	var raw string
	err := s.db.QueryRow(`SELECT value FROM schema_meta WHERE key = 'version'`).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		if version, err = strconv.Atoi(raw); err != nil {
			return fmt.Errorf("schema version %q: %w", raw, err)
		}
	}

	if version > schemaVersion {
		return fmt.Errorf("%w: database is v%d, supported v%d", ErrSchemaVersion, version, schemaVersion)
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range migrations[version:] {
		if _, err := tx.Exec(m); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_meta (key, value) VALUES ('version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Limits returns the limits in effect.
func (s *SQLiteStore) Limits() Limits { return s.limits }

func (s *SQLiteStore) Get(ctx context.Context, key string) (*model.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT cache_key, file_id, filename, data, mime_type, size, timestamp, expires_at
		 FROM cache_entries WHERE cache_key = ?`, key)
	e, err := scanEntry(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordCacheLookup("miss")
		return nil, false, nil
	}
	if err != nil {
		metrics.RecordCacheLookup("error")
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}

	now := s.now()
	if e.Expired(now) {
		metrics.RecordCacheLookup("expired")
		s.purgeAsync(key, now)
		return nil, false, nil
	}
	metrics.RecordCacheLookup("hit")
	return &e, true, nil
}

// purgeAsync removes key if it is still expired at now. A fresh entry
// written under the same key in the meantime is left alone.
func (s *SQLiteStore) purgeAsync(key string, now time.Time) {
	s.purges.Add(1)
	go func() {
		defer s.purges.Done()
		_, err := s.db.Exec(`DELETE FROM cache_entries WHERE cache_key = ? AND expires_at <= ?`,
			key, now.UnixNano())
		if err != nil {
			s.log.Warn("purge expired entry", zap.String("key", key), zap.Error(err))
		}
	}()
}

func (s *SQLiteStore) Set(ctx context.Context, key string, e model.CacheEntry) error {
	size := int64(len(e.Data))
	if size > s.limits.MaxItemSize {
		metrics.RecordCacheRejected()
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, key, size, s.limits.MaxItemSize)
	}

	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The row being replaced does not count against the budget.
	var total int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM cache_entries WHERE cache_key != ?`, key).Scan(&total); err != nil {
		return fmt.Errorf("total size: %w", err)
	}

	evicted := 0
	for total+size > s.limits.MaxTotalSize {
		var oldKey string
		var oldSize int64
		err := tx.QueryRowContext(ctx,
			`SELECT cache_key, size FROM cache_entries WHERE cache_key != ?
			 ORDER BY timestamp ASC, rowid ASC LIMIT 1`, key).Scan(&oldKey, &oldSize)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return fmt.Errorf("select oldest: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, oldKey); err != nil {
			return fmt.Errorf("evict %s: %w", oldKey, err)
		}
		total -= oldSize
		evicted++
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cache_entries (cache_key, file_id, filename, data, mime_type, size, timestamp, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
		   file_id = excluded.file_id,
		   filename = excluded.filename,
		   data = excluded.data,
		   mime_type = excluded.mime_type,
		   size = excluded.size,
		   timestamp = excluded.timestamp,
		   expires_at = excluded.expires_at`,
		key, e.FileID, e.Filename, e.Data, e.MIMEType, size,
		now.UnixNano(), now.Add(s.limits.TTL).UnixNano())
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	metrics.RecordEvictions(evicted)
	if evicted > 0 {
		s.log.Debug("evicted cache entries", zap.Int("count", evicted), zap.String("for", key))
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) ClearExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) ClearAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.CacheEntry, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT cache_key, file_id, filename, mime_type, size, timestamp, expires_at
	          FROM cache_entries WHERE cache_key LIKE ? ESCAPE '\'`
	args := []interface{}{escapeLike(p.Prefix) + "%"}
	if !p.IncludeExpired {
		query += ` AND expires_at > ?`
		args = append(args, s.now().UnixNano())
	}
	query += ` ORDER BY timestamp DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.CacheEntry
	for rows.Next() {
		e, err := scanEntry(rows, false)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close waits for background purges and closes the store.
func (s *SQLiteStore) Close() error {
	s.purges.Wait()
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner, withData bool) (model.CacheEntry, error) {
	var e model.CacheEntry
	var ts, exp int64
	dest := []interface{}{&e.CacheKey, &e.FileID, &e.Filename}
	if withData {
		dest = append(dest, &e.Data)
	}
	dest = append(dest, &e.MIMEType, &e.Size, &ts, &exp)
	if err := row.Scan(dest...); err != nil {
		return e, err
	}
	e.Timestamp = time.Unix(0, ts).UTC()
	e.ExpiresAt = time.Unix(0, exp).UTC()
	return e, nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
