package store

import (
	"context"
	"os"
)

// Stats holds cache statistics.
type Stats struct {
	DBPath       string `json:"db_path"`
	DBSizeBytes  int64  `json:"db_size_bytes"`
	Entries      int    `json:"entries"`
	TotalSize    int64  `json:"total_size"`
	Expired      int    `json:"expired"`
	MaxTotalSize int64  `json:"max_total_size"`
	MaxItemSize  int64  `json:"max_item_size"`
}

// Stats returns cache statistics. Expired counts entries past their
// expiration that have not been purged yet.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		DBPath:       s.dbPath,
		MaxTotalSize: s.limits.MaxTotalSize,
		MaxItemSize:  s.limits.MaxItemSize,
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0),
		        COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)
		 FROM cache_entries`, s.now().UnixNano()).Scan(&st.Entries, &st.TotalSize, &st.Expired)
	if err != nil {
		return st, err
	}
	return st, nil
}
