// Package mtmlog persists one MTM observation per risk cycle. The table
// is append-only and queried by the operator API for intraday loss
// curves.
package mtmlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Sample is one recorded observation.
type Sample struct {
	AccountID string    `json:"account_id"`
	At        time.Time `json:"at"`
	MTM       float64   `json:"mtm"`
	Limit     float64   `json:"limit"`
	SLHit     bool      `json:"sl_hit"`
}

type Store struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS mtm_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    at_unix INTEGER NOT NULL,
    mtm REAL NOT NULL,
    mtm_limit REAL NOT NULL,
    sl_hit INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_mtm_samples_account_at ON mtm_samples(account_id, at_unix);
`

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mtm log: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mtm log: create dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("mtm log: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("mtm log: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends one sample.
func (s *Store) Record(accountID string, at time.Time, mtm, limit float64, slHit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hit := 0
	if slHit {
		hit = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO mtm_samples(account_id, at_unix, mtm, mtm_limit, sl_hit) VALUES (?, ?, ?, ?, ?)`,
		accountID, at.Unix(), mtm, limit, hit,
	)
	if err != nil {
		return fmt.Errorf("mtm log: insert: %w", err)
	}
	return nil
}

// Range returns samples for one account between from and to, ascending.
func (s *Store) Range(accountID string, from, to time.Time, limit int) ([]Sample, error) {
	if limit <= 0 || limit > 10000 {
		limit = 2000
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		`SELECT at_unix, mtm, mtm_limit, sl_hit FROM mtm_samples
		 WHERE account_id = ? AND at_unix >= ? AND at_unix <= ?
		 ORDER BY at_unix ASC LIMIT ?`,
		accountID, from.Unix(), to.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("mtm log: query: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var (
			atUnix   int64
			mtm, lim float64
			hit      int
		)
		if err := rows.Scan(&atUnix, &mtm, &lim, &hit); err != nil {
			return nil, fmt.Errorf("mtm log: scan: %w", err)
		}
		samples = append(samples, Sample{
			AccountID: accountID,
			At:        time.Unix(atUnix, 0),
			MTM:       mtm,
			Limit:     lim,
			SLHit:     hit != 0,
		})
	}
	return samples, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
