// Package history persists periodic stats samples to a local SQLite
// database. One retrywatch.db file under the state directory holds every
// telemetry sample the watcher recorded, so click/block totals survive
// restarts and can be inspected later.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/jholhewres/retrywatch/pkg/retrywatch/monitor"
)

// schema is the DDL executed on every open (idempotent via IF NOT EXISTS).
const schema = `
CREATE TABLE IF NOT EXISTS stats_samples (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id            TEXT NOT NULL,
    recorded_at       TEXT NOT NULL,
    clicks            INTEGER NOT NULL,
    blocked           INTEGER NOT NULL,
    accept_all_clicks INTEGER NOT NULL,
    connections       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stats_samples_at ON stats_samples(recorded_at);
`

// Sample is one recorded telemetry point.
type Sample struct {
	RunID       string
	RecordedAt  time.Time
	Stats       monitor.Stats
	Connections int
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append records one sample.
func (s *Store) Append(sample Sample) error {
	_, err := s.db.Exec(
		`INSERT INTO stats_samples (run_id, recorded_at, clicks, blocked, accept_all_clicks, connections)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sample.RunID,
		sample.RecordedAt.UTC().Format(time.RFC3339),
		sample.Stats.Clicks,
		sample.Stats.Blocked,
		sample.Stats.AcceptAllClicks,
		sample.Connections,
	)
	if err != nil {
		return fmt.Errorf("append sample: %w", err)
	}
	return nil
}

// Recent returns up to n samples, newest first.
func (s *Store) Recent(n int) ([]Sample, error) {
	rows, err := s.db.Query(
		`SELECT run_id, recorded_at, clicks, blocked, accept_all_clicks, connections
		 FROM stats_samples ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var sample Sample
		var at string
		if err := rows.Scan(&sample.RunID, &at, &sample.Stats.Clicks,
			&sample.Stats.Blocked, &sample.Stats.AcceptAllClicks, &sample.Connections); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sample.RecordedAt, _ = time.Parse(time.RFC3339, at)
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// Prune deletes samples older than the cutoff and returns how many went.
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM stats_samples WHERE recorded_at < ?`,
		olderThan.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
