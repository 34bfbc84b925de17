package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS outcomes (
    run_id     TEXT NOT NULL,
    subject    TEXT NOT NULL,
    id         TEXT NOT NULL,
    persisted  INTEGER NOT NULL,
    error      TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    PRIMARY KEY (run_id, subject, id)
);

CREATE TABLE IF NOT EXISTS subjects (
    run_id     TEXT NOT NULL,
    subject    TEXT NOT NULL,
    pmid_count INTEGER NOT NULL,
    truncated  INTEGER NOT NULL,
    no_results INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (run_id, subject)
);
`

// Store keeps outcome rows in a sqlite database so results can be queried
// across runs, in addition to the per-run CSV tables.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and if needed initializes) the outcome database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open outcome database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create outcome schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveSubject persists a subject report. Re-saving the same (run, subject)
// replaces existing rows, so retrying a report write is safe.
func (s *Store) SaveSubject(ctx context.Context, r SubjectReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outcome tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO subjects (run_id, subject, pmid_count, truncated, no_results, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Subject, r.PMIDCount, boolToInt(r.Truncated), boolToInt(r.NoResults), now,
	); err != nil {
		return fmt.Errorf("insert subject row: %w", err)
	}

	for _, o := range r.Outcomes {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO outcomes (run_id, subject, id, persisted, error, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.RunID, r.Subject, o.ID, boolToInt(o.Persisted), o.Err, now,
		); err != nil {
			return fmt.Errorf("insert outcome row: %w", err)
		}
	}

	return tx.Commit()
}

// CountOutcomes returns the number of outcome rows recorded for a run.
func (s *Store) CountOutcomes(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outcomes WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
