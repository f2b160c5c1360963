// Package history keeps a queryable, non-authoritative ledger of past
// parabuild runs in a local sqlite database, adapted from the teacher's
// state.StateStore (internal/state/store.go) down to the single run-summary
// table parabuild actually needs. Snapshot files remain the authoritative
// record for resume; this index only serves `list-snapshots`-style lookups.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run summarizes one parabuild invocation.
type Run struct {
	ID           int64
	ProjectPath  string
	Mode         string
	StartedAt    time.Time
	CompletedAt  *time.Time
	TotalInputs  int
	Completed    int
	CompileFails int
	Unprocessed  int
	SnapshotDir  string
	Status       string // "running", "completed", "cancelled", "failed"
}

// Store is a handle on the sqlite-backed run ledger.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS run (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	project_path   TEXT NOT NULL,
	mode           TEXT NOT NULL,
	started_at     INTEGER NOT NULL,
	completed_at   INTEGER,
	total_inputs   INTEGER NOT NULL DEFAULT 0,
	completed      INTEGER NOT NULL DEFAULT 0,
	compile_fails  INTEGER NOT NULL DEFAULT 0,
	unprocessed    INTEGER NOT NULL DEFAULT 0,
	snapshot_dir   TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'running'
);
`

// Open creates (if necessary) and opens the ledger database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts a new "running" row and returns its ID.
func (s *Store) StartRun(projectPath, mode string, totalInputs int) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO run (project_path, mode, started_at, total_inputs, status)
		 VALUES (?, ?, ?, ?, 'running')`,
		projectPath, mode, time.Now().Unix(), totalInputs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun records the terminal outcome of a run.
func (s *Store) FinishRun(id int64, completed, compileFails, unprocessed int, snapshotDir, status string) error {
	_, err := s.db.Exec(
		`UPDATE run SET completed_at = ?, completed = ?, compile_fails = ?,
		     unprocessed = ?, snapshot_dir = ?, status = ?
		 WHERE id = ?`,
		time.Now().Unix(), completed, compileFails, unprocessed, snapshotDir, status, id,
	)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", id, err)
	}
	return nil
}

// RecordAutosave updates the snapshot_dir of an in-progress run. Snapshot
// lookup for `--continue` scans the autosave directory and does not read
// this column.
func (s *Store) RecordAutosave(id int64, snapshotDir string) error {
	_, err := s.db.Exec(`UPDATE run SET snapshot_dir = ? WHERE id = ?`, snapshotDir, id)
	if err != nil {
		return fmt.Errorf("record autosave for run %d: %w", id, err)
	}
	return nil
}

// ListRecent returns the most recent runs, newest first.
func (s *Store) ListRecent(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT id, project_path, mode, started_at, completed_at, total_inputs,
		        completed, compile_fails, unprocessed, snapshot_dir, status
		 FROM run ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ForProject returns runs against a given project path, newest first.
func (s *Store) ForProject(projectPath string, limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT id, project_path, mode, started_at, completed_at, total_inputs,
		        completed, compile_fails, unprocessed, snapshot_dir, status
		 FROM run WHERE project_path = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		projectPath, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs for project: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(rows rowScanner) (Run, error) {
	var r Run
	var startedAt int64
	var completedAt sql.NullInt64

	err := rows.Scan(
		&r.ID, &r.ProjectPath, &r.Mode, &startedAt, &completedAt,
		&r.TotalInputs, &r.Completed, &r.CompileFails, &r.Unprocessed,
		&r.SnapshotDir, &r.Status,
	)
	if err != nil {
		return r, fmt.Errorf("scan run: %w", err)
	}
	r.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		r.CompletedAt = &t
	}
	return r, nil
}
