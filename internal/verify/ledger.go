package verify

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/arbiter/internal/errors"
)

// LedgerFile is the default ledger name inside the state directory.
const LedgerFile = "verify.db"

var openDB = sql.Open

// Run is one recorded verification run.
type Run struct {
	ID            string
	RecordID      string
	TestReference string
	Command       string
	Passed        bool
	ExitCode      int
	Output        string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Ledger is the append-only record of verification runs. A level-0
// promotion always names a run in this ledger.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens or creates the sqlite ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("ledger: pragma %q: %w", p, err)
		}
	}

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id             TEXT PRIMARY KEY,
			record_id      TEXT NOT NULL DEFAULT '',
			test_reference TEXT NOT NULL,
			command        TEXT NOT NULL,
			passed         INTEGER NOT NULL,
			exit_code      INTEGER NOT NULL,
			output         TEXT NOT NULL,
			started_at     TEXT NOT NULL,
			finished_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_record ON runs(record_id, finished_at);
	`)
	if err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record appends run.
func (l *Ledger) Record(ctx context.Context, run *Run) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (id, record_id, test_reference, command, passed, exit_code, output, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.RecordID, run.TestReference, run.Command, boolInt(run.Passed), run.ExitCode, run.Output,
		run.StartedAt.UTC().Format(time.RFC3339Nano), run.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ledger: record run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, record_id, test_reference, command, passed, exit_code, output, started_at, finished_at`

// Get returns the run with id.
func (l *Ledger) Get(ctx context.Context, id string) (*Run, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("verification run", id)
	}
	return run, err
}

// Latest returns the most recent run for recordID.
func (l *Ledger) Latest(ctx context.Context, recordID string) (*Run, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE record_id = ? ORDER BY finished_at DESC LIMIT 1`, recordID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("verification run for record", recordID)
	}
	return run, err
}

// Recent returns up to limit runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run               Run
		passed            int
		started, finished string
	)
	if err := s.Scan(&run.ID, &run.RecordID, &run.TestReference, &run.Command, &passed,
		&run.ExitCode, &run.Output, &started, &finished); err != nil {
		return nil, err
	}
	run.Passed = passed != 0
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	run.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
	return &run, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
