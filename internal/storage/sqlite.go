// Package storage is the durable, single-writer store behind the step
// engine: workflows, runs, steps, stories, run context, step results.
package storage

import (
	"database/sql"
	"errors"

	"github.com/openclaw/antfarm/internal/fault"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fault.Wrap(fault.StoreError, err, "open database %s", dbPath)
	}

	// The engine serializes writes; a single connection keeps SQLite
	// happy for both file and in-memory databases.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		spec TEXT NOT NULL,
		installed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_id TEXT NOT NULL,
		task TEXT NOT NULL,
		lead_agent TEXT NOT NULL DEFAULT '',
		session_label TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'running',
		current_step_index INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		def_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		step_type TEXT NOT NULL DEFAULT 'single',
		loop_config TEXT,
		input TEXT NOT NULL DEFAULT '',
		expects TEXT NOT NULL DEFAULT '',
		max_retries INTEGER NOT NULL DEFAULT 2,
		on_fail TEXT,
		status TEXT NOT NULL DEFAULT 'waiting',
		retry_count INTEGER NOT NULL DEFAULT 0,
		current_story_id INTEGER,
		UNIQUE(run_id, step_index)
	);

	CREATE TABLE IF NOT EXISTS stories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		story_index INTEGER NOT NULL,
		story_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		acceptance_criteria TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'pending',
		output TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 2,
		UNIQUE(run_id, story_index)
	);

	CREATE TABLE IF NOT EXISTS run_context (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		key TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, key)
	);

	CREATE TABLE IF NOT EXISTS step_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		step_def_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'done',
		completed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id);
	CREATE INDEX IF NOT EXISTS idx_steps_claim ON steps(agent_id, status);
	CREATE INDEX IF NOT EXISTS idx_stories_run ON stories(run_id);
	CREATE INDEX IF NOT EXISTS idx_results_run ON step_results(run_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fault.Wrap(fault.StoreError, err, "migrate schema")
	}

	// Additive migrations for databases created before these columns
	// existed. SQLite errors when the column is already present.
	s.db.Exec(`ALTER TABLE runs ADD COLUMN session_label TEXT NOT NULL DEFAULT ''`)
	s.db.Exec(`ALTER TABLE stories ADD COLUMN max_retries INTEGER NOT NULL DEFAULT 2`)

	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx so every row operation
// works both inside an engine transaction and as a standalone read.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Tx bundles the row operations over one querier.
type Tx struct {
	q querier
}

// WithTx runs fn inside a single transaction, committing on nil and
// rolling back otherwise.
func (s *Store) WithTx(fn func(*Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fault.Wrap(fault.StoreError, err, "begin transaction")
	}
	defer tx.Rollback()

	if err := fn(&Tx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fault.Wrap(fault.StoreError, err, "commit transaction")
	}
	return nil
}

// Read returns an auto-commit view for read-only callers (CLI,
// dashboard). Writers must go through WithTx.
func (s *Store) Read() *Tx {
	return &Tx{q: s.db}
}

var errNoRows = sql.ErrNoRows

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, errNoRows) {
		return fault.New(fault.NotFound, format, args...)
	}
	return fault.Wrap(fault.StoreError, err, format, args...)
}
