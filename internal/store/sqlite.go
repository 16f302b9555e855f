package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all tables and indexes. Every statement is idempotent so
// it is safe to run on every open.
func initSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			screening_id TEXT NOT NULL,
			candidate_name TEXT NOT NULL,
			candidate_email TEXT NOT NULL,
			job_id TEXT NOT NULL,
			job_title TEXT NOT NULL,
			recruiter_email TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			match_context TEXT NOT NULL DEFAULT '',
			questions TEXT NOT NULL DEFAULT '',
			answers TEXT NOT NULL DEFAULT '',
			payload_version INTEGER NOT NULL,
			current_turn INTEGER NOT NULL DEFAULT 0,
			max_turns INTEGER NOT NULL,
			follow_up_count INTEGER NOT NULL DEFAULT 0,
			last_outreach_at INTEGER,
			last_reply_at INTEGER,
			outcome_summary TEXT NOT NULL DEFAULT '',
			outcome_score REAL,
			note_created INTEGER NOT NULL DEFAULT 0,
			handoff_sent INTEGER NOT NULL DEFAULT 0,
			last_message_id TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_candidate_status ON sessions(candidate_email, status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_job_candidate ON sessions(job_id, candidate_email)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			turn_number INTEGER NOT NULL,
			direction TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			intent TEXT NOT NULL DEFAULT '',
			reasoning TEXT NOT NULL DEFAULT '',
			answers TEXT NOT NULL DEFAULT '',
			questions TEXT NOT NULL DEFAULT '',
			message_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			UNIQUE(session_id, turn_number),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	return nil
}

// withTx runs fn inside an immediate transaction, committing on nil error and
// rolling back otherwise.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
