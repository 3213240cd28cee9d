package knowledge

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Config holds knowledge store configuration.
type Config struct {
	// DataDir is the directory holding knowledge.db. Ignored when Path is
	// set.
	DataDir string
	// Path overrides the database location entirely; tests use
	// "file::memory:" here.
	Path string
}

// Store is the persistent knowledge engine backed by SQLite in WAL mode.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens (creating if necessary) the knowledge database and runs
// migrations.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dbPath := cfg.Path
	if dbPath == "" {
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("knowledge: data dir or path required")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("knowledge: create data dir: %w", err)
		}
		dbPath = filepath.Join(cfg.DataDir, "knowledge.db")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("knowledge: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("knowledge: migration: %w", err)
	}

	logger.Info("knowledge store opened", zap.String("path", dbPath))
	return s, nil
}

// DB exposes the underlying handle so the graph store can share the same
// database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS decisions (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			project            TEXT,
			context            TEXT,
			decision           TEXT    NOT NULL,
			reasoning          TEXT,
			alternatives       TEXT,
			outcome            TEXT,
			status             TEXT    NOT NULL DEFAULT 'active',
			maturity_status    TEXT    NOT NULL DEFAULT 'hypothesis',
			confidence_score   REAL    NOT NULL DEFAULT 0.5,
			times_used         INTEGER NOT NULL DEFAULT 0,
			times_confirmed    INTEGER NOT NULL DEFAULT 0,
			times_contradicted INTEGER NOT NULL DEFAULT 0,
			superseded_by      INTEGER,
			created_at         TEXT    NOT NULL DEFAULT (datetime('now')),
			updated_at         TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_project  ON decisions(project);
		CREATE INDEX IF NOT EXISTS idx_decisions_maturity ON decisions(maturity_status, confidence_score DESC);

		CREATE TABLE IF NOT EXISTS learnings (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			error_type         TEXT    NOT NULL,
			error_message      TEXT,
			root_cause         TEXT,
			solution           TEXT    NOT NULL,
			prevention         TEXT,
			context            TEXT,
			project            TEXT,
			frequency          INTEGER NOT NULL DEFAULT 1,
			last_occurred      TEXT    NOT NULL DEFAULT (datetime('now')),
			maturity_status    TEXT    NOT NULL DEFAULT 'hypothesis',
			confidence_score   REAL    NOT NULL DEFAULT 0.5,
			times_used         INTEGER NOT NULL DEFAULT 0,
			times_confirmed    INTEGER NOT NULL DEFAULT 0,
			times_contradicted INTEGER NOT NULL DEFAULT 0,
			superseded_by      INTEGER,
			created_at         TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_learnings_type     ON learnings(error_type);
		CREATE INDEX IF NOT EXISTS idx_learnings_project  ON learnings(project);
		CREATE INDEX IF NOT EXISTS idx_learnings_maturity ON learnings(maturity_status, confidence_score DESC);

		CREATE TABLE IF NOT EXISTS memories (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			type          TEXT    NOT NULL,
			category      TEXT,
			content       TEXT    NOT NULL,
			content_hash  TEXT    NOT NULL UNIQUE,
			metadata      TEXT,
			importance    INTEGER NOT NULL DEFAULT 5,
			access_count  INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT    NOT NULL DEFAULT (datetime('now')),
			last_accessed TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_memories_type     ON memories(type, category);
		CREATE INDEX IF NOT EXISTS idx_memories_created  ON memories(created_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("knowledge: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("knowledge: commit: %w", err)
	}
	return nil
}
