// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"database/sql"
	"fmt"

	"github.com/ManuGH/codecshift/internal/log"
)

// targetSchemaVersion is the version a fresh database is initialised at.
const targetSchemaVersion = 4

// baseSchema creates all tables at targetSchemaVersion in one shot.
// Used only for fresh databases; existing databases replay migrations.
const baseSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	hostname TEXT PRIMARY KEY,
	session_token TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'booting',
	command TEXT NOT NULL DEFAULT 'running',
	last_heartbeat TEXT NOT NULL,
	connected_at TEXT NOT NULL,
	progress REAL NOT NULL DEFAULT 0,
	fps REAL NOT NULL DEFAULT 0,
	current_file TEXT NOT NULL DEFAULT '',
	total_duration REAL NOT NULL DEFAULT 0,
	job_start_time TEXT
);

CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filepath TEXT NOT NULL UNIQUE,
	job_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending'
		CHECK(status IN ('pending', 'awaiting_approval', 'encoding', 'completed', 'failed')),
	assigned_to TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS encoded_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filepath TEXT NOT NULL,
	original_size INTEGER NOT NULL DEFAULT 0,
	new_size INTEGER NOT NULL DEFAULT 0,
	encoded_by TEXT NOT NULL DEFAULT '',
	encoded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS failed_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filepath TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	log TEXT NOT NULL DEFAULT '',
	failed_by TEXT NOT NULL DEFAULT '',
	failed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS media_source_types (
	source_name TEXT NOT NULL,
	scanner_type TEXT NOT NULL,
	media_type TEXT NOT NULL DEFAULT '',
	is_hidden INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source_name, scanner_type)
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_type ON jobs(status, job_type);
CREATE INDEX IF NOT EXISTS idx_jobs_assigned ON jobs(assigned_to);
CREATE INDEX IF NOT EXISTS idx_encoded_files_path ON encoded_files(filepath);
CREATE INDEX IF NOT EXISTS idx_encoded_files_by ON encoded_files(encoded_by, encoded_at);
`

// migrations upgrade databases created before targetSchemaVersion.
// Version 1 is the original layout; each entry's statements bring the
// schema from version-1 to version.
var migrations = []struct {
	version int
	stmts   []string
}{
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS media_source_types (
				source_name TEXT NOT NULL,
				scanner_type TEXT NOT NULL,
				media_type TEXT NOT NULL DEFAULT '',
				is_hidden INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (source_name, scanner_type)
			)`,
		},
	},
	{
		version: 3,
		stmts: []string{
			`ALTER TABLE jobs ADD COLUMN metadata TEXT`,
		},
	},
	{
		version: 4,
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_jobs_status_type ON jobs(status, job_type)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_assigned ON jobs(assigned_to)`,
			`CREATE INDEX IF NOT EXISTS idx_encoded_files_path ON encoded_files(filepath)`,
			`CREATE INDEX IF NOT EXISTS idx_encoded_files_by ON encoded_files(encoded_by, encoded_at)`,
		},
	},
}

// Migrate brings the schema to targetSchemaVersion. A fresh database is
// initialised directly at the target version; an existing one replays
// each migration above its recorded version, committing per version bump.
func (s *Store) Migrate() error {
	logger := log.WithComponent("store")

	fresh, err := s.isFresh()
	if err != nil {
		return err
	}

	if fresh {
		if _, err := s.db.Exec(baseSchema); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, targetSchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		logger.Info().
			Int("version", targetSchemaVersion).
			Str("event", "store.schema_initialized").
			Msg("fresh database initialised")
		return nil
	}

	current, err := s.schemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: bump version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		logger.Info().
			Int("from", current).
			Int("to", m.version).
			Str("event", "store.schema_migrated").
			Msg("schema migrated")
		current = m.version
	}

	return nil
}

// isFresh reports whether the database contains no tables yet.
func (s *Store) isFresh() (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("inspect schema: %w", err)
	}
	return count == 0, nil
}

// schemaVersion reads the current version; a pre-versioning database is
// assumed to be at version 1 and the row is inserted.
func (s *Store) schemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("inspect schema_version: %w", err)
	}
	if exists == 0 {
		if _, err := s.db.Exec(`CREATE TABLE schema_version (version INTEGER NOT NULL)`); err != nil {
			return 0, fmt.Errorf("create schema_version: %w", err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return 0, fmt.Errorf("seed schema_version: %w", err)
		}
		return 1, nil
	}

	var version int
	err = s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return 0, fmt.Errorf("seed schema_version: %w", err)
		}
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return version, nil
}
