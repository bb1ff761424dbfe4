package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Indexed files; times are unix nanoseconds, UTC
CREATE TABLE IF NOT EXISTS indexed_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repo_path TEXT NOT NULL,
    file_path TEXT NOT NULL,
    file_type TEXT NOT NULL,
    content TEXT NOT NULL,
    last_modified INTEGER NOT NULL,
    file_size INTEGER NOT NULL CHECK (file_size > 0),
    indexed_at INTEGER NOT NULL,
    UNIQUE(repo_path, file_path)
);

CREATE INDEX IF NOT EXISTS idx_indexed_files_repo ON indexed_files(repo_path);

-- Trigram postings
CREATE TABLE IF NOT EXISTS trigrams (
    trigram TEXT NOT NULL,
    file_id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    FOREIGN KEY (file_id) REFERENCES indexed_files(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_trigrams_trigram ON trigrams(trigram);
CREATE INDEX IF NOT EXISTS idx_trigrams_file ON trigrams(file_id);

-- Repository sync bookkeeping
CREATE TABLE IF NOT EXISTS repo_cache (
    path TEXT PRIMARY KEY,
    repo_name TEXT NOT NULL,
    repo_url TEXT,
    last_pull_attempt DATETIME,
    last_successful_pull DATETIME
);
`

const migrationV1Down = `
DROP TABLE IF EXISTS repo_cache;
DROP TABLE IF EXISTS trigrams;
DROP TABLE IF EXISTS indexed_files;
DROP TABLE IF EXISTS schema_version;
`

// One posting per distinct trigram per file.
const migrationV11Up = `
DELETE FROM trigrams WHERE rowid NOT IN (
    SELECT MIN(rowid) FROM trigrams GROUP BY file_id, trigram
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_trigrams_unique ON trigrams(file_id, trigram);
`

const migrationV11Down = `
DROP INDEX IF EXISTS idx_trigrams_unique;
`

// currentVersion returns the highest applied schema version, or "0.0.0".
func currentVersion(ctx context.Context, db *sql.DB) (string, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return "0.0.0", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return "", fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	highest := semver.MustParse("0.0.0")
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", err
		}
		parsed, err := semver.NewVersion(v)
		if err != nil {
			return "", fmt.Errorf("invalid schema version %s: %w", v, err)
		}
		if parsed.GreaterThan(highest) {
			highest = parsed
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return highest.String(), nil
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	currentVer, err := semver.NewVersion(current)
	if err != nil {
		return fmt.Errorf("invalid current schema version %s: %w", current, err)
	}

	// Run migrations in order
	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVer.LessThan(migrationVersion) {
			continue // Already applied
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %s: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", migration.Version, err)
		}

		currentVer = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current == "0.0.0" {
		return fmt.Errorf("no migrations to rollback")
	}

	// Find migration
	var migration *Migration
	for i := range AllMigrations {
		v, err := semver.NewVersion(AllMigrations[i].Version)
		if err == nil && v.String() == current {
			migration = &AllMigrations[i]
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	// Execute rollback
	_, err = db.ExecContext(ctx, migration.Down)
	if err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", current, err)
	}

	// The first migration drops schema_version itself
	if migration.Version == AllMigrations[0].Version {
		return nil
	}

	// Remove version record
	_, err = db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version)
	if err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}
