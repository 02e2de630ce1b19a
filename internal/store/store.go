// Package store provides SQLite-backed persistence: read access to the
// externally owned catalog (stories, sections, voices) and ownership of the
// section audio synthesis state.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const dirPermissions = 0o750

const schemaSQL = `
CREATE TABLE IF NOT EXISTS stories (
    id    TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sections (
    id            TEXT PRIMARY KEY,
    story_id      TEXT NOT NULL REFERENCES stories(id),
    section_index INTEGER NOT NULL,
    text          TEXT NOT NULL DEFAULT '',
    UNIQUE (story_id, section_index)
);

CREATE TABLE IF NOT EXISTS voices (
    id           TEXT PRIMARY KEY,
    provider     TEXT NOT NULL DEFAULT '',
    provider_ref TEXT NOT NULL DEFAULT '',
    model_id     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS section_audio (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    section_id    TEXT NOT NULL REFERENCES sections(id),
    voice_id      TEXT NOT NULL REFERENCES voices(id),
    status        TEXT NOT NULL,
    audio_url     TEXT,
    duration_sec  REAL,
    checksum      TEXT,
    transcript    TEXT,
    error         TEXT,
    metadata_json TEXT,
    started_at    TEXT,
    completed_at  TEXT,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL,
    UNIQUE (section_id, voice_id)
);
`

// Store wraps the SQLite database backing both the catalog reads and the
// section audio state machine.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("ensure database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()

			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite db: %w", err)
	}

	return nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return timestamp(*t)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}

	return *s
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}

	return *f
}

func parseTimePtr(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}

	parsed, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", value.String, err)
	}

	return &parsed, nil
}
