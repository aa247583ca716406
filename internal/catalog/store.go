// Package catalog is the embedded relational store recording every asset by
// stable guid, the append-only event log, scene paths, and per-project index
// state snapshots.
package catalog

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps the SQLite catalog file.
type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath returns the catalog location under the per-user application
// data directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "movesia", "catalog.db"), nil
}

// Open opens (creating if needed) the catalog at path, enables WAL with
// normal-durability sync and foreign keys, and migrates the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	// The catalog is single-writer; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the catalog tables and indices if missing. Idempotent.
func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			ts      INTEGER NOT NULL,
			session TEXT,
			type    TEXT NOT NULL,
			body    TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);`,
		`CREATE TABLE IF NOT EXISTS assets (
			guid       TEXT PRIMARY KEY,
			path       TEXT NOT NULL,
			kind       TEXT,
			mtime      INTEGER,
			size       INTEGER,
			hash       TEXT,
			deleted    INTEGER NOT NULL DEFAULT 0,
			updated_ts INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_path ON assets(path);`,
		`CREATE TABLE IF NOT EXISTS asset_deps (
			guid TEXT NOT NULL,
			dep  TEXT NOT NULL,
			PRIMARY KEY (guid, dep)
		);`,
		`CREATE TABLE IF NOT EXISTS scenes (
			guid       TEXT PRIMARY KEY,
			path       TEXT NOT NULL,
			updated_ts INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS index_state (
			project_id   TEXT PRIMARY KEY,
			snapshot_sha TEXT NOT NULL,
			total_items  INTEGER NOT NULL,
			qdrant_count INTEGER,
			completed_at INTEGER NOT NULL
		);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate catalog: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying handle for maintenance and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the catalog file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the catalog.
func (s *Store) Close() error {
	return s.db.Close()
}

// ProjectID derives the 16-hex-char identifier of a project root: the
// SHA-256 prefix over the slash-normalized root with no trailing slash.
func ProjectID(root string) string {
	norm := strings.TrimRight(strings.ReplaceAll(root, "\\", "/"), "/")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])[:16]
}
