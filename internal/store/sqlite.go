package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the shieldd record store.
const schema = `
CREATE TABLE IF NOT EXISTS records (
    key         TEXT PRIMARY KEY,
    value       BLOB NOT NULL,
    updated_ns  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS archive (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    key         TEXT NOT NULL,
    value       BLOB NOT NULL,
    reason      TEXT NOT NULL,
    archived_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_archive_key ON archive(key, archived_ns);
`

// SQLiteStore is the durable record store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and applies
// the schema.
func Open(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the value stored under key.
func (s *SQLiteStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM records WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get record %q: %w", key, err)
	}
	return value, nil
}

// Set atomically replaces the value stored under key. The upsert runs in
// an implicit transaction, so a crash mid-write leaves the old value.
func (s *SQLiteStore) Set(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO records (key, value, updated_ns) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_ns = excluded.updated_ns`,
		key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("set record %q: %w", key, err)
	}
	return nil
}

// Delete removes the value stored under key.
func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete record %q: %w", key, err)
	}
	return nil
}

// Archive quarantines a record value for diagnostics and removes the live
// record in the same transaction.
func (s *SQLiteStore) Archive(key string, value []byte, reason string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO archive (key, value, reason, archived_ns) VALUES (?, ?, ?, ?)`,
		key, value, reason, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("archive record %q: %w", key, err)
	}

	if _, err := tx.Exec(`DELETE FROM records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove archived record %q: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ArchivedEntry is a quarantined record retained for diagnostics.
type ArchivedEntry struct {
	ID         int64
	Key        string
	Value      []byte
	Reason     string
	ArchivedNs int64
}

// Archived returns quarantined entries for a key, newest first.
func (s *SQLiteStore) Archived(key string) ([]ArchivedEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, key, value, reason, archived_ns
		FROM archive
		WHERE key = ?
		ORDER BY archived_ns DESC`, key,
	)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var entries []ArchivedEntry
	for rows.Next() {
		var e ArchivedEntry
		if err := rows.Scan(&e.ID, &e.Key, &e.Value, &e.Reason, &e.ArchivedNs); err != nil {
			return nil, fmt.Errorf("scan archive entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive entries: %w", err)
	}
	return entries, nil
}
