// Package history persists an append-only ledger of recording start/stop
// events so an operator can audit what was recorded across restarts, even
// though the log-container files themselves carry no transactional
// durability guarantee. Adapted from the teacher's ordered-migrations
// pattern (store/store.go).
package history

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL statements that bring the schema
// up to date. Index i corresponds to version i+1. Append only — never edit
// or reorder existing entries.
var migrations = []string{
	// v1 — recording events
	`CREATE TABLE IF NOT EXISTS recording_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id   TEXT NOT NULL,
		file_path   TEXT NOT NULL,
		event       TEXT NOT NULL,
		occurred_at DATETIME NOT NULL
	)`,
	// v2 — index for per-device lookups
	`CREATE INDEX IF NOT EXISTS idx_recording_events_device ON recording_events(device_id)`,
	// v3 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a SQLite database holding the recording ledger.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[history] busy_timeout: %v (non-fatal)", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		log.Printf("[history] applied migration v%d", v)
	}
	return nil
}

// Event names recorded in the ledger.
const (
	EventStart = "start"
	EventStop  = "stop"
)

// RecordStart appends a start event for deviceID/filePath at occurredAt.
func (s *Store) RecordStart(deviceID, filePath string, occurredAt time.Time) error {
	return s.insert(deviceID, filePath, EventStart, occurredAt)
}

// RecordStop appends a stop event for deviceID/filePath at occurredAt.
func (s *Store) RecordStop(deviceID, filePath string, occurredAt time.Time) error {
	return s.insert(deviceID, filePath, EventStop, occurredAt)
}

func (s *Store) insert(deviceID, filePath, event string, occurredAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO recording_events(device_id, file_path, event, occurred_at) VALUES(?, ?, ?, ?)`,
		deviceID, filePath, event, occurredAt.UTC(),
	)
	return err
}

// Event is one row of the recording ledger.
type Event struct {
	DeviceID   string
	FilePath   string
	Kind       string
	OccurredAt time.Time
}

// ForDevice returns every ledger event for deviceID, oldest first.
func (s *Store) ForDevice(deviceID string) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT device_id, file_path, event, occurred_at FROM recording_events
		 WHERE device_id = ? ORDER BY id ASC`, deviceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.DeviceID, &e.FilePath, &e.Kind, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Recent returns the most recent limit ledger events across every device,
// newest first, for operator-facing summaries (e.g. a CLI recordings list).
func (s *Store) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT device_id, file_path, event, occurred_at FROM recording_events
		 ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.DeviceID, &e.FilePath, &e.Kind, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
