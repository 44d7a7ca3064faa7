// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage persists the lifecycle event log in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// StoredEvent is one persisted lifecycle event.
type StoredEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Moniker   string    `json:"moniker"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is a SQLite-backed event log.
type Store struct {
	db *sql.DB
}

// Config contains event store configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The special
	// value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections. Zero picks
	// a small default suited to WAL mode.
	MaxOpenConns int
}

// New opens (creating if necessary) the event log database.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// WAL mode lets the diagnostics readers run alongside the writer hook.
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS lifecycle_events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			moniker TEXT NOT NULL,
			url TEXT,
			error TEXT,
			timestamp INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_moniker ON lifecycle_events(moniker)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON lifecycle_events(type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON lifecycle_events(timestamp)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Append stores one event. Re-appending the same event id is a no-op, so a
// retried dispatch never duplicates log entries.
func (s *Store) Append(ctx context.Context, ev StoredEvent) error {
	if ev.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if ev.Type == "" {
		return fmt.Errorf("event type is required")
	}

	query := `
		INSERT INTO lifecycle_events (id, type, moniker, url, error, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.Type, ev.Moniker, ev.URL, ev.Error,
		ev.Timestamp.UnixNano(), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, type, moniker, url, error, timestamp
		FROM lifecycle_events
		ORDER BY timestamp DESC, created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ByMoniker returns up to limit events for one instance, newest first.
func (s *Store) ByMoniker(ctx context.Context, moniker string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, type, moniker, url, error, timestamp
		FROM lifecycle_events
		WHERE moniker = ?
		ORDER BY timestamp DESC, created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, moniker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]StoredEvent, error) {
	var events []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var url, errMsg sql.NullString
		var ts int64
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Moniker, &url, &errMsg, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.URL = url.String
		ev.Error = errMsg.String
		ev.Timestamp = time.Unix(0, ts)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// Prune deletes events older than the cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM lifecycle_events WHERE timestamp < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
