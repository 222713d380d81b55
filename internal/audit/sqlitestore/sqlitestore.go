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

// Package sqlitestore is an optional queryable mirror of the hash-chained
// audit log. internal/audit.Logger's JSON-lines file remains the canonical
// source of truth (it's what VerifyIntegrity checks); this store just lets
// `conductor verify query --since` and similar operator queries filter by run_id,
// time range, or event_type without re-parsing every .jsonl file under the
// logs directory.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/conductor/internal/audit"
)

// Store mirrors audit.Entry rows into a SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite database at path and ensures its schema
// exists. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlitestore: path is required")
	}

	connStr := path
	if path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // mirror writes are serialized through Append anyway

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	workflow_name TEXT NOT NULL,
	run_id        TEXT NOT NULL,
	timestamp     TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	step_name     TEXT,
	message       TEXT,
	data          TEXT,
	entry_hash    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_run ON audit_entries(run_id);
CREATE INDEX IF NOT EXISTS idx_audit_entries_time ON audit_entries(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_entries_event ON audit_entries(event_type);
`

// Append mirrors one audit.Entry. Callers should run this off the hot path
// (internal/audit.Logger does so over a buffered channel) since a slow or
// locked SQLite write must never delay the canonical JSON-lines append.
func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("sqlitestore: failed to marshal entry data: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (workflow_name, run_id, timestamp, event_type, step_name, message, data, entry_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Workflow, e.RunID, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.EventType), e.StepName, e.Message, string(data), e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: failed to insert entry: %w", err)
	}
	return nil
}

// Query is a set of optional filters for Find.
type Query struct {
	RunID     string
	EventType string
	Since     time.Time
	Until     time.Time
}

// Find returns entries matching q, ordered oldest first.
func (s *Store) Find(ctx context.Context, q Query) ([]audit.Entry, error) {
	clause := "WHERE 1=1"
	args := []interface{}{}

	if q.RunID != "" {
		clause += " AND run_id = ?"
		args = append(args, q.RunID)
	}
	if q.EventType != "" {
		clause += " AND event_type = ?"
		args = append(args, q.EventType)
	}
	if !q.Since.IsZero() {
		clause += " AND timestamp >= ?"
		args = append(args, q.Since.UTC().Format(time.RFC3339Nano))
	}
	if !q.Until.IsZero() {
		clause += " AND timestamp <= ?"
		args = append(args, q.Until.UTC().Format(time.RFC3339Nano))
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT workflow_name, run_id, timestamp, event_type, step_name, message, data, entry_hash
		              FROM audit_entries %s ORDER BY id ASC`, clause),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query failed: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e         audit.Entry
			timestamp string
			eventType string
			data      string
		)
		if err := rows.Scan(&e.Workflow, &e.RunID, &timestamp, &eventType, &e.StepName, &e.Message, &data, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan failed: %w", err)
		}
		e.EventType = audit.EventType(eventType)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
			return nil, fmt.Errorf("sqlitestore: invalid timestamp %q: %w", timestamp, err)
		}
		if data != "" {
			if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
				return nil, fmt.Errorf("sqlitestore: invalid data for run %s: %w", e.RunID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
