package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/deckhand/core"
)

// SQLiteStore implements Store using SQLite. States are stored as JSON
// documents, one row per workspace; log events keep their append order
// through an autoincrement sequence.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at dsn and applies migrations.
// Use ":memory:" for a private in-memory database.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS workspace_states (
			workspace_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			state TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS workspace_logs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id TEXT NOT NULL,
			event TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workspace_logs_ws ON workspace_logs(workspace_id, seq)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReadState loads the state of workspaceID.
func (s *SQLiteStore) ReadState(ctx context.Context, workspaceID string) (core.RunState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM workspace_states WHERE workspace_id = ?`, workspaceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RunState{}, ErrNotFound
	}
	if err != nil {
		return core.RunState{}, fmt.Errorf("read state %s: %w", workspaceID, err)
	}
	var state core.RunState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return core.RunState{}, fmt.Errorf("decode state %s: %w", workspaceID, err)
	}
	return state.Normalize(), nil
}

// WriteState upserts the state of workspaceID.
func (s *SQLiteStore) WriteState(ctx context.Context, workspaceID string, state core.RunState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", workspaceID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workspace_states (workspace_id, run_id, state, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(workspace_id) DO UPDATE SET run_id = excluded.run_id, state = excluded.state, updated_at = excluded.updated_at`,
		workspaceID, state.RunID, string(raw))
	if err != nil {
		return fmt.Errorf("write state %s: %w", workspaceID, err)
	}
	return nil
}

// AppendLog stores one event for workspaceID.
func (s *SQLiteStore) AppendLog(ctx context.Context, workspaceID string, event json.RawMessage) error {
	if !json.Valid(event) {
		return fmt.Errorf("append log %s: invalid json event", workspaceID)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace_logs (workspace_id, event) VALUES (?, ?)`, workspaceID, string(event)); err != nil {
		return fmt.Errorf("append log %s: %w", workspaceID, err)
	}
	return nil
}

// ReadLog returns the events of workspaceID in append order.
func (s *SQLiteStore) ReadLog(ctx context.Context, workspaceID string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event FROM workspace_logs WHERE workspace_id = ? ORDER BY seq`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("read log %s: %w", workspaceID, err)
	}
	defer rows.Close()

	out := []json.RawMessage{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan log %s: %w", workspaceID, err)
		}
		out = append(out, json.RawMessage(raw))
	}
	return out, rows.Err()
}
