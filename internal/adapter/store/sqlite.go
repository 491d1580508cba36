package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"fxbot/internal/domain"
)

// SQLiteSessionStore persists the single session state row in SQLite.
type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration. Parent directories are created as
// needed.
func NewSQLiteSessionStore(dbPath string) (*SQLiteSessionStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create session db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &SQLiteSessionStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_state (
			id    INTEGER PRIMARY KEY,
			state TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteSessionStore) Close() error {
	return s.db.Close()
}

// Save upserts the session state. There is only ever one row.
func (s *SQLiteSessionStore) Save(ctx context.Context, state domain.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_state (id, state) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET state = excluded.state
	`, string(data))
	return err
}

// Load returns the stored session state, or domain.ErrNoSession when no
// login has been performed yet.
func (s *SQLiteSessionStore) Load(ctx context.Context) (domain.SessionState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT state FROM session_state WHERE id = 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionState{}, domain.ErrNoSession
	}
	if err != nil {
		return domain.SessionState{}, err
	}

	var state domain.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return domain.SessionState{}, fmt.Errorf("unmarshal session state: %w", err)
	}
	return state, nil
}
