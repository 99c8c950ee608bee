package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avvvet/brain/internal/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id  TEXT PRIMARY KEY,
	version     INTEGER NOT NULL,
	state_json  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
`

// SQLiteStore implements Store on a single SQLite table. The version column
// is the compare-and-set guard.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database file is still reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (models.SessionState, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SessionState{}, ErrNotFound
	}
	if err != nil {
		return models.SessionState{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}

	var state models.SessionState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return models.SessionState{}, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return state, nil
}

// Put inserts the first version or updates the row whose version still matches.
// Zero affected rows means another writer got there first.
func (s *SQLiteStore) Put(ctx context.Context, sessionID string, expectedVersion uint64, state models.SessionState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO sessions (session_id, version, state_json, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(session_id) DO NOTHING`,
			sessionID, state.Version, string(stateJSON), now,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET version = ?, state_json = ?, updated_at = ?
			 WHERE session_id = ? AND version = ?`,
			state.Version, string(stateJSON), now, sessionID, expectedVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("put session %s: %w", sessionID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}
