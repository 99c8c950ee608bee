package memory

import (
	"context"
	"errors"

	"github.com/avvvet/brain/internal/models"
)

var (
	// ErrNotFound is returned by Get for sessions that were never committed or were evicted.
	ErrNotFound = errors.New("session not found")
	// ErrVersionConflict is returned by Put when the stored version moved past the expected one.
	ErrVersionConflict = errors.New("session version conflict")
)

// Store defines the interface for session state storage
// This allows us to swap between Redis, SQLite, in-memory, etc.
type Store interface {
	// Get loads the committed state of a session
	Get(ctx context.Context, sessionID string) (models.SessionState, error)

	// Put replaces the state iff the stored version equals expectedVersion
	// (0 means the session must not exist yet)
	Put(ctx context.Context, sessionID string, expectedVersion uint64, state models.SessionState) error

	// Delete removes a session from storage
	Delete(ctx context.Context, sessionID string) error
}
