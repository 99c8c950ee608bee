package memory

import (
	"context"
	"sync"

	"github.com/avvvet/brain/internal/models"
)

// InMemoryStore implements Store with a mutex-guarded map. State does not
// survive a restart.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]models.SessionState
}

// NewInMemoryStore creates an empty store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]models.SessionState)}
}

func (m *InMemoryStore) Get(ctx context.Context, sessionID string) (models.SessionState, error) {
	if err := ctx.Err(); err != nil {
		return models.SessionState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return models.SessionState{}, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *InMemoryStore) Put(ctx context.Context, sessionID string, expectedVersion uint64, state models.SessionState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[sessionID].Version != expectedVersion {
		return ErrVersionConflict
	}
	m.sessions[sessionID] = state.Clone()
	return nil
}

func (m *InMemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}
