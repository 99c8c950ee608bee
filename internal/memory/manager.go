package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avvvet/brain/internal/models"
)

// DefaultHistoryMaxLength bounds SessionState.History when no limit is configured.
const DefaultHistoryMaxLength = 10

// Manager owns session state: it loads and commits through a Store and
// decides how history is summarized.
type Manager struct {
	store      Store
	historyMax int
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	active map[string]struct{} // sessions committed through this manager
}

// NewManager creates a new memory manager
func NewManager(store Store, historyMaxLength int, logger *slog.Logger) *Manager {
	if historyMaxLength <= 0 {
		historyMaxLength = DefaultHistoryMaxLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      store,
		historyMax: historyMaxLength,
		logger:     logger,
		now:        time.Now,
		active:     make(map[string]struct{}),
	}
}

// HistoryMaxLength returns the configured history bound.
func (m *Manager) HistoryMaxLength() int {
	return m.historyMax
}

// Load returns the committed state of a session, or a fresh empty state at
// version 0 when there is none. Nothing is written until Commit, so loading an
// absent session any number of times yields the same state.
func (m *Manager) Load(ctx context.Context, sessionID string) (models.SessionState, error) {
	s, err := m.store.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		m.logger.Debug("session_created", "session_id", sessionID)
		return models.NewSessionState(sessionID), nil
	}
	if err != nil {
		return models.SessionState{}, fmt.Errorf("failed to load session: %w", err)
	}
	return s, nil
}

// AppendTurn adds a turn to the history and compacts it to the configured bound.
func (m *Manager) AppendTurn(s *models.SessionState, turn models.TurnSummary) {
	s.History = append(s.History, turn)
	m.Compact(s)
}

// Compact folds the oldest turns into the rolling summary until the history
// fits. The result depends only on the input state.
func (m *Manager) Compact(s *models.SessionState) {
	overflow := len(s.History) - m.historyMax
	if overflow <= 0 {
		return
	}
	for _, turn := range s.History[:overflow] {
		s.Summary.Absorb(turn)
	}
	s.History = append([]models.TurnSummary(nil), s.History[overflow:]...)
}

// Commit stores next as version expectedVersion+1 if the stored version is
// still expectedVersion. It returns ErrVersionConflict otherwise.
func (m *Manager) Commit(ctx context.Context, sessionID string, expectedVersion uint64, next models.SessionState) (models.SessionState, error) {
	out := next.Clone()
	out.SessionID = sessionID
	out.Version = expectedVersion + 1
	out.UpdatedAt = m.now().UTC()
	m.Compact(&out)

	if err := m.store.Put(ctx, sessionID, expectedVersion, out); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return models.SessionState{}, err
		}
		return models.SessionState{}, fmt.Errorf("failed to commit session: %w", err)
	}

	m.mu.Lock()
	m.active[sessionID] = struct{}{}
	m.mu.Unlock()

	m.logger.Debug("session_committed", "session_id", sessionID, "version", out.Version, "history", len(out.History))
	return out, nil
}

// Evict removes a session, e.g. when the conversation is closed.
func (m *Manager) Evict(ctx context.Context, sessionID string) error {
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to evict session: %w", err)
	}

	m.mu.Lock()
	delete(m.active, sessionID)
	m.mu.Unlock()

	m.logger.Info("session_evicted", "session_id", sessionID)
	return nil
}

// GetActiveSessionCount returns the number of sessions committed and not evicted
func (m *Manager) GetActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Ping checks that the backing store is reachable. Stores without a remote
// dependency are always ready.
func (m *Manager) Ping(ctx context.Context) error {
	if pinger, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("session store unreachable: %w", err)
		}
	}
	return nil
}

// Close closes the underlying store
func (m *Manager) Close() error {
	if closer, ok := m.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
