package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/brain/internal/models"
)

func turn(seq uint64, intent models.Intent, action models.ActionTag, prov models.Provenance) models.TurnSummary {
	return models.TurnSummary{
		Sequence:   seq,
		Intent:     intent,
		Action:     action,
		Provenance: prov,
		At:         time.Date(2025, 1, 1, 0, 0, int(seq), 0, time.UTC),
	}
}

func TestManagerLoadCreatesEmptySession(t *testing.T) {
	mgr := NewManager(NewInMemoryStore(), 10, nil)

	s, err := mgr.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", s.SessionID)
	assert.Equal(t, uint64(0), s.Version)
	assert.Empty(t, s.History)
	assert.Empty(t, s.Slots)

	again, err := mgr.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, s, again)
	assert.Equal(t, 0, mgr.GetActiveSessionCount())
}

func TestManagerCommitIncrementsVersion(t *testing.T) {
	store := NewInMemoryStore()
	mgr := NewManager(store, 10, nil)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return fixed }
	ctx := context.Background()

	s, err := mgr.Load(ctx, "s1")
	require.NoError(t, err)

	for want := uint64(1); want <= 3; want++ {
		s.MergeSlots(map[string]any{"policy_number": fmt.Sprintf("P%d", want)})
		mgr.AppendTurn(&s, turn(want, models.IntentGetQuote, models.ActionProvideQuote, models.FromPolicy))

		committed, err := mgr.Commit(ctx, "s1", s.Version, s)
		require.NoError(t, err)
		assert.Equal(t, want, committed.Version)
		assert.Equal(t, fixed, committed.UpdatedAt)

		s, err = mgr.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, committed, s)
	}
	assert.Equal(t, "P3", s.Slots["policy_number"])
	assert.Equal(t, 1, mgr.GetActiveSessionCount())
}

func TestManagerCommitConflict(t *testing.T) {
	mgr := NewManager(NewInMemoryStore(), 10, nil)
	ctx := context.Background()

	base, err := mgr.Load(ctx, "s1")
	require.NoError(t, err)

	_, err = mgr.Commit(ctx, "s1", base.Version, base)
	require.NoError(t, err)

	_, err = mgr.Commit(ctx, "s1", base.Version, base)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) (models.SessionState, error) {
	return models.SessionState{}, f.err
}

func (f failingStore) Put(context.Context, string, uint64, models.SessionState) error {
	return f.err
}

func (f failingStore) Delete(context.Context, string) error { return f.err }

func TestManagerWrapsStoreErrors(t *testing.T) {
	boom := errors.New("connection refused")
	mgr := NewManager(failingStore{err: boom}, 10, nil)

	_, err := mgr.Load(context.Background(), "s1")
	assert.ErrorIs(t, err, boom)

	_, err = mgr.Commit(context.Background(), "s1", 0, models.NewSessionState("s1"))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 0, mgr.GetActiveSessionCount())
}

func TestManagerHistoryIsBounded(t *testing.T) {
	mgr := NewManager(NewInMemoryStore(), 3, nil)
	s := models.NewSessionState("s1")

	mgr.AppendTurn(&s, turn(1, models.IntentGreeting, models.ActionGreet, models.FromPolicy))
	mgr.AppendTurn(&s, turn(2, models.IntentRequestSupport, models.ActionEscalateToHuman, models.FromEscalation))
	mgr.AppendTurn(&s, turn(3, models.IntentGetQuote, models.ActionRequestSlot, models.FromPolicy))
	assert.Len(t, s.History, 3)
	assert.Equal(t, 0, s.Summary.CompactedTurns)

	mgr.AppendTurn(&s, turn(4, models.IntentGetQuote, models.ActionProvideQuote, models.FromPolicy))
	mgr.AppendTurn(&s, turn(5, models.IntentUnknown, models.ActionAskClarification, models.FromFallback))

	require.Len(t, s.History, 3)
	assert.Equal(t, uint64(3), s.History[0].Sequence)
	assert.Equal(t, uint64(5), s.History[2].Sequence)

	assert.Equal(t, 2, s.Summary.CompactedTurns)
	assert.Equal(t, 1, s.Summary.Escalations)
	assert.Equal(t, uint64(2), s.Summary.LastSequence)
	assert.Equal(t,
		"2 earlier turns; intents: GREETING=1,REQUEST_SUPPORT=1; actions: ESCALATE_TO_HUMAN=1,GREET=1; escalations: 1",
		s.Summary.String())
}

func TestManagerCompactionIsDeterministic(t *testing.T) {
	build := func() models.SessionState {
		mgr := NewManager(NewInMemoryStore(), 2, nil)
		s := models.NewSessionState("s1")
		for i := uint64(1); i <= 7; i++ {
			intent := models.IntentGetQuote
			if i%2 == 0 {
				intent = models.IntentQueryPolicy
			}
			mgr.AppendTurn(&s, turn(i, intent, models.ActionRequestSlot, models.FromPolicy))
		}
		return s
	}

	a, b := build(), build()
	assert.Equal(t, a, b)
	assert.Equal(t, a.Summary.String(), b.Summary.String())
	assert.Equal(t, 5, a.Summary.CompactedTurns)
}

func TestManagerCommitCompactsOversizedHistory(t *testing.T) {
	mgr := NewManager(NewInMemoryStore(), 2, nil)
	s := models.NewSessionState("s1")
	for i := uint64(1); i <= 4; i++ {
		s.History = append(s.History, turn(i, models.IntentGetQuote, models.ActionRequestSlot, models.FromPolicy))
	}

	committed, err := mgr.Commit(context.Background(), "s1", 0, s)
	require.NoError(t, err)
	assert.Len(t, committed.History, 2)
	assert.Equal(t, 2, committed.Summary.CompactedTurns)
	assert.Len(t, s.History, 4)
}

func TestManagerEvict(t *testing.T) {
	mgr := NewManager(NewInMemoryStore(), 10, nil)
	ctx := context.Background()

	s, err := mgr.Load(ctx, "s1")
	require.NoError(t, err)
	s.MergeSlots(map[string]any{"policy_number": "ABC123456"})
	_, err = mgr.Commit(ctx, "s1", 0, s)
	require.NoError(t, err)
	require.Equal(t, 1, mgr.GetActiveSessionCount())

	require.NoError(t, mgr.Evict(ctx, "s1"))
	assert.Equal(t, 0, mgr.GetActiveSessionCount())

	fresh, err := mgr.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), fresh.Version)
	assert.Empty(t, fresh.Slots)
}

func TestNewManagerDefaultsHistoryLength(t *testing.T) {
	mgr := NewManager(NewInMemoryStore(), 0, nil)
	assert.Equal(t, DefaultHistoryMaxLength, mgr.HistoryMaxLength())
}

func TestManagerPing(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			m := NewManager(factory(t), 10, nil)
			assert.NoError(t, m.Ping(context.Background()))
		})
	}

	t.Run("redis down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, err := NewRedisStore("redis://"+mr.Addr(), time.Hour)
		require.NoError(t, err)
		defer store.Close()

		m := NewManager(store, 10, nil)
		require.NoError(t, m.Ping(context.Background()))
		mr.Close()
		assert.Error(t, m.Ping(context.Background()))
	})

	t.Run("sqlite closed", func(t *testing.T) {
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
		require.NoError(t, err)
		m := NewManager(store, 10, nil)
		require.NoError(t, m.Close())
		assert.Error(t, m.Ping(context.Background()))
	})
}
