package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/brain/internal/config"
	"github.com/avvvet/brain/internal/handlers"
	"github.com/avvvet/brain/internal/models"
)

type deciderFunc func(ctx context.Context, p models.Percept) (models.FinalAction, error)

func (f deciderFunc) Decide(ctx context.Context, p models.Percept) (models.FinalAction, error) {
	return f(ctx, p)
}

func newTestTransport(d handlers.Decider) *NATSTransport {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handlers.NewDecisionHandler(d, models.Candidate{Action: models.ActionAskClarification}, false, logger)
	return &NATSTransport{handler: h, timeout: time.Second, logger: logger, inflight: make(chan struct{}, 4)}
}

type replies struct {
	mu   sync.Mutex
	resp []models.DecisionResponse
}

func (r *replies) respond(b []byte) error {
	var resp models.DecisionResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resp = append(r.resp, resp)
	return nil
}

const greeting = `{"percept": {"session_id": "%s", "intent": "GREETING"}}`

func TestServeRespondsWithDecision(t *testing.T) {
	nt := newTestTransport(deciderFunc(func(ctx context.Context, p models.Percept) (models.FinalAction, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return models.FinalAction{ID: "a1", SessionID: p.SessionID, Action: models.ActionGreet, Provenance: models.FromPolicy, Version: 1}, nil
	}))

	var reply []byte
	nt.serve([]byte(`{"percept": {"session_id": "s1", "intent": "GREETING"}}`), func(b []byte) error {
		reply = b
		return nil
	})

	var resp models.DecisionResponse
	require.NoError(t, json.Unmarshal(reply, &resp))
	assert.Equal(t, models.StatusOK, resp.Status)
	require.NotNil(t, resp.Action)
	assert.Equal(t, models.ActionGreet, resp.Action.Action)
}

func TestServeToleratesRespondFailure(t *testing.T) {
	nt := newTestTransport(deciderFunc(func(context.Context, models.Percept) (models.FinalAction, error) {
		return models.FinalAction{}, errors.New("unreachable")
	}))

	called := false
	assert.NotPanics(t, func() {
		nt.serve([]byte(`not json`), func([]byte) error {
			called = true
			return errors.New("no reply subject")
		})
	})
	assert.True(t, called)
}

func TestDispatchServesSessionsConcurrently(t *testing.T) {
	var arrived atomic.Int32
	bothIn := make(chan struct{})
	nt := newTestTransport(deciderFunc(func(ctx context.Context, p models.Percept) (models.FinalAction, error) {
		if arrived.Add(1) == 2 {
			close(bothIn)
		}
		select {
		case <-bothIn:
		case <-ctx.Done():
			return models.FinalAction{}, ctx.Err()
		}
		return models.FinalAction{ID: p.SessionID, SessionID: p.SessionID, Action: models.ActionGreet, Provenance: models.FromPolicy, Version: 1}, nil
	}))

	var got replies
	nt.dispatch([]byte(fmt.Sprintf(greeting, "a")), got.respond)
	nt.dispatch([]byte(fmt.Sprintf(greeting, "b")), got.respond)
	require.NoError(t, nt.Close())

	require.Len(t, got.resp, 2)
	for _, resp := range got.resp {
		assert.Equal(t, models.StatusOK, resp.Status, "a decision waited for the other to finish")
	}
}

func TestDispatchRespectsInFlightLimit(t *testing.T) {
	var current, peak atomic.Int32
	nt := newTestTransport(deciderFunc(func(_ context.Context, p models.Percept) (models.FinalAction, error) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return models.FinalAction{ID: p.SessionID, SessionID: p.SessionID, Action: models.ActionGreet, Provenance: models.FromPolicy, Version: 1}, nil
	}))
	nt.inflight = make(chan struct{}, 2)

	var got replies
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		nt.dispatch([]byte(fmt.Sprintf(greeting, id)), got.respond)
	}
	require.NoError(t, nt.Close())

	assert.Len(t, got.resp, 5)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatchAfterCloseDropsRequest(t *testing.T) {
	nt := newTestTransport(deciderFunc(func(context.Context, models.Percept) (models.FinalAction, error) {
		t.Error("closed transport must not decide")
		return models.FinalAction{}, nil
	}))
	require.NoError(t, nt.Close())

	var got replies
	nt.dispatch([]byte(fmt.Sprintf(greeting, "a")), got.respond)
	assert.Empty(t, got.resp)
}

func TestRequestTimeoutCoversAllAttempts(t *testing.T) {
	cfg := &config.Config{
		MaxCommitRetries: 3,
		PolicyTimeout:    2 * time.Second,
		StoreTimeout:     time.Second,
	}
	assert.Equal(t, 17*time.Second, requestTimeout(cfg))
}
