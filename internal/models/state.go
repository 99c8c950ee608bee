package models

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// TurnSummary is one entry of the bounded conversation history.
type TurnSummary struct {
	Sequence   uint64     `json:"sequence"`
	Intent     Intent     `json:"intent"`
	Action     ActionTag  `json:"action"`
	Provenance Provenance `json:"provenance"`
	At         time.Time  `json:"at"`
}

// RollingSummary accumulates turns that were compacted out of History.
type RollingSummary struct {
	CompactedTurns int               `json:"compacted_turns"`
	Intents        map[Intent]int    `json:"intents,omitempty"`
	Actions        map[ActionTag]int `json:"actions,omitempty"`
	Escalations    int               `json:"escalations"`
	LastSequence   uint64            `json:"last_sequence"`
}

// Absorb folds one turn into the summary.
func (r *RollingSummary) Absorb(turn TurnSummary) {
	if r.Intents == nil {
		r.Intents = make(map[Intent]int)
	}
	if r.Actions == nil {
		r.Actions = make(map[ActionTag]int)
	}
	r.CompactedTurns++
	r.Intents[turn.Intent]++
	r.Actions[turn.Action]++
	if turn.Provenance == FromEscalation {
		r.Escalations++
	}
	if turn.Sequence > r.LastSequence {
		r.LastSequence = turn.Sequence
	}
}

// String renders the summary with keys sorted so equal summaries print equally.
func (r RollingSummary) String() string {
	if r.CompactedTurns == 0 {
		return "no earlier turns"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d earlier turns; intents: ", r.CompactedTurns)
	b.WriteString(formatCounts(r.Intents))
	b.WriteString("; actions: ")
	b.WriteString(formatCounts(r.Actions))
	fmt.Fprintf(&b, "; escalations: %d", r.Escalations)
	return b.String()
}

func formatCounts[K ~string](counts map[K]int) string {
	keys := slices.Sorted(maps.Keys(counts))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, ",")
}

// SessionState is the versioned conversation memory of one session.
type SessionState struct {
	SessionID     string         `json:"session_id"`
	CurrentIntent Intent         `json:"current_intent,omitempty"`
	Slots         map[string]any `json:"slots"`
	History       []TurnSummary  `json:"history"`
	Summary       RollingSummary `json:"summary"`
	Version       uint64         `json:"version"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewSessionState returns the empty state of a session that was never committed.
func NewSessionState(sessionID string) SessionState {
	return SessionState{
		SessionID: sessionID,
		Slots:     map[string]any{},
		History:   []TurnSummary{},
	}
}

// Clone returns a deep copy.
func (s SessionState) Clone() SessionState {
	out := s
	out.Slots = maps.Clone(s.Slots)
	if out.Slots == nil {
		out.Slots = map[string]any{}
	}
	out.History = slices.Clone(s.History)
	if out.History == nil {
		out.History = []TurnSummary{}
	}
	out.Summary.Intents = maps.Clone(s.Summary.Intents)
	out.Summary.Actions = maps.Clone(s.Summary.Actions)
	return out
}

// MergeSlots copies percept slots over the remembered ones; the newest value wins.
func (s *SessionState) MergeSlots(slots map[string]any) {
	if s.Slots == nil {
		s.Slots = make(map[string]any, len(slots))
	}
	for k, v := range slots {
		s.Slots[k] = v
	}
}

// LookupSlot resolves a slot from the percept first, then from remembered state.
func LookupSlot(p Percept, s SessionState, name string) (any, bool) {
	if v, ok := p.Slots[name]; ok && !isBlank(v) {
		return v, true
	}
	if v, ok := s.Slots[name]; ok && !isBlank(v) {
		return v, true
	}
	return nil, false
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}
