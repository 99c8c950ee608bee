package models

import (
	"errors"
	"maps"
	"time"
)

// Intent is the tag the NLP collaborator assigns to a user turn.
type Intent string

const (
	IntentGetQuote       Intent = "GET_QUOTE"
	IntentRenewPolicy    Intent = "RENEW_POLICY"
	IntentQueryPolicy    Intent = "QUERY_POLICY"
	IntentCancelRenewal  Intent = "CANCEL_RENEWAL"
	IntentGreeting       Intent = "GREETING"
	IntentRequestSupport Intent = "REQUEST_SUPPORT"
	IntentUnknown        Intent = "UNKNOWN"
)

// ActionTag names an action the agent can take.
type ActionTag string

const (
	ActionProvideQuote      ActionTag = "PROVIDE_QUOTE"
	ActionRenewPolicy       ActionTag = "RENEW_POLICY"
	ActionShowPolicyDetails ActionTag = "SHOW_POLICY_DETAILS"
	ActionCancelRenewal     ActionTag = "CANCEL_RENEWAL"
	ActionGreet             ActionTag = "GREET"
	ActionOfferDiscount     ActionTag = "OFFER_DISCOUNT"
	ActionShareCustomerData ActionTag = "SHARE_CUSTOMER_DATA"
	ActionRequestSlot       ActionTag = "REQUEST_SLOT"
	ActionAskClarification  ActionTag = "ASK_CLARIFICATION"
	ActionEscalateToHuman   ActionTag = "ESCALATE_TO_HUMAN"
)

// Provenance records which mechanism produced a FinalAction.
type Provenance string

const (
	FromPolicy     Provenance = "FROM_POLICY"
	FromFallback   Provenance = "FROM_FALLBACK"
	FromEscalation Provenance = "FROM_ESCALATION"
)

// Percept is one normalized input event. It is never mutated after creation.
type Percept struct {
	SessionID string         `json:"session_id"`
	Sequence  uint64         `json:"sequence"`
	Intent    Intent         `json:"intent"`
	Slots     map[string]any `json:"slots,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Validate checks the fields the orchestrator relies on.
func (p Percept) Validate() error {
	if p.SessionID == "" {
		return errors.New("session_id is required")
	}
	if p.Intent == "" {
		return errors.New("intent is required")
	}
	return nil
}

// Candidate is an action proposal produced by the policy module.
type Candidate struct {
	Action     ActionTag      `json:"action"`
	Params     map[string]any `json:"params,omitempty"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source,omitempty"`
}

// Clone returns a copy whose params can be modified freely.
func (c Candidate) Clone() Candidate {
	c.Params = maps.Clone(c.Params)
	return c
}

// Rejection records why a candidate did not make it.
type Rejection struct {
	Action   ActionTag  `json:"action"`
	Rule     string     `json:"rule"`
	Reason   ReasonCode `json:"reason"`
	Severity Severity   `json:"severity"`
	Detail   string     `json:"detail,omitempty"`
}

// FinalAction is the single action emitted per decision cycle.
type FinalAction struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Action     ActionTag      `json:"action"`
	Params     map[string]any `json:"params,omitempty"`
	Provenance Provenance     `json:"provenance"`
	Rejections []Rejection    `json:"rejections,omitempty"`
	Version    uint64         `json:"version"`
	DecidedAt  time.Time      `json:"decided_at"`
}
